package rendergraph

// PresentationMode names a color encoding for the destination surface.
// Compile accepts the option but does not read it: in every mode the
// final pass writes color values unmodified, with no gamma encoding.
type PresentationMode int

const (
	// PresentationDirect names unmodified color output.
	PresentationDirect PresentationMode = iota
	// PresentationSDRGammaEncode names SDR sRGB gamma encoding.
	PresentationSDRGammaEncode
	// PresentationHDRGammaEncode names an HDR transfer function.
	PresentationHDRGammaEncode
)

// CompileOption configures a Compile call.
//
// Example:
//
//	result, err := rendergraph.Compile(scene, adapter, assets,
//		rendergraph.WithPresentationMode(rendergraph.PresentationSDRGammaEncode),
//		rendergraph.WithShaderDumpDir("./shaders"))
type CompileOption func(*compileOptions)

// compileOptions holds the build options enumerated in the design notes:
// presentation mode, debug shader dump directory, and whether the output
// resolution should follow the host window. No implicit globals are read
// here; every option must be passed explicitly.
type compileOptions struct {
	presentationMode      PresentationMode
	shaderDumpDir         string
	followSceneResolution bool
}

func defaultCompileOptions() compileOptions {
	return compileOptions{
		presentationMode:      PresentationDirect,
		shaderDumpDir:         "",
		followSceneResolution: false,
	}
}

// WithPresentationMode records m in the compile options. Compile does
// not read it; see PresentationMode.
func WithPresentationMode(m PresentationMode) CompileOption {
	return func(o *compileOptions) {
		o.presentationMode = m
	}
}

// WithShaderDumpDir enables writing one .wgsl file per pass per build to
// dir. An empty string (the default) disables dumping.
func WithShaderDumpDir(dir string) CompileOption {
	return func(o *compileOptions) {
		o.shaderDumpDir = dir
	}
}

// WithFollowSceneResolution records the follow-host-window flag in the
// compile options. Compile does not read it: the output resolution is
// always the declared size of the final pass's target texture.
func WithFollowSceneResolution(follow bool) CompileOption {
	return func(o *compileOptions) {
		o.followSceneResolution = follow
	}
}
