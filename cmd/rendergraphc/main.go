// Command rendergraphc is a headless host for the node-graph compiler:
// it reads a scene DSL document from disk, compiles it, and writes a JSON
// description of the resulting render-graph to an output path. With
// --render-to-file it also writes each pass's WGSL module beside that
// file; with --headless a scene that fails to compile is replaced by an
// error-plane scene.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/gogpu/rendergraph"
	"github.com/gogpu/rendergraph/dsl"
)

func main() {
	var (
		headless      = flag.Bool("headless", false, "run without attaching to a GPU adapter (capability validation uses the guaranteed feature set)")
		renderToFile  = flag.Bool("render-to-file", false, "write the compiled render-graph's shader bundle and pass layout to output")
		dslPath       = flag.String("dsl-json", "", "path to the scene DSL JSON document to compile")
		outputPath    = flag.String("output", "rendergraph.json", "path to write the compiled render-graph description to")
		shaderDumpDir = flag.String("shader-dump-dir", "", "directory to write one .wgsl file per pass to")
		verbose       = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		rendergraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	if *dslPath == "" {
		fmt.Fprintln(os.Stderr, "rendergraphc: -dsl-json is required")
		flag.Usage()
		os.Exit(2)
	}

	scene, err := loadScene(*dslPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rendergraphc: %v\n", err)
		os.Exit(1)
	}

	var opts []rendergraph.CompileOption
	if *shaderDumpDir != "" {
		opts = append(opts, rendergraph.WithShaderDumpDir(*shaderDumpDir))
	}

	// --headless implies no GPU adapter is available to query; capability
	// validation falls back to the conservative guaranteed feature set.
	result, compileErr := rendergraph.Compile(scene, nil, nil, opts...)
	if compileErr != nil {
		fmt.Fprintf(os.Stderr, "rendergraphc: compile failed: %v\n", compileErr)
		if !*headless {
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "rendergraphc: substituting an error plane")
		result, compileErr = rendergraph.Compile(rendergraph.ErrorPlaneScene(512, 512, [4]float64{1, 0, 1, 1}), nil, nil, opts...)
		if compileErr != nil {
			fmt.Fprintf(os.Stderr, "rendergraphc: error plane also failed to compile: %v\n", compileErr)
			os.Exit(1)
		}
	}

	if err := writeResult(*outputPath, result, *renderToFile); err != nil {
		fmt.Fprintf(os.Stderr, "rendergraphc: %v\n", err)
		os.Exit(1)
	}
}

func loadScene(path string) (*dsl.Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var scene dsl.Scene
	if err := json.Unmarshal(data, &scene); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &scene, nil
}

// summary is the on-disk shape written to --output: enough to inspect or
// drive a downstream host without re-running the compiler.
type summary struct {
	Signature   string   `json:"signature"`
	Resolution  [2]uint32 `json:"resolution"`
	Output      string   `json:"outputTexture"`
	PassNames   []string `json:"passes"`
	TextureNames []string `json:"textures"`
}

func writeResult(path string, result *rendergraph.Result, includeShaders bool) error {
	s := summary{
		Signature:  result.Signature.String(),
		Resolution: result.Resolution,
		Output:     result.Output,
	}
	for _, p := range result.Graph.Passes {
		s.PassNames = append(s.PassNames, p.Name)
	}
	for _, t := range result.Graph.Textures {
		s.TextureNames = append(s.TextureNames, t.Name)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	if includeShaders {
		for _, p := range result.Graph.Passes {
			shaderPath := path + "." + p.Name + ".wgsl"
			if err := os.WriteFile(shaderPath, []byte(p.ShaderModule), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", shaderPath, err)
			}
		}
	}
	return nil
}
