// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package device defines the GPU device/adapter contract this compiler
// consumes but never owns: a wgpu-shaped handle to Device/Queue/Adapter,
// texture and buffer descriptors, and the per-format feature query used
// by capability validation. Dispatch, pipeline execution, and window
// ownership all live on the other side of this interface.
package device

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// Handle provides GPU device access from the host application.
//
// The compiler RECEIVES a Handle from its caller; it never creates one.
// Handle is an alias for gpucontext.DeviceProvider, giving this module's
// own name to the interface while staying compatible with the broader
// gpucontext ecosystem.
type Handle = gpucontext.DeviceProvider

// TextureUsage is a bitmask of how a declared texture will be used.
// Flags combine with bitwise OR; capability validation accumulates the
// union of usages demanded by every pass that references a texture.
type TextureUsage uint32

const (
	TextureUsageCopySrc TextureUsage = 1 << iota
	TextureUsageCopyDst
	TextureUsageTextureBinding
	TextureUsageStorageBinding
	TextureUsageRenderAttachment
)

// BufferUsage is a bitmask of how a declared buffer will be used.
type BufferUsage uint32

const (
	BufferUsageMapRead BufferUsage = 1 << iota
	BufferUsageMapWrite
	BufferUsageCopySrc
	BufferUsageCopyDst
	BufferUsageIndex
	BufferUsageVertex
	BufferUsageUniform
	BufferUsageStorage
)

// TextureDescriptor describes a texture this compiler wants allocated.
// Mirrors the WebGPU GPUTextureDescriptor shape.
type TextureDescriptor struct {
	Label         string
	Width         uint32
	Height        uint32
	MipLevelCount uint32
	SampleCount   uint32
	Format        gputypes.TextureFormat
	Usage         TextureUsage
}

// DefaultTextureDescriptor returns sensible defaults for a fullscreen
// render/sample texture; only Width, Height, and Format typically need
// overriding.
func DefaultTextureDescriptor(width, height uint32, format gputypes.TextureFormat) TextureDescriptor {
	return TextureDescriptor{
		Width:         width,
		Height:        height,
		MipLevelCount: 1,
		SampleCount:   1,
		Format:        format,
		Usage:         TextureUsageTextureBinding | TextureUsageRenderAttachment,
	}
}

// BufferDescriptor describes a buffer this compiler wants allocated,
// either sized (zero-initialised) or seeded with initial bytes.
type BufferDescriptor struct {
	Label       string
	Size        uint64
	InitialData []byte
	Usage       BufferUsage
}

// FormatFeatures reports what a device/adapter combination supports for
// one texture format: which sample counts are legal, and whether the
// format may be sampled (FILTERABLE) or used as a blend target
// (BLENDABLE). Capability validation (§4.9) consults this per texture.
type FormatFeatures struct {
	Filterable   bool
	Blendable    bool
	SampleCounts []uint32
}

// SupportsSampleCount reports whether count is among the format's
// supported sample counts.
func (f FormatFeatures) SupportsSampleCount(count uint32) bool {
	for _, c := range f.SampleCounts {
		if c == count {
			return true
		}
	}
	return false
}

// BestSampleCountAtMost returns the largest supported sample count that
// is <= requested, and ok=false if none qualifies (not even 1).
func (f FormatFeatures) BestSampleCountAtMost(requested uint32) (uint32, bool) {
	best := uint32(0)
	found := false
	for _, c := range f.SampleCounts {
		if c <= requested && c > best {
			best = c
			found = true
		}
	}
	return best, found
}

// Capabilities describes a GPU device's coarse-grained limits, queried
// once per compile to bound resource allocation decisions.
type Capabilities struct {
	MaxTextureSize          uint32
	MaxBindGroups            uint32
	SupportsCompute          bool
	SupportsStorageTextures  bool
	VendorName               string
	DeviceName               string
}

// Adapter is the capability-query surface the compiler consults: per
// format feature support, and coarse device capabilities. It does not
// expose resource creation — resource creation happens in the resident
// render-graph container (package rendergraphir), which a host wires to
// its own GPU device after a successful compile.
type Adapter interface {
	// FormatFeatures reports the supported sample counts and
	// filterable/blendable flags for format. ok=false if the format is
	// not supported at all by this adapter.
	FormatFeatures(format gputypes.TextureFormat) (features FormatFeatures, ok bool)

	// Capabilities reports the adapter's coarse device limits.
	Capabilities() Capabilities
}

// NullHandle is a Handle that provides nil implementations, for
// CPU-only compiles (e.g. error-plane fallback dry runs) where no GPU
// is available.
type NullHandle struct{}

func (NullHandle) Device() gpucontext.Device   { return nil }
func (NullHandle) Queue() gpucontext.Queue     { return nil }
func (NullHandle) Adapter() gpucontext.Adapter { return nil }
func (NullHandle) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatUndefined
}

var _ Handle = NullHandle{}
