package device

import (
	"testing"

	"github.com/gogpu/gputypes"
)

func TestDefaultTextureDescriptor(t *testing.T) {
	d := DefaultTextureDescriptor(64, 32, gputypes.TextureFormatRGBA8Unorm)
	if d.Width != 64 || d.Height != 32 {
		t.Errorf("got %dx%d, want 64x32", d.Width, d.Height)
	}
	if d.MipLevelCount != 1 || d.SampleCount != 1 {
		t.Errorf("expected mip=1 sample=1, got mip=%d sample=%d", d.MipLevelCount, d.SampleCount)
	}
	want := TextureUsageTextureBinding | TextureUsageRenderAttachment
	if d.Usage != want {
		t.Errorf("Usage = %d, want %d", d.Usage, want)
	}
}

func TestFormatFeatures_SupportsSampleCount(t *testing.T) {
	f := FormatFeatures{SampleCounts: []uint32{1, 4}}
	if !f.SupportsSampleCount(4) {
		t.Error("expected 4 to be supported")
	}
	if f.SupportsSampleCount(8) {
		t.Error("8 should not be supported")
	}
}

func TestFormatFeatures_BestSampleCountAtMost_Downgrades(t *testing.T) {
	f := FormatFeatures{SampleCounts: []uint32{1, 2}}
	got, ok := f.BestSampleCountAtMost(4)
	if !ok || got != 2 {
		t.Errorf("BestSampleCountAtMost(4) = (%d, %v), want (2, true)", got, ok)
	}
}

func TestFormatFeatures_BestSampleCountAtMost_ExactMatch(t *testing.T) {
	f := FormatFeatures{SampleCounts: []uint32{1, 2, 4, 8}}
	got, ok := f.BestSampleCountAtMost(4)
	if !ok || got != 4 {
		t.Errorf("BestSampleCountAtMost(4) = (%d, %v), want (4, true)", got, ok)
	}
}

func TestFormatFeatures_BestSampleCountAtMost_NoneQualify(t *testing.T) {
	f := FormatFeatures{SampleCounts: []uint32{2, 4}}
	_, ok := f.BestSampleCountAtMost(1)
	if ok {
		t.Error("expected no sample count <= 1 to qualify when minimum supported is 2")
	}
}

func TestNullHandle_SurfaceFormatUndefined(t *testing.T) {
	var h NullHandle
	if h.SurfaceFormat() != gputypes.TextureFormatUndefined {
		t.Error("NullHandle.SurfaceFormat() should be undefined")
	}
	if h.Device() != nil || h.Queue() != nil || h.Adapter() != nil {
		t.Error("NullHandle should return nil for Device/Queue/Adapter")
	}
}
