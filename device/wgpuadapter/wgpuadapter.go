// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wgpuadapter is a reference device.Adapter backed by the real
// gogpu/wgpu core API: it requests a device from a physical adapter and
// answers format-capability queries from a conservative guaranteed
// feature set. It does not query the adapter for its own per-format
// capabilities.
package wgpuadapter

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/core"
	"github.com/gogpu/wgpu/types"

	"github.com/gogpu/rendergraph/device"
)

// guaranteedSampleCounts is the sample-count set every wgpu-class device
// is required to support for a renderable, non-storage format.
var guaranteedSampleCounts = []uint32{1, 4}

// guaranteedFilterable and guaranteedBlendable list formats the WebGPU
// spec guarantees are filterable/blendable without an extension.
var guaranteedFilterable = map[gputypes.TextureFormat]bool{
	gputypes.TextureFormatRGBA8Unorm:     true,
	gputypes.TextureFormatRGBA8UnormSRGB: true,
	gputypes.TextureFormatBGRA8Unorm:     true,
	gputypes.TextureFormatBGRA8UnormSRGB: true,
}

var guaranteedBlendable = map[gputypes.TextureFormat]bool{
	gputypes.TextureFormatRGBA8Unorm:     true,
	gputypes.TextureFormatRGBA8UnormSRGB: true,
	gputypes.TextureFormatBGRA8Unorm:     true,
	gputypes.TextureFormatBGRA8UnormSRGB: true,
}

// Info describes the selected physical GPU, surfaced for logging.
type Info struct {
	Name       string
	Vendor     string
	DeviceType types.DeviceType
	Backend    types.Backend
	Driver     string
}

func (i *Info) String() string {
	return fmt.Sprintf("%s (%s, %s)", i.Name, i.DeviceType, i.Backend)
}

// Adapter is a device.Adapter backed by a live wgpu adapter/device pair.
type Adapter struct {
	adapterID core.AdapterID
	deviceID  core.DeviceID
	info      *Info

	// extendedFormats holds per-format capabilities that take precedence
	// over the guaranteed feature set. Open leaves it empty, so every
	// query falls back to the guaranteed feature set.
	extendedFormats map[gputypes.TextureFormat]device.FormatFeatures
}

// Open requests a device from adapterID and wraps it as a device.Adapter.
func Open(adapterID core.AdapterID, label string) (*Adapter, error) {
	info, err := getInfo(adapterID)
	if err != nil {
		return nil, fmt.Errorf("wgpuadapter: %w", err)
	}
	logInfo(info)

	deviceID, err := createDevice(adapterID, label)
	if err != nil {
		return nil, fmt.Errorf("wgpuadapter: %w", err)
	}

	return &Adapter{adapterID: adapterID, deviceID: deviceID, info: info}, nil
}

// Close releases the device and adapter.
func (a *Adapter) Close() error {
	if err := releaseDevice(a.deviceID); err != nil {
		return err
	}
	return releaseAdapter(a.adapterID)
}

// Info returns the selected GPU's description.
func (a *Adapter) Info() *Info { return a.info }

// DeviceID returns the underlying wgpu device handle, for a host that
// wires the resident render-graph's resource creation to this adapter.
func (a *Adapter) DeviceID() core.DeviceID { return a.deviceID }

// FormatFeatures implements device.Adapter.
func (a *Adapter) FormatFeatures(format gputypes.TextureFormat) (device.FormatFeatures, bool) {
	if f, ok := a.extendedFormats[format]; ok {
		return f, true
	}
	filterable, known := guaranteedFilterable[format]
	if !known {
		return device.FormatFeatures{}, false
	}
	return device.FormatFeatures{
		Filterable:   filterable,
		Blendable:    guaranteedBlendable[format],
		SampleCounts: guaranteedSampleCounts,
	}, true
}

// Capabilities implements device.Adapter.
func (a *Adapter) Capabilities() device.Capabilities {
	limits, err := core.GetDeviceLimits(a.deviceID)
	if err != nil {
		return device.Capabilities{}
	}
	return device.Capabilities{
		MaxTextureSize:  limits.MaxTextureDimension2D,
		MaxBindGroups:   limits.MaxBindGroups,
		SupportsCompute: true,
		VendorName:      a.info.Vendor,
		DeviceName:      a.info.Name,
	}
}

func getInfo(adapterID core.AdapterID) (*Info, error) {
	info, err := core.GetAdapterInfo(adapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to get adapter info: %w", err)
	}
	return &Info{
		Name:       info.Name,
		Vendor:     info.Vendor,
		DeviceType: info.DeviceType,
		Backend:    info.Backend,
		Driver:     info.Driver,
	}, nil
}

func logInfo(info *Info) {
	attrs := []any{"name", info.Name, "backend", info.Backend, "deviceType", info.DeviceType}
	if info.Driver != "" {
		attrs = append(attrs, "driver", info.Driver)
	}
	slog.Default().Debug("wgpuadapter: selected GPU", attrs...)
}

func createDevice(adapterID core.AdapterID, label string) (core.DeviceID, error) {
	desc := &types.DeviceDescriptor{
		Label:            label,
		RequiredFeatures: nil,
		RequiredLimits:   types.DefaultLimits(),
	}
	deviceID, err := core.RequestDevice(adapterID, desc)
	if err != nil {
		return core.DeviceID{}, fmt.Errorf("failed to create device: %w", err)
	}
	return deviceID, nil
}

func releaseDevice(deviceID core.DeviceID) error {
	if deviceID.IsZero() {
		return nil
	}
	if err := core.DeviceDrop(deviceID); err != nil {
		return fmt.Errorf("failed to release device: %w", err)
	}
	return nil
}

func releaseAdapter(adapterID core.AdapterID) error {
	if adapterID.IsZero() {
		return nil
	}
	if err := core.AdapterDrop(adapterID); err != nil {
		return fmt.Errorf("failed to release adapter: %w", err)
	}
	return nil
}

var _ device.Adapter = (*Adapter)(nil)
