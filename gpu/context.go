// Package gpu offloads heat-map resampling to WebGPU. It is an optional
// backend: construction fails cleanly on machines without an adapter and
// the pool falls back to the CPU path, so callers never need build tags.
package gpu

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

// Context holds the process-wide WebGPU handles. All resamplers share one
// device and queue.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	once     sync.Once
}

var ctx Context

// GetContext returns the singleton context, initializing WebGPU on first
// use. Adapter selection prefers high-performance hardware and falls back
// to whatever the platform offers.
func GetContext() (*Context, error) {
	var initErr error
	ctx.once.Do(func() {
		ctx.Instance = wgpu.CreateInstance(nil)
		if ctx.Instance == nil {
			initErr = fmt.Errorf("create webgpu instance failed")
			return
		}

		tryAdapter := func(opts *wgpu.RequestAdapterOptions) {
			if ctx.Adapter != nil {
				return
			}
			adapter, err := ctx.Instance.RequestAdapter(opts)
			if err != nil || adapter == nil {
				initErr = err
				return
			}
			ctx.Adapter = adapter
			initErr = nil
		}
		tryAdapter(&wgpu.RequestAdapterOptions{PowerPreference: wgpu.PowerPreferenceHighPerformance})
		tryAdapter(&wgpu.RequestAdapterOptions{PowerPreference: wgpu.PowerPreferenceLowPower})
		tryAdapter(nil)
		if ctx.Adapter == nil {
			initErr = fmt.Errorf("no webgpu adapter available: %v", initErr)
			return
		}

		info := ctx.Adapter.GetInfo()
		slog.Debug("gpu: using adapter", "name", info.Name, "vendor", info.VendorName)

		var err error
		ctx.Device, err = ctx.Adapter.RequestDevice(nil)
		if err != nil {
			initErr = err
			return
		}
		ctx.Queue = ctx.Device.GetQueue()
	})

	if initErr != nil {
		return nil, initErr
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, fmt.Errorf("webgpu device or queue not initialized")
	}
	return &ctx, nil
}
