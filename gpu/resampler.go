package gpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/daam/grid"
)

// ResamplerSpec fixes one resampling shape. Sizes are baked into the
// shader as constants, so one Resampler serves exactly one src/dst pair.
type ResamplerSpec struct {
	SrcH, SrcW int
	DstH, DstW int
	Mode       grid.ResizeMode
}

// Resampler is a compiled compute pipeline that resizes float32 grids on
// the device using the same half-pixel-center sampling as the CPU path.
type Resampler struct {
	Spec ResamplerSpec

	pipeline  *wgpu.ComputePipeline
	bindGroup *wgpu.BindGroup

	InputBuffer  *wgpu.Buffer
	OutputBuffer *wgpu.Buffer
}

// NewResampler allocates buffers and compiles the pipeline for the spec.
func NewResampler(spec ResamplerSpec) (*Resampler, error) {
	if spec.SrcH <= 0 || spec.SrcW <= 0 || spec.DstH <= 0 || spec.DstW <= 0 {
		return nil, fmt.Errorf("resampler: invalid spec %+v", spec)
	}
	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	r := &Resampler{Spec: spec}
	if err := r.allocateBuffers(c); err != nil {
		r.Cleanup()
		return nil, err
	}
	if err := r.compile(c); err != nil {
		r.Cleanup()
		return nil, err
	}
	if err := r.createBindGroup(c); err != nil {
		r.Cleanup()
		return nil, err
	}
	return r, nil
}

func (r *Resampler) allocateBuffers(c *Context) error {
	var err error
	r.InputBuffer, err = c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Resampler_In",
		Size:  uint64(r.Spec.SrcH * r.Spec.SrcW * 4),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return err
	}
	r.OutputBuffer, err = c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Resampler_Out",
		Size:  uint64(r.Spec.DstH * r.Spec.DstW * 4),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	return err
}

// GenerateShader emits the WGSL for the spec's mode with every size and
// scale baked in as a constant.
func (r *Resampler) GenerateShader() string {
	scaleY := float32(r.Spec.SrcH) / float32(r.Spec.DstH)
	scaleX := float32(r.Spec.SrcW) / float32(r.Spec.DstW)

	header := fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> src : array<f32>;
		@group(0) @binding(1) var<storage, read_write> dst : array<f32>;

		const SRC_H: u32 = %du;
		const SRC_W: u32 = %du;
		const DST_H: u32 = %du;
		const DST_W: u32 = %du;
		const SCALE_Y: f32 = %f;
		const SCALE_X: f32 = %f;

		fn sample(yy: i32, xx: i32) -> f32 {
			let cy = clamp(yy, 0, i32(SRC_H) - 1);
			let cx = clamp(xx, 0, i32(SRC_W) - 1);
			return src[u32(cy) * SRC_W + u32(cx)];
		}
	`, r.Spec.SrcH, r.Spec.SrcW, r.Spec.DstH, r.Spec.DstW, scaleY, scaleX)

	switch r.Spec.Mode {
	case grid.Nearest:
		return header + `
		@compute @workgroup_size(16, 16)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let x = gid.x;
			let y = gid.y;
			if (x >= DST_W || y >= DST_H) { return; }
			let sy = i32(floor((f32(y) + 0.5) * SCALE_Y));
			let sx = i32(floor((f32(x) + 0.5) * SCALE_X));
			dst[y * DST_W + x] = sample(sy, sx);
		}
	`
	case grid.Bicubic:
		return header + `
		fn cubic(t: f32) -> f32 {
			let a = -0.75;
			let at = abs(t);
			if (at <= 1.0) {
				return ((a + 2.0) * at - (a + 3.0)) * at * at + 1.0;
			}
			if (at < 2.0) {
				return a * (((at - 5.0) * at + 8.0) * at - 4.0);
			}
			return 0.0;
		}

		@compute @workgroup_size(16, 16)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let x = gid.x;
			let y = gid.y;
			if (x >= DST_W || y >= DST_H) { return; }
			let srcY = (f32(y) + 0.5) * SCALE_Y - 0.5;
			let srcX = (f32(x) + 0.5) * SCALE_X - 0.5;
			let y0 = i32(floor(srcY));
			let x0 = i32(floor(srcX));
			let fy = srcY - f32(y0);
			let fx = srcX - f32(x0);

			var acc: f32 = 0.0;
			for (var j: i32 = -1; j <= 2; j++) {
				let wy = cubic(f32(j) - fy);
				var rowAcc: f32 = 0.0;
				for (var i: i32 = -1; i <= 2; i++) {
					rowAcc += cubic(f32(i) - fx) * sample(y0 + j, x0 + i);
				}
				acc += wy * rowAcc;
			}
			dst[y * DST_W + x] = acc;
		}
	`
	default: // bilinear
		return header + `
		@compute @workgroup_size(16, 16)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let x = gid.x;
			let y = gid.y;
			if (x >= DST_W || y >= DST_H) { return; }
			let srcY = (f32(y) + 0.5) * SCALE_Y - 0.5;
			let srcX = (f32(x) + 0.5) * SCALE_X - 0.5;
			let y0 = i32(floor(srcY));
			let x0 = i32(floor(srcX));
			let fy = srcY - f32(y0);
			let fx = srcX - f32(x0);

			let v00 = sample(y0, x0);
			let v01 = sample(y0, x0 + 1);
			let v10 = sample(y0 + 1, x0);
			let v11 = sample(y0 + 1, x0 + 1);
			let top = v00 + fx * (v01 - v00);
			let bot = v10 + fx * (v11 - v10);
			dst[y * DST_W + x] = top + fy * (bot - top);
		}
	`
	}
}

func (r *Resampler) compile(c *Context) error {
	module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Resampler_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: r.GenerateShader()},
	})
	if err != nil {
		return err
	}
	r.pipeline, err = c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   "Resampler_Pipe",
		Compute: wgpu.ProgrammableStageDescriptor{Module: module, EntryPoint: "main"},
	})
	return err
}

func (r *Resampler) createBindGroup(c *Context) error {
	var err error
	r.bindGroup, err = c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Resampler_Bind",
		Layout: r.pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: r.InputBuffer, Size: r.InputBuffer.GetSize()},
			{Binding: 1, Buffer: r.OutputBuffer, Size: r.OutputBuffer.GetSize()},
		},
	})
	return err
}

// Resample uploads g, runs the pipeline and reads the result back. The
// grid must match the spec's source size.
func (r *Resampler) Resample(g grid.Grid) (grid.Grid, error) {
	if g.H != r.Spec.SrcH || g.W != r.Spec.SrcW {
		return grid.Grid{}, fmt.Errorf("resampler: grid %dx%d does not match spec %dx%d",
			g.H, g.W, r.Spec.SrcH, r.Spec.SrcW)
	}
	c, err := GetContext()
	if err != nil {
		return grid.Grid{}, err
	}

	c.Queue.WriteBuffer(r.InputBuffer, 0, wgpu.ToBytes(g.Data))

	encoder, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return grid.Grid{}, fmt.Errorf("create command encoder: %w", err)
	}
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(r.pipeline)
	pass.SetBindGroup(0, r.bindGroup, nil)
	pass.DispatchWorkgroups(uint32((r.Spec.DstW+15)/16), uint32((r.Spec.DstH+15)/16), 1)
	pass.End()
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return grid.Grid{}, fmt.Errorf("finish command encoder: %w", err)
	}
	c.Queue.Submit(cmd)

	data, err := ReadBuffer(r.OutputBuffer, r.Spec.DstH*r.Spec.DstW)
	if err != nil {
		return grid.Grid{}, err
	}
	return grid.FromData(r.Spec.DstH, r.Spec.DstW, data)
}

// Cleanup releases the pipeline and buffers.
func (r *Resampler) Cleanup() {
	if r.InputBuffer != nil {
		r.InputBuffer.Destroy()
	}
	if r.OutputBuffer != nil {
		r.OutputBuffer.Destroy()
	}
	if r.pipeline != nil {
		r.pipeline.Release()
	}
	if r.bindGroup != nil {
		r.bindGroup.Release()
	}
}
