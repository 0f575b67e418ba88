package gpu

import (
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

const defaultMaxWorkgroups = 65535

// convShape is everything baked into a compiled conv1d shader.
type convShape struct {
	InChannels, OutChannels, KernelSize, Padding, SeqLen int
}

func (s convShape) outLen() int {
	return s.SeqLen + 2*s.Padding - s.KernelSize + 1
}

// Conv1DAccelerator runs batched stride-1 Conv1D forward passes on the GPU.
// Pipelines are compiled once per shape and cached; buffers are allocated
// per call. It is safe for concurrent use.
type Conv1DAccelerator struct {
	ctx       *Context
	workgroup uint32
	maxGroups uint32

	mu        sync.Mutex
	pipelines map[convShape]*wgpu.ComputePipeline
}

// NewConv1DAccelerator binds to the shared WebGPU context.
func NewConv1DAccelerator() (*Conv1DAccelerator, error) {
	c, err := GetContext()
	if err != nil {
		return nil, fmt.Errorf("gpu conv1d: %w", err)
	}
	limits := c.Report().Limits
	return &Conv1DAccelerator{
		ctx:       c,
		workgroup: limits.workgroup(),
		maxGroups: limits.maxGroups(),
		pipelines: make(map[convShape]*wgpu.ComputePipeline),
	}, nil
}

// Conv1DForward computes out[b][o][t] = sum over c,k of
// w[o][c][k] * x[b][c][t+k-padding] with zero padding, without bias.
func (a *Conv1DAccelerator) Conv1DForward(input, weights []float32, batch, inChannels, outChannels, seqLen, kernelSize, padding int) ([]float32, error) {
	shape := convShape{InChannels: inChannels, OutChannels: outChannels, KernelSize: kernelSize, Padding: padding, SeqLen: seqLen}
	outLen := shape.outLen()
	if outLen <= 0 || batch <= 0 {
		return nil, fmt.Errorf("gpu conv1d: empty output for shape %+v batch %d", shape, batch)
	}
	if len(input) != batch*inChannels*seqLen || len(weights) != outChannels*inChannels*kernelSize {
		return nil, fmt.Errorf("gpu conv1d: got %d inputs and %d weights for shape %+v batch %d", len(input), len(weights), shape, batch)
	}
	total := batch * outChannels * outLen

	pipeline, err := a.pipeline(shape)
	if err != nil {
		return nil, err
	}
	dev := a.ctx.Device

	inBuf, err := NewFloatBuffer(a.ctx, "conv1d_in", input, wgpu.BufferUsageStorage)
	if err != nil {
		return nil, err
	}
	defer inBuf.Destroy()
	wBuf, err := NewFloatBuffer(a.ctx, "conv1d_w", weights, wgpu.BufferUsageStorage)
	if err != nil {
		return nil, err
	}
	defer wBuf.Destroy()
	outBuf, err := NewOutputBuffer(a.ctx, "conv1d_out", total)
	if err != nil {
		return nil, err
	}
	defer outBuf.Destroy()

	bg, err := dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "conv1d_bind",
		Layout: pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: inBuf, Size: inBuf.GetSize()},
			{Binding: 1, Buffer: wBuf, Size: wBuf.GetSize()},
			{Binding: 2, Buffer: outBuf, Size: outBuf.GetSize()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu conv1d bind group: %w", err)
	}
	defer bg.Release()

	enc, err := dev.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("gpu conv1d encoder: %w", err)
	}
	gx, gy := dispatchSize(total, a.workgroup, a.maxGroups)
	pass := enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: "conv1d_pass"})
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroups(gx, gy, 1)
	pass.End()
	cb, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return nil, fmt.Errorf("gpu conv1d finish: %w", err)
	}
	a.ctx.Queue.Submit(cb)
	cb.Release()

	return ReadBuffer(a.ctx, outBuf, total)
}

// dispatchSize spreads the workgroups over two dimensions once the first
// exceeds the per-dimension limit.
func dispatchSize(total int, workgroup, maxGroups uint32) (uint32, uint32) {
	wg, limit := int(workgroup), int(maxGroups)
	groups := (total + wg - 1) / wg
	if groups <= limit {
		return uint32(groups), 1
	}
	return maxGroups, uint32((groups + limit - 1) / limit)
}

func (a *Conv1DAccelerator) pipeline(shape convShape) (*wgpu.ComputePipeline, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pipelines[shape]; ok {
		return p, nil
	}
	mod, err := a.ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "conv1d_shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: conv1DShader(shape, a.workgroup)},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu conv1d shader: %w", err)
	}
	defer mod.Release()
	p, err := a.ctx.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   "conv1d_pipe",
		Compute: wgpu.ProgrammableStageDescriptor{Module: mod, EntryPoint: "main"},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu conv1d pipeline: %w", err)
	}
	a.pipelines[shape] = p
	return p, nil
}

// Report describes the device the accelerator runs on.
func (a *Conv1DAccelerator) Report() Report {
	rep := a.ctx.Report()
	rep.Workgroup = a.workgroup
	return rep
}

// Close releases every cached pipeline.
func (a *Conv1DAccelerator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, p := range a.pipelines {
		p.Release()
		delete(a.pipelines, k)
	}
}

// conv1DShader generates the batched kernel. Layouts match the CPU tensors:
// input[b][c][t], weights[o][c][k], output[b][o][t].
func conv1DShader(s convShape, workgroup uint32) string {
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> input : array<f32>;
		@group(0) @binding(1) var<storage, read> weights : array<f32>;
		@group(0) @binding(2) var<storage, read_write> output : array<f32>;

		const SEQ_LEN: u32 = %du;
		const IN_CH: u32 = %du;
		const OUT_CH: u32 = %du;
		const KERNEL_SIZE: u32 = %du;
		const PADDING: u32 = %du;
		const OUT_LEN: u32 = %du;

		@compute @workgroup_size(%d)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>,
		        @builtin(num_workgroups) nwg: vec3<u32>) {
			let idx = gid.y * nwg.x * %du + gid.x;
			if (idx >= arrayLength(&output)) { return; }

			let b = idx / (OUT_CH * OUT_LEN);
			let rem = idx %% (OUT_CH * OUT_LEN);
			let out_c = rem / OUT_LEN;
			let out_pos = rem %% OUT_LEN;

			var sum: f32 = 0.0;
			for (var k: u32 = 0u; k < KERNEL_SIZE; k++) {
				let in_pos_signed = i32(out_pos + k) - i32(PADDING);
				if (in_pos_signed >= 0 && u32(in_pos_signed) < SEQ_LEN) {
					let in_pos = u32(in_pos_signed);
					for (var in_c: u32 = 0u; in_c < IN_CH; in_c++) {
						let w_idx = (out_c * IN_CH + in_c) * KERNEL_SIZE + k;
						let i_idx = (b * IN_CH + in_c) * SEQ_LEN + in_pos;
						sum += input[i_idx] * weights[w_idx];
					}
				}
			}
			output[idx] = sum;
		}
	`, s.SeqLen, s.InChannels, s.OutChannels, s.KernelSize, s.Padding, s.outLen(), workgroup, workgroup)
}
