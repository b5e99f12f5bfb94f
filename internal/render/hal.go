package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/1broseidon/vidwall/internal/colorspace"
	"github.com/1broseidon/vidwall/internal/decode"
	"github.com/1broseidon/vidwall/internal/logging"
	"github.com/1broseidon/vidwall/internal/platform"
)

// gpuTimeout bounds every wait on GPU completion.
const gpuTimeout = 5 * time.Second

// pollInterval is how often a wait re-checks the completed submission index.
const pollInterval = 200 * time.Microsecond

var errGPUWait = errors.New("gpu did not finish in time")

// instanceFactory creates HAL instances; hal.Backend satisfies it.
type instanceFactory interface {
	CreateInstance(desc *hal.InstanceDescriptor) (hal.Instance, error)
}

// halBackend renders through a wgpu HAL device. The device, queue and
// compute pipeline are shared by every output.
type halBackend struct {
	name    string
	api     gputypes.Backend
	factory instanceFactory
	logger  *slog.Logger

	mu       sync.Mutex
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	adapter  string

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

func newHALBackend(name string, api gputypes.Backend, factory instanceFactory, logger *slog.Logger) *halBackend {
	return &halBackend{name: name, api: api, factory: factory, logger: logging.OrDiscard(logger)}
}

func (b *halBackend) Name() string { return b.name }

// Adapter is the name of the selected GPU, empty before Open.
func (b *halBackend) Adapter() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.adapter
}

func (b *halBackend) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device != nil {
		return nil
	}

	factory := b.factory
	if factory == nil {
		be, ok := hal.GetBackend(b.api)
		if !ok {
			return fmt.Errorf("%w: %s", ErrBackendNotAvailable, b.name)
		}
		factory = be
	}
	instance, err := factory.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("%s: create instance: %w", b.name, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return fmt.Errorf("%w: %s: no GPU adapters found", ErrBackendNotAvailable, b.name)
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return fmt.Errorf("%s: open device: %w", b.name, err)
	}
	b.instance = instance
	b.device = openDev.Device
	b.queue = openDev.Queue
	b.adapter = selected.Info.Name

	if err := b.createPipeline(); err != nil {
		b.closeLocked()
		return fmt.Errorf("%s: create pipeline: %w", b.name, err)
	}
	b.logger.Info("render backend ready", "backend", b.name, "adapter", b.adapter)
	return nil
}

func (b *halBackend) createPipeline() error {
	shader, err := b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "composite",
		Source: hal.ShaderSource{WGSL: compositeShader},
	})
	if err != nil {
		return fmt.Errorf("compile composite shader: %w", err)
	}
	b.shader = shader

	bindLayout, err := b.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "composite_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	b.bindLayout = bindLayout

	pipeLayout, err := b.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "composite_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{b.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	b.pipeLayout = pipeLayout

	pipeline, err := b.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: "composite_pipeline", Layout: b.pipeLayout,
		Compute: hal.ComputeState{Module: b.shader, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	b.pipeline = pipeline
	return nil
}

func (b *halBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
}

func (b *halBackend) closeLocked() {
	if b.device != nil {
		if b.pipeline != nil {
			b.device.DestroyComputePipeline(b.pipeline)
		}
		if b.pipeLayout != nil {
			b.device.DestroyPipelineLayout(b.pipeLayout)
		}
		if b.bindLayout != nil {
			b.device.DestroyBindGroupLayout(b.bindLayout)
		}
		if b.shader != nil {
			b.device.DestroyShaderModule(b.shader)
		}
		b.device.Destroy()
	}
	if b.instance != nil {
		b.instance.Destroy()
	}
	b.pipeline, b.pipeLayout, b.bindLayout, b.shader = nil, nil, nil, nil
	b.device, b.queue, b.instance = nil, nil, nil
}

func (b *halBackend) Initialize(target Target) (Context, error) {
	if target.Width <= 0 || target.Height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", target.Width, target.Height)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device == nil {
		return nil, fmt.Errorf("%w: %s not open", ErrBackendNotAvailable, b.name)
	}

	c := &halContext{
		name:       b.name,
		logger:     b.logger,
		device:     b.device,
		queue:      b.queue,
		pipeline:   b.pipeline,
		bindLayout: b.bindLayout,
		target:     target,
		textures:   make(map[*Texture]hal.Buffer),
	}
	dummy, err := c.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "composite_empty_src", Size: 4,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create empty source: %w", err)
	}
	c.dummy = dummy
	if err := c.alloc(target.Width, target.Height); err != nil {
		c.device.DestroyBuffer(dummy)
		return nil, err
	}
	return c, nil
}

// submission is one render's GPU work, freed once the queue reports its
// index completed.
type submission struct {
	cmd      hal.CommandBuffer
	index    uint64
	uniforms []hal.Buffer
	groups   []hal.BindGroup
	released []hal.Buffer // textures released while the work was in flight
	aborted  bool
}

type halContext struct {
	name       string
	logger     *slog.Logger
	device     hal.Device
	queue      hal.Queue
	pipeline   hal.ComputePipeline
	bindLayout hal.BindGroupLayout

	mu       sync.Mutex
	target   Target
	bw, bh   int
	pixelBuf hal.Buffer
	staging  hal.Buffer
	dummy    hal.Buffer
	pixels   []byte
	textures map[*Texture]hal.Buffer
	inflight *submission
	rendered bool
	torn     bool
}

func (c *halContext) alloc(w, h int) error {
	bw, bh := BufferSize(c.target.Transform, w, h)
	size := uint64(bw * bh * 4)

	pixelBuf, err := c.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "composite_pixels", Size: size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create pixel buffer: %w", err)
	}
	staging, err := c.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "composite_staging", Size: size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		c.device.DestroyBuffer(pixelBuf)
		return fmt.Errorf("create staging buffer: %w", err)
	}

	c.freeTargets()
	c.pixelBuf, c.staging = pixelBuf, staging
	c.target.Width, c.target.Height = w, h
	c.bw, c.bh = bw, bh
	c.pixels = make([]byte, size)
	c.rendered = false
	return nil
}

func (c *halContext) freeTargets() {
	if c.pixelBuf != nil {
		c.device.DestroyBuffer(c.pixelBuf)
		c.pixelBuf = nil
	}
	if c.staging != nil {
		c.device.DestroyBuffer(c.staging)
		c.staging = nil
	}
}

func (c *halContext) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target.Width, c.target.Height
}

func (c *halContext) UploadTexture(p decode.Plane) (*Texture, error) {
	pix, err := packPlane(p)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torn {
		return nil, ErrTornDown
	}
	buf, err := c.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "composite_texture", Size: uint64(len(pix)),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create texture buffer: %w", err)
	}
	if err := c.queue.WriteBuffer(buf, 0, pix); err != nil {
		c.device.DestroyBuffer(buf)
		return nil, fmt.Errorf("upload texture: %w", err)
	}
	t := &Texture{Width: p.Width, Height: p.Height, handle: buf}
	c.textures[t] = buf
	return t, nil
}

func (c *halContext) ReleaseTexture(t *Texture) {
	if t == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.textures[t]
	if !ok {
		return
	}
	delete(c.textures, t)
	t.handle = nil
	if c.inflight != nil {
		c.inflight.released = append(c.inflight.released, buf)
		return
	}
	c.device.DestroyBuffer(buf)
}

func (c *halContext) Render(ctx context.Context, layers []Layer, tm ToneMap) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torn {
		return ErrTornDown
	}
	if ctx.Err() != nil {
		return ErrAborted
	}
	c.waitLocked()

	type pass struct {
		params passParams
		src    hal.Buffer
		size   uint64
	}
	var passes []pass
	for _, l := range layers {
		if l.Texture == nil {
			continue
		}
		buf, ok := l.Texture.handle.(hal.Buffer)
		if !ok || buf == nil {
			continue
		}
		inv, ok := l.Transform.Invert()
		if !ok {
			continue
		}
		passes = append(passes, pass{
			params: newPassParams(l, inv, c.bw, c.bh, tm),
			src:    buf,
			size:   uint64(l.Texture.Width * l.Texture.Height * 4),
		})
	}
	if len(passes) == 0 {
		passes = append(passes, pass{
			params: passParams{DstW: uint32(c.bw), DstH: uint32(c.bh), SrcW: 1, SrcH: 1, Inv: Identity},
			src:    c.dummy,
			size:   4,
		})
	}
	passes[0].params.Clear = true

	sub := &submission{}
	pixelSize := uint64(c.bw * c.bh * 4)
	for i, p := range passes {
		ub, err := c.device.CreateBuffer(&hal.BufferDescriptor{
			Label: "composite_params", Size: paramsSize,
			Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			c.freeSubmission(sub)
			return fmt.Errorf("create uniform buffer %d: %w", i, err)
		}
		sub.uniforms = append(sub.uniforms, ub)
		if err := c.queue.WriteBuffer(ub, 0, p.params.bytes()); err != nil {
			c.freeSubmission(sub)
			return fmt.Errorf("write uniforms %d: %w", i, err)
		}

		bg, err := c.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label: "composite_bind", Layout: c.bindLayout,
			Entries: []gputypes.BindGroupEntry{
				{Binding: 0, Resource: gputypes.BufferBinding{Buffer: ub.NativeHandle(), Offset: 0, Size: paramsSize}},
				{Binding: 1, Resource: gputypes.BufferBinding{Buffer: p.src.NativeHandle(), Offset: 0, Size: p.size}},
				{Binding: 2, Resource: gputypes.BufferBinding{Buffer: c.pixelBuf.NativeHandle(), Offset: 0, Size: pixelSize}},
			},
		})
		if err != nil {
			c.freeSubmission(sub)
			return fmt.Errorf("create bind group %d: %w", i, err)
		}
		sub.groups = append(sub.groups, bg)
	}

	encoder, err := c.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "composite_encoder"})
	if err != nil {
		c.freeSubmission(sub)
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("composite"); err != nil {
		c.freeSubmission(sub)
		return fmt.Errorf("begin encoding: %w", err)
	}
	w, h := uint32(c.bw), uint32(c.bh)
	for _, bg := range sub.groups {
		cp := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "composite_pass"})
		cp.SetPipeline(c.pipeline)
		cp.SetBindGroup(0, bg, nil)
		cp.Dispatch((w+7)/8, (h+7)/8, 1)
		cp.End()
	}
	encoder.CopyBufferToBuffer(c.pixelBuf, c.staging, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: pixelSize},
	})
	cmd, err := encoder.EndEncoding()
	if err != nil {
		c.freeSubmission(sub)
		return fmt.Errorf("end encoding: %w", err)
	}
	sub.cmd = cmd

	idx, err := c.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		c.freeSubmission(sub)
		return fmt.Errorf("submit: %w", err)
	}
	sub.index = idx
	// Once submitted the work has to complete before its resources go away;
	// a cancellation from here on only suppresses the present.
	sub.aborted = ctx.Err() != nil
	c.inflight = sub
	c.rendered = false
	return nil
}

// waitLocked blocks until the in-flight submission completes and frees it.
func (c *halContext) waitLocked() bool {
	sub := c.inflight
	if sub == nil {
		return true
	}
	c.inflight = nil
	if !c.waitSubmission(sub.index) {
		// The device still owns the resources; leak them rather than free
		// memory the GPU may be using.
		c.logger.Warn("gpu wait timed out", "backend", c.name, "output", c.target.Output, "submission", sub.index)
		return false
	}
	c.freeSubmission(sub)
	return true
}

// waitSubmission polls the queue until idx completes or gpuTimeout passes.
// The device is shared by every output, so this never waits for idle.
func (c *halContext) waitSubmission(idx uint64) bool {
	deadline := time.Now().Add(gpuTimeout)
	for c.queue.PollCompleted() < idx {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
	return true
}

// readback copies the staging buffer into c.pixels.
func (c *halContext) readback() error {
	size := uint64(len(c.pixels))
	m, err := c.device.MapBuffer(c.staging, 0, size)
	if err != nil {
		return err
	}
	copy(c.pixels, unsafe.Slice((*byte)(m.Ptr), size))
	return c.device.UnmapBuffer(c.staging)
}

func (c *halContext) freeSubmission(sub *submission) {
	for _, bg := range sub.groups {
		c.device.DestroyBindGroup(bg)
	}
	for _, ub := range sub.uniforms {
		c.device.DestroyBuffer(ub)
	}
	for _, buf := range sub.released {
		c.device.DestroyBuffer(buf)
	}
	if sub.cmd != nil {
		c.device.FreeCommandBuffer(sub.cmd)
	}
}

func (c *halContext) Present(ctx context.Context, hdr *colorspace.Metadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torn {
		return ErrTornDown
	}

	if sub := c.inflight; sub != nil {
		aborted := sub.aborted
		if !c.waitLocked() {
			return errGPUWait
		}
		if aborted {
			return ErrAborted
		}
		if err := c.readback(); err != nil {
			return fmt.Errorf("readback: %w", err)
		}
		c.rendered = true
	}
	if ctx.Err() != nil {
		return ErrAborted
	}
	if !c.rendered {
		return ErrNothingRendered
	}
	if c.target.Presenter == nil {
		return nil
	}
	img := platform.Image{Pix: c.pixels, Width: c.bw, Height: c.bh, Stride: c.bw * 4}
	if c.target.Passthrough {
		img.HDR = hdr
	}
	return c.target.Presenter.Present(img)
}

func (c *halContext) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid size %dx%d", width, height)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torn {
		return ErrTornDown
	}
	c.waitLocked()
	return c.alloc(width, height)
}

func (c *halContext) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torn {
		return
	}
	c.waitLocked()
	for t, buf := range c.textures {
		c.device.DestroyBuffer(buf)
		t.handle = nil
	}
	c.textures = nil
	c.freeTargets()
	if c.dummy != nil {
		c.device.DestroyBuffer(c.dummy)
		c.dummy = nil
	}
	c.pixels = nil
	c.torn = true
}
