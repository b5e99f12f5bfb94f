package render

import (
	"encoding/binary"
	"math"
)

// paramsSize is the byte size of the shader's Params uniform.
const paramsSize = 80

// compositeShader composites one layer into the output buffer per dispatch.
// Pixels are packed RGBA8 in u32 words (r in the low byte). Each layer is a
// separate compute pass so passes see the previous pass's writes.
const compositeShader = `
struct Params {
    dst_w: u32,
    dst_h: u32,
    src_w: u32,
    src_h: u32,
    inv0: vec4<f32>,
    inv1: vec4<f32>,
    blend: u32,
    opacity: f32,
    tone: u32,
    transfer: u32,
    peak: f32,
    clear: u32,
    pad0: u32,
    pad1: u32,
}

@group(0) @binding(0) var<uniform> params: Params;
@group(0) @binding(1) var<storage, read> src: array<u32>;
@group(0) @binding(2) var<storage, read_write> dst: array<u32>;

const REF_WHITE: f32 = 203.0;
const HLG_PEAK: f32 = 1000.0;

fn unpack_px(p: u32) -> vec4<f32> {
    return vec4<f32>(
        f32(p & 0xffu),
        f32((p >> 8u) & 0xffu),
        f32((p >> 16u) & 0xffu),
        f32((p >> 24u) & 0xffu),
    ) / 255.0;
}

fn pack_px(c: vec4<f32>) -> u32 {
    let v = vec4<u32>(clamp(c, vec4<f32>(0.0), vec4<f32>(1.0)) * 255.0 + 0.5);
    return v.x | (v.y << 8u) | (v.z << 16u) | (v.w << 24u);
}

fn texel(x: i32, y: i32) -> vec4<f32> {
    let cx = clamp(x, 0, i32(params.src_w) - 1);
    let cy = clamp(y, 0, i32(params.src_h) - 1);
    return unpack_px(src[u32(cy) * params.src_w + u32(cx)]);
}

fn sample_src(p: vec2<f32>) -> vec4<f32> {
    if (p.x < 0.0 || p.y < 0.0 || p.x >= f32(params.src_w) || p.y >= f32(params.src_h)) {
        return vec4<f32>(0.0);
    }
    let uv = p - 0.5;
    let base = floor(uv);
    let f = uv - base;
    let x0 = i32(base.x);
    let y0 = i32(base.y);
    let top = mix(texel(x0, y0), texel(x0 + 1, y0), f.x);
    let bottom = mix(texel(x0, y0 + 1), texel(x0 + 1, y0 + 1), f.x);
    return mix(top, bottom, f.y);
}

fn pq_to_nits(e: f32) -> f32 {
    let m1 = 2610.0 / 16384.0;
    let m2 = 2523.0 / 4096.0 * 128.0;
    let c1 = 3424.0 / 4096.0;
    let c2 = 2413.0 / 4096.0 * 32.0;
    let c3 = 2392.0 / 4096.0 * 32.0;
    let p = pow(clamp(e, 0.0, 1.0), 1.0 / m2);
    let num = max(p - c1, 0.0);
    return pow(num / (c2 - c3 * p), 1.0 / m1) * 10000.0;
}

fn nits_to_pq(nits: f32) -> f32 {
    let m1 = 2610.0 / 16384.0;
    let m2 = 2523.0 / 4096.0 * 128.0;
    let c1 = 3424.0 / 4096.0;
    let c2 = 2413.0 / 4096.0 * 32.0;
    let c3 = 2392.0 / 4096.0 * 32.0;
    let y = pow(max(nits, 0.0) / 10000.0, m1);
    return pow((c1 + c2 * y) / (1.0 + c3 * y), m2);
}

fn hlg_to_linear(e: f32) -> f32 {
    let a = 0.17883277;
    let b = 0.28466892;
    let c = 0.55991073;
    let v = clamp(e, 0.0, 1.0);
    if (v <= 0.5) {
        return v * v / 3.0;
    }
    return (exp((v - c) / a) + b) / 12.0;
}

fn to_nits(v: f32) -> f32 {
    if (params.transfer == 1u) {
        return pq_to_nits(v);
    }
    if (params.transfer == 2u) {
        return hlg_to_linear(v) * HLG_PEAK;
    }
    return v * REF_WHITE;
}

fn hable(x: f32) -> f32 {
    let a = 0.15;
    let b = 0.50;
    let c = 0.10;
    let d = 0.20;
    let e = 0.02;
    let f = 0.30;
    return (x * (a * x + c * b) + d * e) / (x * (a * x + b) + d * f) - e / f;
}

fn aces(x: f32) -> f32 {
    return (x * (2.51 * x + 0.03)) / (x * (2.43 * x + 0.59) + 0.14);
}

fn eetf(nits: f32, peak: f32) -> f32 {
    if (peak <= REF_WHITE) {
        return min(nits, REF_WHITE);
    }
    let src_peak = nits_to_pq(peak);
    let e1 = nits_to_pq(nits) / src_peak;
    let max_l = nits_to_pq(REF_WHITE) / src_peak;
    let ks = 1.5 * max_l - 0.5;
    var e2 = e1;
    if (e1 >= ks) {
        let t = (e1 - ks) / (1.0 - ks);
        let t2 = t * t;
        let t3 = t2 * t;
        e2 = (2.0 * t3 - 3.0 * t2 + 1.0) * ks + (t3 - 2.0 * t2 + t) * (1.0 - ks) + (-2.0 * t3 + 3.0 * t2) * max_l;
    }
    return pq_to_nits(min(e2, max_l) * src_peak);
}

fn linear_to_srgb(v: f32) -> f32 {
    let c = clamp(v, 0.0, 1.0);
    if (c <= 0.0031308) {
        return c * 12.92;
    }
    return 1.055 * pow(c, 1.0 / 2.4) - 0.055;
}

fn tone_map(v: f32) -> f32 {
    let nits = to_nits(v);
    let x = max(nits, 0.0) / REF_WHITE;
    let w = max(params.peak, REF_WHITE) / REF_WHITE;
    var y = x;
    switch params.tone {
        case 2u: { y = x * (1.0 + x / (w * w)) / (1.0 + x); }
        case 3u: { y = hable(2.0 * x) / hable(2.0 * w); }
        case 4u: { y = aces(x); }
        case 5u: { y = eetf(nits, params.peak) / REF_WHITE; }
        default: {}
    }
    return linear_to_srgb(clamp(y, 0.0, 1.0));
}

fn blend_channel(base: f32, top: f32) -> f32 {
    switch params.blend {
        case 1u: { return min(base + top, 1.0); }
        case 2u: { return base * top; }
        case 3u: { return 1.0 - (1.0 - base) * (1.0 - top); }
        case 4u: {
            if (base < 0.5) {
                return 2.0 * base * top;
            }
            return 1.0 - 2.0 * (1.0 - base) * (1.0 - top);
        }
        default: { return top; }
    }
}

@compute @workgroup_size(8, 8, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x >= params.dst_w || id.y >= params.dst_h) {
        return;
    }
    let idx = id.y * params.dst_w + id.x;
    var base = unpack_px(dst[idx]);
    if (params.clear != 0u) {
        base = vec4<f32>(0.0, 0.0, 0.0, 1.0);
    }

    let p = vec2<f32>(f32(id.x) + 0.5, f32(id.y) + 0.5);
    let sp = vec2<f32>(
        params.inv0.x * p.x + params.inv0.y * p.y + params.inv0.z,
        params.inv1.x * p.x + params.inv1.y * p.y + params.inv1.z,
    );
    var top = sample_src(sp);
    let alpha = top.a * params.opacity;
    if (alpha <= 0.0) {
        dst[idx] = pack_px(base);
        return;
    }
    if (params.tone != 0u) {
        top = vec4<f32>(tone_map(top.r), tone_map(top.g), tone_map(top.b), top.a);
    }
    let res = vec3<f32>(
        base.r + (blend_channel(base.r, top.r) - base.r) * alpha,
        base.g + (blend_channel(base.g, top.g) - base.g) * alpha,
        base.b + (blend_channel(base.b, top.b) - base.b) * alpha,
    );
    dst[idx] = pack_px(vec4<f32>(res, 1.0));
}
`

// passParams is the host side of the Params uniform.
type passParams struct {
	DstW, DstH uint32
	SrcW, SrcH uint32
	Inv        Affine // buffer pixel space -> source pixel space
	Blend      uint32
	Opacity    float32
	Tone       uint32
	Transfer   uint32
	Peak       float32
	Clear      bool
}

func newPassParams(l Layer, inv Affine, bw, bh int, tm ToneMap) passParams {
	p := passParams{
		DstW:    uint32(bw),
		DstH:    uint32(bh),
		Inv:     inv,
		Blend:   blendCode(l.Blend),
		Opacity: float32(l.Opacity),
	}
	if l.Texture != nil {
		p.SrcW, p.SrcH = uint32(l.Texture.Width), uint32(l.Texture.Height)
	}
	if tm.Enabled() {
		p.Tone = operatorCode(tm.Operator)
		p.Transfer = transferCode(tm.Transfer)
		p.Peak = float32(tm.Peak)
	}
	return p
}

// bytes encodes the uniform with std140 layout.
func (p passParams) bytes() []byte {
	b := make([]byte, paramsSize)
	le := binary.LittleEndian
	putF := func(off int, v float64) { le.PutUint32(b[off:], math.Float32bits(float32(v))) }

	le.PutUint32(b[0:], p.DstW)
	le.PutUint32(b[4:], p.DstH)
	le.PutUint32(b[8:], p.SrcW)
	le.PutUint32(b[12:], p.SrcH)
	putF(16, p.Inv.A)
	putF(20, p.Inv.B)
	putF(24, p.Inv.C)
	putF(32, p.Inv.D)
	putF(36, p.Inv.E)
	putF(40, p.Inv.F)
	le.PutUint32(b[48:], p.Blend)
	le.PutUint32(b[52:], math.Float32bits(p.Opacity))
	le.PutUint32(b[56:], p.Tone)
	le.PutUint32(b[60:], p.Transfer)
	le.PutUint32(b[64:], math.Float32bits(p.Peak))
	if p.Clear {
		le.PutUint32(b[68:], 1)
	}
	return b
}
