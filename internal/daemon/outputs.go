package daemon

import (
	"context"
	"errors"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/decode"
	"github.com/1broseidon/vidwall/internal/output"
	"github.com/1broseidon/vidwall/internal/scheduler"
	"github.com/1broseidon/vidwall/internal/surface"
)

// outputRun is everything an active output owns.
type outputRun struct {
	name    string
	desc    *surface.Descriptor
	session *decode.Session
	sched   *scheduler.Scheduler
	cancel  context.CancelFunc
}

// apply carries out one registry verdict. Callers hold opMu.
func (d *Daemon) apply(ctx context.Context, ch output.Change) {
	name := ch.Output.Name
	if ch.Action != output.ActionNone {
		d.logger.Debug("apply output change", "output", name, "action", ch.Action.String())
	}

	switch ch.Action {
	case output.ActionNone:
	case output.ActionActivate:
		if d.run(name) != nil {
			d.stop(name)
		}
		d.activate(ctx, ch.Output, ch.Effective)
	case output.ActionRecreate:
		d.stop(name)
		d.activate(ctx, ch.Output, ch.Effective)
	case output.ActionResize:
		d.resize(ctx, ch)
	case output.ActionUpdate:
		r := d.run(name)
		if r == nil {
			d.activate(ctx, ch.Output, ch.Effective)
			return
		}
		r.sched.SetFPSLimit(ch.Effective.FPSLimit)
	case output.ActionInactive:
		d.stop(name)
		d.noteInactive(name, ch.Reason)
	case output.ActionRemove:
		if !d.stop(name) {
			d.bus.Note(name, "removed", "")
		}
		d.bus.Forget(name)
	}
}

// noteInactive reports an output that resolved to no configuration. Its
// status then comes from the registry alone.
func (d *Daemon) noteInactive(name string, reason error) {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	d.bus.Forget(name)
	d.bus.Note(name, "inactive", msg)
}

func (d *Daemon) run(name string) *outputRun {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.outputs[name]
}

// pendingRun is an output whose surface exists while its decode session
// is still opening.
type pendingRun struct {
	desc   *surface.Descriptor
	cancel context.CancelFunc
}

// activate brings an output from Connecting to a running scheduler. The
// surface is created under opMu; opening the source runs outside it and
// commits through finish. Any failure leaves the output Errored with
// nothing allocated.
func (d *Daemon) activate(ctx context.Context, o output.Output, eff output.Effective) {
	d.dropPending(o.Name)
	cfg := d.config()
	d.bus.Publish(scheduler.Status{Output: o.Name, State: scheduler.StateConnecting})

	desc, err := d.surfaces.Activate(ctx, o, eff)
	if err != nil {
		d.errored(o.Name, err)
		return
	}

	key, err := decode.NewKey(eff.Source, decode.Params{
		HWDec: cfg.HWDec,
		Loop:  cfg.Loop,
		Start: cfg.StartTime,
	})
	if err != nil {
		d.surfaces.Deactivate(desc)
		d.errored(o.Name, err)
		return
	}

	openCtx, cancel := context.WithCancel(ctx)
	p := &pendingRun{desc: desc, cancel: cancel}
	d.pending[o.Name] = p
	d.goRun(func() {
		defer cancel()
		sess, err := d.sessions.Acquire(openCtx, key, d.opener)
		d.finish(ctx, p, o, eff, cfg, sess, err)
	})
}

// finish commits an opened session under opMu. An attempt that was
// stopped or superseded meanwhile only drops its session; whoever
// replaced it already owns the surface.
func (d *Daemon) finish(ctx context.Context, p *pendingRun, o output.Output, eff output.Effective,
	cfg *config.Config, sess *decode.Session, err error) {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	if d.pending[o.Name] != p {
		d.sessions.Release(sess)
		return
	}
	delete(d.pending, o.Name)
	if err != nil {
		d.surfaces.Deactivate(p.desc)
		d.errored(o.Name, err)
		return
	}

	sched := scheduler.New(scheduler.Config{
		Output:            o.Name,
		Source:            sess,
		Target:            p.desc,
		Layout:            eff.Layout,
		FPSLimit:          eff.FPSLimit,
		RefreshHz:         o.Geometry.RefreshHz(),
		ToneMap:           eff.ToneMap,
		HDRMode:           cfg.HDRMode,
		Passthrough:       eff.HDRPassthrough && o.HDRPassthrough,
		PauseOnBattery:    cfg.PauseOnBattery,
		BatteryFPS:        cfg.BatteryFPS,
		PauseOnFullscreen: cfg.PauseOnFullscreen,
		DecodeRetries:     cfg.DecodeRetries,
		DecodeBackoff:     cfg.DecodeBackoff,
		Logger:            d.logger,
		OnStatus:          func(st scheduler.Status) { d.bus.Publish(st) },
	})

	runCtx, cancel := context.WithCancel(ctx)
	r := &outputRun{name: o.Name, desc: p.desc, session: sess, sched: sched, cancel: cancel}

	d.mu.Lock()
	if d.pausedLocked(o.Name) {
		sched.Pause()
	}
	sched.SetOnBattery(d.onBattery)
	sched.SetFullscreen(d.covered[o.Name])
	d.outputs[o.Name] = r
	d.mu.Unlock()

	go func() {
		if err := sched.Run(runCtx); err != nil {
			d.logger.Error("output stopped", "output", o.Name, "error", err)
		}
	}()
}

// dropPending abandons an output that is still opening. Callers hold opMu.
func (d *Daemon) dropPending(name string) bool {
	p, ok := d.pending[name]
	if !ok {
		return false
	}
	delete(d.pending, name)
	p.cancel()
	d.surfaces.Deactivate(p.desc)
	return true
}

func (d *Daemon) errored(name string, err error) {
	d.logger.Error("output activation failed", "output", name, "error", err)
	d.bus.Publish(scheduler.Status{Output: name, State: scheduler.StateErrored, Reason: err.Error()})
}

// stop tears an output down: cancel the scheduler, wait for its in-flight
// frame, destroy the surface, then drop the session reference. It reports
// whether the output was running; one still opening is abandoned and
// reported as not running. Callers hold opMu.
func (d *Daemon) stop(name string) bool {
	d.dropPending(name)
	d.mu.Lock()
	r, ok := d.outputs[name]
	delete(d.outputs, name)
	d.mu.Unlock()
	if !ok {
		return false
	}

	r.cancel()
	<-r.sched.Done()
	d.surfaces.Deactivate(r.desc)
	d.sessions.Release(r.session)
	r.sched.TearDown()
	return true
}

func (d *Daemon) resize(ctx context.Context, ch output.Change) {
	name := ch.Output.Name
	r := d.run(name)
	if r == nil {
		d.activate(ctx, ch.Output, ch.Effective)
		return
	}
	if err := d.surfaces.Resize(r.desc, ch.Output.Geometry); err != nil {
		if errors.Is(err, surface.ErrClosed) {
			return
		}
		d.stop(name)
		d.errored(name, err)
		return
	}
	r.sched.SetRefreshHz(ch.Output.Geometry.RefreshHz())
	r.sched.SetFPSLimit(ch.Effective.FPSLimit)
	r.sched.Invalidate()
}

// pausedLocked reports the manual pause state of name. A per-output
// setting wins over the global one.
func (d *Daemon) pausedLocked(name string) bool {
	if v, ok := d.paused[name]; ok {
		return v
	}
	return d.pauseAll
}

func (d *Daemon) setOnBattery(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.onBattery != v {
		d.logger.Info("power source changed", "on_battery", v)
	}
	d.onBattery = v
	for _, r := range d.outputs {
		r.sched.SetOnBattery(v)
	}
}

func (d *Daemon) setFullscreen(set map[string]bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.covered = make(map[string]bool, len(set))
	for name, v := range set {
		if v {
			d.covered[name] = true
		}
	}
	for name, r := range d.outputs {
		r.sched.SetFullscreen(d.covered[name])
	}
}
