package daemon

import (
	"fmt"
	"time"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/ipc"
	"github.com/1broseidon/vidwall/internal/output"
)

var _ ipc.Controller = (*Daemon)(nil)

// Status reports the daemon and every known output.
func (d *Daemon) Status() ipc.StatusData {
	data := ipc.StatusData{
		UptimeSeconds: int64(time.Since(d.started).Seconds()),
		Compositor:    d.comp.Name(),
		Backend:       d.backend.Name(),
		OnBattery:     d.power.OnBattery(),
		ConfigFile:    d.configPath,
		Sessions:      d.sessions.Len(),
		Outputs:       []ipc.OutputStatus{},
	}
	if d.fallback != nil {
		data.Fallback = d.fallback.String()
	}

	for _, o := range d.registry.Outputs() {
		snap, ok := d.registry.Get(o.Name)
		if !ok {
			continue
		}
		w, h := o.Geometry.PixelSize()
		out := ipc.OutputStatus{
			Name:      o.Name,
			Width:     w,
			Height:    h,
			Scale:     o.Geometry.Scale,
			RefreshHz: o.Geometry.RefreshHz(),
		}
		if snap.Resolved {
			out.Match = snap.Effective.Match.String()
			out.Source = snap.Effective.Source.String()
			out.Layout = snap.Effective.Layout
		} else if snap.Reason != nil {
			out.Reason = snap.Reason.Error()
		}

		if r := d.run(o.Name); r != nil {
			st := r.sched.Status()
			out.Active = true
			out.Scheduler = &st
			if st.Reason != "" {
				out.Reason = st.Reason
			}
		} else if st, ok := d.bus.Latest(o.Name); ok {
			out.Scheduler = &st
			if st.Reason != "" {
				out.Reason = st.Reason
			}
		}
		data.Outputs = append(data.Outputs, out)
	}
	return data
}

// Pause suspends one output, or all of them when name is empty.
func (d *Daemon) Pause(name string) error { return d.setPaused(name, true) }

// Resume undoes Pause.
func (d *Daemon) Resume(name string) error { return d.setPaused(name, false) }

func (d *Daemon) setPaused(name string, v bool) error {
	if err := d.checkOutput(name); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if name == "" {
		d.pauseAll = v
		clear(d.paused)
	} else {
		d.paused[name] = v
	}
	for n, r := range d.outputs {
		if d.pausedLocked(n) {
			r.sched.Pause()
		} else {
			r.sched.Resume()
		}
	}
	return nil
}

func (d *Daemon) checkOutput(name string) error {
	if name == "" {
		return nil
	}
	if _, ok := d.registry.Get(name); !ok {
		return fmt.Errorf("%w: %s", output.ErrUnknownOutput, name)
	}
	return nil
}

// SetLayout overrides the layout of one output, or of all of them.
func (d *Daemon) SetLayout(name string, layout config.Layout) error {
	if err := config.ValidateLayout(layout); err != nil {
		return err
	}
	return d.override(name, output.Override{Layout: &layout})
}

// SwitchSource overrides the source of one output, or of all of them.
func (d *Daemon) SwitchSource(name string, src config.Source) error {
	src, err := config.NormalizeSource(src)
	if err != nil {
		return fmt.Errorf("invalid source: %w", err)
	}
	return d.override(name, output.Override{Source: &src})
}

// SetFPS sets a runtime fps ceiling. Zero follows the refresh rate.
func (d *Daemon) SetFPS(name string, fps int) error {
	if fps < 0 {
		return fmt.Errorf("fps must be >= 0")
	}
	return d.override(name, output.Override{FPSLimit: &fps})
}

func (d *Daemon) override(name string, ov output.Override) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	changes, err := d.registry.SetOverride(name, ov)
	if err != nil {
		return err
	}
	for _, ch := range changes {
		d.apply(d.runCtx, ch)
	}
	return nil
}

// Reload rereads the config file. On error the running config is kept.
// Runtime overrides survive a reload.
func (d *Daemon) Reload() error {
	res, err := config.LoadFromPath(d.configPath)
	if err != nil {
		return err
	}

	d.opMu.Lock()
	defer d.opMu.Unlock()

	prev := d.config()
	next := res.Config
	changes, err := d.registry.SetRules(next.Rules())
	if err != nil {
		return err
	}
	d.setConfig(res)
	if d.watcher != nil {
		d.watcher.SetFiles(d.watchedFiles())
	}
	for _, key := range restartOnly(prev, next) {
		d.logger.Warn("config change takes effect after restart", "key", key)
	}

	recreate := outputSettingsChanged(prev, next)
	for _, ch := range changes {
		_, opening := d.pending[ch.Output.Name]
		if recreate && (opening || d.run(ch.Output.Name) != nil) {
			switch ch.Action {
			case output.ActionNone, output.ActionResize, output.ActionUpdate:
				ch.Action = output.ActionRecreate
			}
		}
		d.apply(d.runCtx, ch)
	}
	d.logger.Info("config reloaded", "outputs", len(changes), "recreated", recreate)
	return nil
}

// outputSettingsChanged reports whether a top-level setting that every
// scheduler or session copies at activation has changed.
func outputSettingsChanged(a, b *config.Config) bool {
	return a.HWDec != b.HWDec ||
		a.Loop != b.Loop ||
		a.StartTime != b.StartTime ||
		a.HDRMode != b.HDRMode ||
		a.PauseOnBattery != b.PauseOnBattery ||
		a.BatteryFPS != b.BatteryFPS ||
		a.PauseOnFullscreen != b.PauseOnFullscreen ||
		a.DecodeRetries != b.DecodeRetries ||
		a.DecodeBackoff != b.DecodeBackoff
}

// restartOnly lists changed keys that are bound at startup.
func restartOnly(a, b *config.Config) []string {
	var keys []string
	if a.Renderer != b.Renderer {
		keys = append(keys, "renderer")
	}
	if a.MaxBuffers != b.MaxBuffers {
		keys = append(keys, "max_buffers")
	}
	if a.MaxMemoryMB != b.MaxMemoryMB {
		keys = append(keys, "max_memory_mb")
	}
	if a.MaxSkipIntervals != b.MaxSkipIntervals {
		keys = append(keys, "max_skip_intervals")
	}
	if a.FFmpegPath != b.FFmpegPath {
		keys = append(keys, "ffmpeg_path")
	}
	if a.ResumePlayback != b.ResumePlayback {
		keys = append(keys, "resume_playback")
	}
	if a.LogLevel != b.LogLevel || a.LogFormat != b.LogFormat {
		keys = append(keys, "log")
	}
	return keys
}

// Events returns buffered status events newer than since.
func (d *Daemon) Events(since uint64) []ipc.Event {
	return d.bus.Since(since)
}

// Quit asks Run to return.
func (d *Daemon) Quit() {
	d.quitOnce.Do(func() { close(d.quit) })
}
