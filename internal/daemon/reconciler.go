package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/1broseidon/vidwall/internal/logging"
	"github.com/1broseidon/vidwall/internal/output"
)

// OutputLister returns the outputs the compositor currently reports.
type OutputLister func() []output.Output

// driftTarget is the daemon side of a reconciliation pass.
type driftTarget interface {
	knownOutputs() []output.Output
	handleEvent(ev output.Event)
	prunePositions(before time.Time) (int64, error)
}

// ReconcilerConfig holds configuration for the reconciler.
type ReconcilerConfig struct {
	Interval time.Duration
	// PositionTTL is how long an unused playback position is kept.
	PositionTTL time.Duration
	Logger      *slog.Logger
}

// Reconciler periodically compares the compositor's outputs with the
// registry and replays any hotplug event that was missed.
type Reconciler struct {
	interval    time.Duration
	positionTTL time.Duration
	target      driftTarget
	listOutputs OutputLister
	logger      *slog.Logger
	now         func() time.Time
}

// NewReconciler creates a new reconciler with the given configuration.
func NewReconciler(cfg ReconcilerConfig, target driftTarget, listOutputs OutputLister) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ttl := cfg.PositionTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	return &Reconciler{
		interval:    interval,
		positionTTL: ttl,
		target:      target,
		listOutputs: listOutputs,
		logger:      logging.OrDiscard(cfg.Logger),
		now:         time.Now,
	}
}

// Run starts the reconciliation loop. Blocks until context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("reconciler started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("reconciler stopped")
			return
		case <-ticker.C:
			r.reconcile()
		}
	}
}

// reconcile performs a single reconciliation pass.
func (r *Reconciler) reconcile() {
	// A panic here must not take the daemon down.
	defer func() {
		if err := recover(); err != nil {
			r.logger.Error("reconciler panic recovered", "error", err)
		}
	}()

	for _, ev := range drift(r.target.knownOutputs(), r.listOutputs()) {
		r.logger.Info("reconciler: output drift detected",
			"output", ev.Output.Name,
			"event", eventName(ev.Kind))
		r.target.handleEvent(ev)
	}

	n, err := r.target.prunePositions(r.now().Add(-r.positionTTL))
	if err != nil {
		r.logger.Warn("reconciler: failed to prune playback positions", "error", err)
	} else if n > 0 {
		r.logger.Debug("reconciler: pruned playback positions", "count", n)
	}
}

// ReconcileNow triggers an immediate reconciliation pass.
func (r *Reconciler) ReconcileNow() {
	r.reconcile()
}

// drift returns the events that turn known into actual.
func drift(known, actual []output.Output) []output.Event {
	knownByName := make(map[string]output.Output, len(known))
	for _, o := range known {
		knownByName[o.Name] = o
	}
	seen := make(map[string]bool, len(actual))

	var events []output.Event
	for _, o := range actual {
		seen[o.Name] = true
		prev, ok := knownByName[o.Name]
		switch {
		case !ok:
			events = append(events, output.Event{Kind: output.EventAdded, Output: o})
		case prev != o:
			events = append(events, output.Event{Kind: output.EventChanged, Output: o})
		}
	}
	for _, o := range known {
		if !seen[o.Name] {
			events = append(events, output.Event{Kind: output.EventRemoved, Output: o})
		}
	}
	return events
}

func eventName(k output.EventKind) string {
	switch k {
	case output.EventAdded:
		return "added"
	case output.EventChanged:
		return "changed"
	case output.EventRemoved:
		return "removed"
	}
	return "unknown"
}
