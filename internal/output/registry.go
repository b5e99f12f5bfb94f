package output

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/logging"
)

var (
	ErrNoMatchingRule  = errors.New("no matching output rule and no default")
	ErrOutputDisabled  = errors.New("output disabled by rule")
	ErrInvalidGeometry = errors.New("output has no usable geometry")
	ErrUnknownOutput   = errors.New("unknown output")
)

// Effective is the resolved configuration for one output.
type Effective struct {
	Match          config.Match
	Source         config.Source
	Layout         config.Layout
	FPSLimit       int
	ToneMap        config.ToneMap
	HDRPassthrough bool
}

// needsRecreate reports whether moving from e to next requires a new
// surface, render context and decode session.
func (e Effective) needsRecreate(next Effective) bool {
	return !e.Source.Equal(next.Source) ||
		e.Layout != next.Layout ||
		e.ToneMap != next.ToneMap ||
		e.HDRPassthrough != next.HDRPassthrough
}

// Override is a runtime adjustment layered over the matched rule.
type Override struct {
	Source   *config.Source
	Layout   *config.Layout
	FPSLimit *int
}

func (o Override) apply(eff Effective) Effective {
	if o.Source != nil {
		eff.Source = *o.Source
	}
	if o.Layout != nil {
		eff.Layout = *o.Layout
	}
	if o.FPSLimit != nil {
		eff.FPSLimit = *o.FPSLimit
	}
	return eff
}

func (o Override) merge(next Override) Override {
	if next.Source != nil {
		o.Source = next.Source
	}
	if next.Layout != nil {
		o.Layout = next.Layout
	}
	if next.FPSLimit != nil {
		o.FPSLimit = next.FPSLimit
	}
	return o
}

// Action tells the caller what to do with an output after an update.
type Action int

const (
	ActionNone     Action = iota
	ActionActivate        // create surface, context and scheduler
	ActionRecreate        // tear down and activate again
	ActionResize          // geometry/scale changed only
	ActionUpdate          // pacing policy changed only
	ActionInactive        // no usable config; tear down if active and report
	ActionRemove          // output disappeared
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionActivate:
		return "activate"
	case ActionRecreate:
		return "recreate"
	case ActionResize:
		return "resize"
	case ActionUpdate:
		return "update"
	case ActionInactive:
		return "inactive"
	case ActionRemove:
		return "remove"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Change is the registry's verdict for one output.
type Change struct {
	Action    Action
	Output    Output
	Effective Effective
	Reason    error // set for ActionInactive
}

type entry struct {
	output   Output
	eff      Effective
	resolved bool
	reason   error
}

// Registry owns the set of known outputs and their resolved configuration.
// It is safe for concurrent use; callers always receive copies.
type Registry struct {
	mu        sync.RWMutex
	rules     *ruleSet
	outputs   map[string]*entry
	global    Override
	overrides map[string]Override
	logger    *slog.Logger
}

// NewRegistry builds a registry over the given rules.
func NewRegistry(rules []config.OutputRule, logger *slog.Logger) (*Registry, error) {
	rs, err := newRuleSet(rules)
	if err != nil {
		return nil, err
	}
	return &Registry{
		rules:     rs,
		outputs:   make(map[string]*entry),
		overrides: make(map[string]Override),
		logger:    logging.OrDiscard(logger),
	}, nil
}

// Apply dispatches a hotplug event.
func (r *Registry) Apply(ev Event) Change {
	switch ev.Kind {
	case EventAdded:
		return r.Added(ev.Output)
	case EventChanged:
		return r.Changed(ev.Output)
	case EventRemoved:
		return r.Removed(ev.Output.Name)
	}
	return Change{Action: ActionNone, Output: ev.Output}
}

// Added records a new output. A repeated add for a known name is treated as
// a change.
func (r *Registry) Added(o Output) Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.outputs[o.Name]; ok {
		return r.changedLocked(o)
	}
	return r.addedLocked(o)
}

func (r *Registry) addedLocked(o Output) Change {
	eff, err := r.resolveLocked(o)
	e := &entry{output: o, eff: eff, resolved: err == nil, reason: err}
	r.outputs[o.Name] = e

	if err != nil {
		r.logger.Warn("output inactive", "output", o.Name, "reason", err)
		return Change{Action: ActionInactive, Output: o, Reason: err}
	}
	r.logger.Info("output added", "output", o.Name, "rule", eff.Match.String(), "source", eff.Source.String())
	return Change{Action: ActionActivate, Output: o, Effective: eff}
}

// Changed recomputes the effective config after a geometry or mode change.
func (r *Registry) Changed(o Output) Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.outputs[o.Name]; !ok {
		return r.addedLocked(o)
	}
	return r.changedLocked(o)
}

func (r *Registry) changedLocked(o Output) Change {
	e := r.outputs[o.Name]
	prev := *e
	e.output = o
	return r.reevaluateLocked(e, prev)
}

func (r *Registry) reevaluateLocked(e *entry, prev entry) Change {
	o := e.output
	eff, err := r.resolveLocked(o)
	e.eff, e.resolved, e.reason = eff, err == nil, err

	switch {
	case err != nil:
		if prev.resolved {
			r.logger.Warn("output deactivated", "output", o.Name, "reason", err)
			return Change{Action: ActionInactive, Output: o, Reason: err}
		}
		return Change{Action: ActionNone, Output: o, Reason: err}
	case !prev.resolved:
		return Change{Action: ActionActivate, Output: o, Effective: eff}
	case prev.eff.needsRecreate(eff):
		return Change{Action: ActionRecreate, Output: o, Effective: eff}
	case prev.output.Geometry != o.Geometry:
		return Change{Action: ActionResize, Output: o, Effective: eff}
	case prev.eff.FPSLimit != eff.FPSLimit:
		return Change{Action: ActionUpdate, Output: o, Effective: eff}
	}
	return Change{Action: ActionNone, Output: o, Effective: eff}
}

// Removed forgets an output.
func (r *Registry) Removed(name string) Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.outputs[name]
	if !ok {
		return Change{Action: ActionNone, Output: Output{Name: name}, Reason: ErrUnknownOutput}
	}
	delete(r.outputs, name)
	delete(r.overrides, name)
	r.logger.Info("output removed", "output", name)
	return Change{Action: ActionRemove, Output: e.output, Effective: e.eff}
}

// Resolve returns the effective configuration for o without recording it.
func (r *Registry) Resolve(o Output) (Effective, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(o)
}

func (r *Registry) resolveLocked(o Output) (Effective, error) {
	if !o.Geometry.Valid() {
		return Effective{}, ErrInvalidGeometry
	}
	cr, ok := r.rules.lookup(o.Name)
	if !ok {
		return Effective{}, ErrNoMatchingRule
	}
	if cr.rule.Disabled {
		return Effective{}, fmt.Errorf("%w (%s)", ErrOutputDisabled, cr.rule.Match)
	}

	eff := Effective{
		Match:          cr.rule.Match,
		Source:         cr.rule.Source,
		Layout:         cr.rule.Layout,
		FPSLimit:       cr.rule.FPSLimit,
		ToneMap:        cr.rule.HDRToneMap,
		HDRPassthrough: cr.rule.HDRPassthrough || o.HDRPassthrough,
	}
	eff = r.global.apply(eff)
	if ov, ok := r.overrides[o.Name]; ok {
		eff = ov.apply(eff)
	}
	if eff.Source.IsZero() {
		return Effective{}, ErrNoMatchingRule
	}
	return eff, nil
}

// SetRules swaps the rule set (config reload) and returns the resulting
// change for every known output, sorted by name.
func (r *Registry) SetRules(rules []config.OutputRule) ([]Change, error) {
	rs, err := newRuleSet(rules)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = rs
	return r.reevaluateAllLocked(""), nil
}

// SetOverride layers a runtime override over the matched rules. An empty
// name applies it to every output.
func (r *Registry) SetOverride(name string, ov Override) ([]Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		r.global = r.global.merge(ov)
		return r.reevaluateAllLocked(""), nil
	}
	if _, ok := r.outputs[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOutput, name)
	}
	r.overrides[name] = r.overrides[name].merge(ov)
	return r.reevaluateAllLocked(name), nil
}

// ClearOverrides drops all runtime overrides.
func (r *Registry) ClearOverrides() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global = Override{}
	r.overrides = make(map[string]Override)
	return r.reevaluateAllLocked("")
}

func (r *Registry) reevaluateAllLocked(only string) []Change {
	names := r.sortedNamesLocked()
	changes := make([]Change, 0, len(names))
	for _, name := range names {
		if only != "" && name != only {
			continue
		}
		e := r.outputs[name]
		prev := *e
		changes = append(changes, r.reevaluateLocked(e, prev))
	}
	return changes
}

// Outputs returns all known outputs sorted by name.
func (r *Registry) Outputs() []Output {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.sortedNamesLocked()
	out := make([]Output, 0, len(names))
	for _, name := range names {
		out = append(out, r.outputs[name].output)
	}
	return out
}

// Snapshot is a copy of one registry entry.
type Snapshot struct {
	Output    Output
	Effective Effective
	Resolved  bool
	Reason    error
}

// Get returns a snapshot of the named output.
func (r *Registry) Get(name string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.outputs[name]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{Output: e.output, Effective: e.eff, Resolved: e.resolved, Reason: e.reason}, true
}

func (r *Registry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.outputs))
	for name := range r.outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
