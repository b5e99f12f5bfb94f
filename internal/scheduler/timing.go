package scheduler

import "time"

const (
	timingWindow     = 60
	timingMinSamples = 10
	overloadRatio    = 0.80
	recoverRatio     = 0.60
	timingStreak     = 3
)

// TimingStats summarizes recent render times.
type TimingStats struct {
	Samples    int           `json:"samples"`
	Average    time.Duration `json:"average"`
	Max        time.Duration `json:"max"`
	Budget     time.Duration `json:"budget"`
	Overloaded bool          `json:"overloaded"`
}

// Timing tracks how long each frame takes against the pacing budget.
// Overload is declared after timingStreak consecutive frames whose rolling
// average exceeds overloadRatio of the budget and cleared after as many
// below recoverRatio.
type Timing struct {
	samples    [timingWindow]time.Duration
	n, next    int
	sum        time.Duration
	budget     time.Duration
	overloaded bool
	streak     int
}

// Record adds a sample and reports whether the overload flag flipped.
func (t *Timing) Record(d, budget time.Duration) bool {
	if t.n == timingWindow {
		t.sum -= t.samples[t.next]
	} else {
		t.n++
	}
	t.samples[t.next] = d
	t.sum += d
	t.next = (t.next + 1) % timingWindow
	t.budget = budget

	if t.n < timingMinSamples || budget <= 0 {
		return false
	}
	ratio := float64(t.sum/time.Duration(t.n)) / float64(budget)
	var crossing bool
	if t.overloaded {
		crossing = ratio < recoverRatio
	} else {
		crossing = ratio > overloadRatio
	}
	if !crossing {
		t.streak = 0
		return false
	}
	t.streak++
	if t.streak < timingStreak {
		return false
	}
	t.overloaded = !t.overloaded
	t.streak = 0
	return true
}

func (t *Timing) Overloaded() bool { return t.overloaded }

func (t *Timing) Stats() TimingStats {
	st := TimingStats{Samples: t.n, Budget: t.budget, Overloaded: t.overloaded}
	if t.n == 0 {
		return st
	}
	st.Average = t.sum / time.Duration(t.n)
	for i := 0; i < t.n; i++ {
		if t.samples[i] > st.Max {
			st.Max = t.samples[i]
		}
	}
	return st
}

// Reset drops every sample.
func (t *Timing) Reset() { *t = Timing{} }
