package file

import "sync"

// progressReporter turns byte counts into a clamped, non-decreasing ratio
// and goes silent once the upload reaches a terminal outcome.
type progressReporter struct {
	mu   sync.Mutex
	fn   ProgressFunc
	last float64
	done bool
}

func newProgressReporter(fn ProgressFunc) *progressReporter {
	return &progressReporter{fn: fn}
}

func (p *progressReporter) report(transferred, total int64) {
	if p.fn == nil || total <= 0 {
		return
	}

	ratio := float64(transferred) / float64(total)
	switch {
	case ratio < 0:
		ratio = 0
	case ratio > 1:
		ratio = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done || ratio < p.last {
		return
	}
	p.last = ratio
	p.fn(ratio)
}

func (p *progressReporter) finish() {
	p.mu.Lock()
	p.done = true
	p.mu.Unlock()
}
