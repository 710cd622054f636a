package classify

import "sync/atomic"

// Holder is a swappable classifier reference. Runs pick up the current
// classifier when they start; a reload mid-run does not affect rows already
// in flight.
type Holder struct {
	current atomic.Pointer[Classifier]
}

// NewHolder creates a holder with an initial classifier.
func NewHolder(c *Classifier) *Holder {
	h := &Holder{}
	h.current.Store(c)
	return h
}

// Get returns the current classifier.
func (h *Holder) Get() *Classifier {
	return h.current.Load()
}

// Replace swaps in a new classifier.
func (h *Holder) Replace(c *Classifier) {
	h.current.Store(c)
}
