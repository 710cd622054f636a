package run

import "sync"

// Registry tracks the most recently started controller so the control API
// can address "the current run" without holding a reference to every
// task's controller.
type Registry struct {
	mu      sync.Mutex
	current *Controller
}

// Register records a controller as the current run.
func (r *Registry) Register(c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = c
}

// Active returns the current controller if its run is still in progress,
// nil otherwise.
func (r *Registry) Active() *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && r.current.State().Active() {
		return r.current
	}
	return nil
}

// Current returns the most recently registered controller, active or not.
func (r *Registry) Current() *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
