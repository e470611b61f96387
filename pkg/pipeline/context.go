package pipeline

import (
	"sync"
	"time"

	"github.com/wrogo/wro/pkg/options"
	"github.com/wrogo/wro/pkg/resource"
)

// ProcessingContext carries the per request state of one pipeline run: the
// request id, and the options and model snapshots the run must stay
// consistent with. It is passed explicitly and released on every path.
type ProcessingContext struct {
	RequestID string
	Options   options.Options
	Model     *resource.Model
	Started   time.Time

	mu        sync.Mutex
	released  bool
	onRelease []func()
}

// NewProcessingContext snapshots opts and model for one request.
func NewProcessingContext(requestID string, opts options.Options, model *resource.Model) *ProcessingContext {
	return &ProcessingContext{
		RequestID: requestID,
		Options:   opts,
		Model:     model,
		Started:   time.Now(),
	}
}

// OnRelease registers fn to run when the context is released. If the
// context is already released fn runs immediately.
func (pc *ProcessingContext) OnRelease(fn func()) {
	pc.mu.Lock()
	if pc.released {
		pc.mu.Unlock()
		fn()
		return
	}
	pc.onRelease = append(pc.onRelease, fn)
	pc.mu.Unlock()
}

// Release runs the release hooks in reverse registration order. Calling it
// more than once is a no-op.
func (pc *ProcessingContext) Release() {
	pc.mu.Lock()
	if pc.released {
		pc.mu.Unlock()
		return
	}
	pc.released = true
	hooks := pc.onRelease
	pc.onRelease = nil
	pc.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

// Released reports whether Release was called.
func (pc *ProcessingContext) Released() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.released
}
