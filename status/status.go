// Package status holds per-domain loading flags and last-error records shared
// by every slice and by presentation.
package status

import (
	"sync"

	ats "github.com/muasya/ats-go"
)

// Snapshot is a copy of the board at one instant.
type Snapshot struct {
	Loading map[ats.Domain]bool          `json:"loading"`
	Errors  map[ats.Domain]*ats.AppError `json:"errors"`
}

// Board is the UI/status slice. Keys are independent: writing one domain
// never touches another.
type Board struct {
	mu      sync.RWMutex
	loading map[ats.Domain]bool
	errs    map[ats.Domain]*ats.AppError
	notify  func()
}

// Option configures a Board.
type Option func(*Board)

// WithNotify sets the change callback, called outside the lock after every write.
func WithNotify(fn func()) Option {
	return func(b *Board) { b.notify = fn }
}

// WithInitialLoading marks domains busy from the start, e.g. auth before bootstrap.
func WithInitialLoading(domains ...ats.Domain) Option {
	return func(b *Board) {
		for _, d := range domains {
			b.loading[d] = true
		}
	}
}

// New creates a Board with every domain idle and error-free.
func New(opts ...Option) *Board {
	b := &Board{
		loading: make(map[ats.Domain]bool, len(ats.Domains)),
		errs:    make(map[ats.Domain]*ats.AppError, len(ats.Domains)),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// SetLoading sets the busy flag of one domain.
func (b *Board) SetLoading(d ats.Domain, v bool) {
	b.mu.Lock()
	b.loading[d] = v
	b.mu.Unlock()
	b.changed()
}

// SetError sets or clears (nil) the error record of one domain.
func (b *Board) SetError(d ats.Domain, e *ats.AppError) {
	b.mu.Lock()
	if e == nil {
		delete(b.errs, d)
	} else {
		cp := *e
		b.errs[d] = &cp
	}
	b.mu.Unlock()
	b.changed()
}

// ClearErrors resets every error record without touching loading flags.
func (b *Board) ClearErrors() {
	b.mu.Lock()
	clear(b.errs)
	b.mu.Unlock()
	b.changed()
}

// Loading reports the busy flag of one domain.
func (b *Board) Loading(d ats.Domain) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loading[d]
}

// Err returns a copy of the error record of one domain, or nil.
func (b *Board) Err(d ats.Domain) *ats.AppError {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.errs[d]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// Track marks d busy and returns the finalizer that clears it. Use with defer
// so the flag is cleared on every path.
func (b *Board) Track(d ats.Domain) (done func()) {
	b.SetLoading(d, true)
	return func() { b.SetLoading(d, false) }
}

// Snapshot copies every domain's flag and error.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Snapshot{
		Loading: make(map[ats.Domain]bool, len(ats.Domains)),
		Errors:  make(map[ats.Domain]*ats.AppError, len(ats.Domains)),
	}
	for _, d := range ats.Domains {
		s.Loading[d] = b.loading[d]
		if e, ok := b.errs[d]; ok {
			cp := *e
			s.Errors[d] = &cp
		} else {
			s.Errors[d] = nil
		}
	}
	return s
}

func (b *Board) changed() {
	if b.notify != nil {
		b.notify()
	}
}
