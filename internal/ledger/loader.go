package ledger

import (
	"context"
	"sync"
)

// Phase of a load operation.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseLoaded
	PhaseLoadedEmpty
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseLoaded:
		return "loaded"
	case PhaseLoadedEmpty:
		return "empty"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// LoadState a snapshot of a Loader.
// HasData stays true after a failed refresh so the previous Data remains displayable.
type LoadState[T any] struct {
	Phase      Phase
	Data       T
	HasData    bool
	Err        error
	Generation uint64
}

// Ticket identifies one fetch. Only the newest ticket may settle the loader.
type Ticket uint64

// Loader tracks Idle → Loading → Loaded | LoadedEmpty | Failed and drops
// completions from fetches that were superseded by a later Begin.
type Loader[T any] struct {
	mu      sync.Mutex
	gen     uint64
	state   LoadState[T]
	isEmpty func(T) bool
}

// NewLoader; isEmpty decides between Loaded and LoadedEmpty (nil means never empty).
func NewLoader[T any](isEmpty func(T) bool) *Loader[T] {
	return &Loader[T]{isEmpty: isEmpty}
}

// Begin starts a fetch and invalidates every earlier ticket.
func (l *Loader[T]) Begin() Ticket {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	l.state.Phase = PhaseLoading
	l.state.Err = nil
	l.state.Generation = l.gen
	return Ticket(l.gen)
}

// Resolve settles ticket t. It returns false, leaving the state untouched, when t is stale.
func (l *Loader[T]) Resolve(t Ticket, data T, err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if uint64(t) != l.gen {
		return false
	}
	if err != nil {
		l.state.Phase = PhaseFailed
		l.state.Err = err
		return true
	}
	l.state.Data = data
	l.state.HasData = true
	l.state.Err = nil
	if l.isEmpty != nil && l.isEmpty(data) {
		l.state.Phase = PhaseLoadedEmpty
	} else {
		l.state.Phase = PhaseLoaded
	}
	return true
}

func (l *Loader[T]) Snapshot() LoadState[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Run drives one fetch through l. applied is false when a newer fetch won.
func Run[T any](ctx context.Context, l *Loader[T], fetch func(context.Context) (T, error)) (state LoadState[T], applied bool) {
	t := l.Begin()
	data, err := fetch(ctx)
	applied = l.Resolve(t, data, err)
	return l.Snapshot(), applied
}
