package workqueue

import "sync"

// ConcurrencyStrategy controls how many tasks may run concurrently. The
// queue consults it before starting a pending task and reports every start
// and settlement back to it.
type ConcurrencyStrategy interface {
	// CanStart returns true if another task may start now.
	CanStart() bool
	// OnStart is called when a task starts.
	OnStart()
	// OnComplete is called when a task settles, in any terminal state.
	OnComplete()
}

// slotLimiter counts running tasks against a fixed ceiling.
type slotLimiter struct {
	mu      sync.Mutex
	ceiling int
	running int
}

func (l *slotLimiter) CanStart() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running < l.ceiling
}

func (l *slotLimiter) OnStart() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running++
}

func (l *slotLimiter) OnComplete() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running > 0 {
		l.running--
	}
}

// SerializedStrategy runs one task at a time. A scan holds a target
// database connection for its whole lifetime, so this is the conservative
// default.
type SerializedStrategy struct {
	slotLimiter
}

// NewSerializedStrategy creates a strategy that runs tasks one at a time.
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{slotLimiter{ceiling: 1}}
}

// ThrottledStrategy allows up to a fixed number of tasks to run in
// parallel. Used when the operator raises scanner.max_concurrent_scans
// above one.
type ThrottledStrategy struct {
	slotLimiter
}

// NewThrottledStrategy creates a strategy that admits up to maxConcurrent
// tasks at once. Values below one are raised to one.
func NewThrottledStrategy(maxConcurrent int) *ThrottledStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ThrottledStrategy{slotLimiter{ceiling: maxConcurrent}}
}

var (
	_ ConcurrencyStrategy = (*SerializedStrategy)(nil)
	_ ConcurrencyStrategy = (*ThrottledStrategy)(nil)
)
