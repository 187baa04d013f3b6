package window

import (
	"sync"
	"time"

	"github.com/fabricdb/qfabric/dag"
)

// AnalyzeFunc receives a freshly-sealed Collection. Manager invokes it
// on its own goroutine so the timer loop is never blocked by analysis
// (mirrors DagCollection's own dedicated worker_thread_ that wakes on
// seal and calls analyze()).
type AnalyzeFunc func(*Collection)

// Manager is the window collection manager of spec.md §4.8: it keeps
// one "current" collection, stamps window_start on the first arrival
// after idle, and seals the window once window_duration has elapsed
// since then. Flush and Shutdown close the window immediately.
//
// Grounded on
// original_source/grouper/src/DAGCollectionManager.cpp: the C++
// dedicated timer thread's condition_variable::wait/wait_for pair
// becomes a single buffered Go channel (notify) that the timer
// goroutine selects on alongside its own time.Timer, which is the
// idiomatic Go replacement for a timed condvar wait with a predicate.
type Manager struct {
	analyze AnalyzeFunc

	mu             sync.Mutex
	windowDuration time.Duration
	current        *Collection
	windowStart    time.Time
	completed      []*Collection

	notify   chan struct{}
	shutdown chan struct{}
	done     chan struct{}
}

// NewManager starts a Manager with the given window duration. analyze
// may be nil (useful in tests that only exercise window-closing
// timing). Callers must call Shutdown to release the timer goroutine.
func NewManager(windowDuration time.Duration, analyze AnalyzeFunc) *Manager {
	m := &Manager{
		analyze:        analyze,
		windowDuration: windowDuration,
		notify:         make(chan struct{}, 1),
		shutdown:       make(chan struct{}),
		done:           make(chan struct{}),
	}
	go m.timerLoop()
	return m
}

// SetWindowDuration changes the window length; it takes effect for
// the window currently open (the timer loop re-reads it on its next
// wake) and for every subsequent one.
func (m *Manager) SetWindowDuration(d time.Duration) {
	m.mu.Lock()
	m.windowDuration = d
	m.mu.Unlock()
	m.wake()
}

// Add routes d into the current collection, starting a new window if
// none is open.
func (m *Manager) Add(d *dag.DAG) {
	m.mu.Lock()
	if m.current == nil {
		m.current = NewCollection()
	}
	if m.windowStart.IsZero() {
		m.windowStart = time.Now()
	}
	_ = m.current.Add(d) // current is only replaced under this same lock, so it is never sealed here
	m.mu.Unlock()
	m.wake()
}

// Flush closes the current window immediately, if one is open.
func (m *Manager) Flush() {
	m.mu.Lock()
	m.closeCurrentLocked()
	m.mu.Unlock()
}

// CompletedCount returns the number of sealed collections handed off
// so far.
func (m *Manager) CompletedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completed)
}

// Shutdown closes the current window (if any) and stops the timer
// goroutine, blocking until it has exited.
func (m *Manager) Shutdown() {
	close(m.shutdown)
	<-m.done
}

func (m *Manager) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// closeCurrentLocked seals the current collection, records it, and
// dispatches it to analyze on its own goroutine. Caller must hold mu.
func (m *Manager) closeCurrentLocked() {
	if m.current == nil {
		return
	}
	c := m.current
	_ = c.Seal()
	m.completed = append(m.completed, c)
	m.current = nil
	m.windowStart = time.Time{}
	if m.analyze != nil {
		go m.analyze(c)
	}
}

func (m *Manager) timerLoop() {
	defer close(m.done)
	for {
		m.mu.Lock()
		var wait time.Duration
		active := !m.windowStart.IsZero()
		if active {
			elapsed := time.Since(m.windowStart)
			if elapsed >= m.windowDuration {
				m.closeCurrentLocked()
				m.mu.Unlock()
				continue
			}
			wait = m.windowDuration - elapsed
		}
		m.mu.Unlock()

		if !active {
			select {
			case <-m.shutdown:
				m.mu.Lock()
				m.closeCurrentLocked()
				m.mu.Unlock()
				return
			case <-m.notify:
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-m.shutdown:
			timer.Stop()
			m.mu.Lock()
			m.closeCurrentLocked()
			m.mu.Unlock()
			return
		case <-m.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}
