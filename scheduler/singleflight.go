package scheduler

import "sync"

// State of a SingleFlight guard.
type State int

const (
	Idle State = iota
	Processing
)

func (s State) String() string {
	if s == Processing {
		return "processing"
	}
	return "idle"
}

// SingleFlight lets at most one recognition pass run at a time. Callers that
// arrive while a pass is running are turned away rather than queued.
type SingleFlight struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state State
}

func NewSingleFlight() *SingleFlight {
	s := &SingleFlight{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *SingleFlight) Admit() (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Processing {
		return nil, false
	}
	s.state = Processing

	var once sync.Once
	return func() { once.Do(s.finish) }, true
}

func (s *SingleFlight) finish() {
	s.mu.Lock()
	s.state = Idle
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *SingleFlight) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WaitIdle blocks until no pass is running.
func (s *SingleFlight) WaitIdle() {
	s.mu.Lock()
	for s.state == Processing {
		s.cond.Wait()
	}
	s.mu.Unlock()
}
