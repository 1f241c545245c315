package workers

import "sync"

type questionState uint8

const (
	questionInFlight questionState = iota + 1
	questionDone
)

// processedSet remembers question ids for the lifetime of the process.
// A question is claimed before work starts; it is either marked done,
// after which it is never claimed again, or released so a later cycle
// can retry it.
type processedSet struct {
	mu  sync.Mutex
	ids map[int64]questionState
}

func newProcessedSet() *processedSet {
	return &processedSet{ids: make(map[int64]questionState)}
}

// claim returns false if id is done or already being worked on.
func (s *processedSet) claim(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.ids[id]; seen {
		return false
	}
	s.ids[id] = questionInFlight
	return true
}

func (s *processedSet) release(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids[id] == questionInFlight {
		delete(s.ids, id)
	}
}

func (s *processedSet) markDone(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = questionDone
}

func (s *processedSet) isDone(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids[id] == questionDone
}

func (s *processedSet) doneCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.ids {
		if st == questionDone {
			n++
		}
	}
	return n
}
