package capture

import (
	"sync"

	"github.com/bryanchriswhite/screenmask/internal/logger"
)

// PromotionThreshold is the number of consecutive successes a method needs
// before it can become a display's preferred method.
const PromotionThreshold = 3

// adaptiveMethods lists the selector's states from highest to lowest performance.
var adaptiveMethods = []Method{MethodOptimized, MethodStandard, MethodAlternative}

// MethodState is the adaptive state of one display.
type MethodState struct {
	Successes map[Method]uint32 `json:"successes"`
	Preferred Method            `json:"preferred"`
}

func newMethodState() *MethodState {
	return &MethodState{
		Successes: make(map[Method]uint32, len(adaptiveMethods)),
		Preferred: MethodOptimized,
	}
}

func (s *MethodState) clone() MethodState {
	c := MethodState{
		Successes: make(map[Method]uint32, len(s.Successes)),
		Preferred: s.Preferred,
	}
	for m, n := range s.Successes {
		c.Successes[m] = n
	}
	return c
}

// promote moves Preferred to the highest-performance method whose counter
// has reached the threshold. Preferred is left alone when none has.
func (s *MethodState) promote() {
	for _, m := range adaptiveMethods {
		if s.Successes[m] >= PromotionThreshold {
			s.Preferred = m
			return
		}
	}
}

// Selector tracks per-display method state. Every display is independent.
type Selector struct {
	mu     sync.Mutex
	states map[int]*MethodState
}

// NewSelector creates an empty selector.
func NewSelector() *Selector {
	return &Selector{states: make(map[int]*MethodState)}
}

// state returns the display's state, creating it on first use. Caller holds mu.
func (s *Selector) state(displayID int) *MethodState {
	st, ok := s.states[displayID]
	if !ok {
		st = newMethodState()
		s.states[displayID] = st
	}
	return st
}

// Order returns the methods to attempt for a display, starting at its
// preferred method and never trying a method ranked above it.
func (s *Selector) Order(displayID int) []Method {
	s.mu.Lock()
	defer s.mu.Unlock()

	preferred := s.state(displayID).Preferred
	for i, m := range adaptiveMethods {
		if m == preferred {
			order := make([]Method, len(adaptiveMethods)-i)
			copy(order, adaptiveMethods[i:])
			return order
		}
	}
	return []Method{MethodOptimized, MethodStandard, MethodAlternative}
}

// Preferred returns a display's preferred method.
func (s *Selector) Preferred(displayID int) Method {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(displayID).Preferred
}

// RecordSuccess increments m's counter for the display only.
func (s *Selector) RecordSuccess(displayID int, m Method) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(displayID)
	st.Successes[m]++
	s.afterRecord(displayID, st)
}

// RecordFailure resets m's counter for the display only.
func (s *Selector) RecordFailure(displayID int, m Method) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(displayID)
	st.Successes[m] = 0
	s.afterRecord(displayID, st)
}

func (s *Selector) afterRecord(displayID int, st *MethodState) {
	before := st.Preferred
	st.promote()
	if st.Preferred != before {
		logger.WithComponent("selector").Info().
			Int("display", displayID).
			Str("from", before.String()).
			Str("to", st.Preferred.String()).
			Msg("Preferred capture method changed")
	}
}

// Snapshot returns a copy of every display's state.
func (s *Selector) Snapshot() map[int]MethodState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]MethodState, len(s.states))
	for id, st := range s.states {
		out[id] = st.clone()
	}
	return out
}

// Reset forgets a display's state so the next attempt starts cold.
func (s *Selector) Reset(displayID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, displayID)
}

// ResetAll forgets every display's state.
func (s *Selector) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = make(map[int]*MethodState)
}
