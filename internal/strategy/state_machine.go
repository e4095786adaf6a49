package strategy

import "sync"

type StateMachine struct {
	mu    sync.Mutex
	State State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{State: StateWatching}
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = nextState(s.State, event)
	return s.State
}

func (s *StateMachine) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

func nextState(current State, event Event) State {
	if event == EventReset {
		return StateWatching
	}
	switch current {
	case StateWatching:
		if event == EventLeg1Filled {
			return StateLeg1Bought
		}
	case StateLeg1Bought:
		if event == EventHedgeFilled {
			return StateDone
		}
	}
	return current
}
