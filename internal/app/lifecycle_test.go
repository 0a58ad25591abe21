package app

import (
	"testing"
)

func TestNewLifecycle(t *testing.T) {
	l := NewLifecycle("s1", nil, nil)

	if l == nil {
		t.Fatal("NewLifecycle returned nil")
	}
	if l.State() != StatePending {
		t.Errorf("initial state = %v, want StatePending", l.State())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StatePending, "Pending"},
		{StateDialing, "Dialing"},
		{StateReplaying, "Replaying"},
		{StateReconnecting, "Reconnecting"},
		{StateFinished, "Finished"},
		{StateFailed, "Failed"},
		{State(99), "Unknown"},
	}

	for _, tt := range tests {
		got := tt.state.String()
		if got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestLifecycle_TransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		path    []State
		to      State
		wantErr bool
	}{
		{name: "pending to dialing", to: StateDialing},
		{name: "pending to replaying", to: StateReplaying, wantErr: true},
		{name: "dialing to failed", path: []State{StateDialing}, to: StateFailed},
		{name: "dialing to finished", path: []State{StateDialing}, to: StateFinished, wantErr: true},
		{name: "replaying to reconnecting", path: []State{StateDialing, StateReplaying}, to: StateReconnecting},
		{name: "reconnecting to dialing", path: []State{StateDialing, StateReplaying, StateReconnecting}, to: StateDialing},
		{name: "reconnecting to replaying", path: []State{StateDialing, StateReplaying, StateReconnecting}, to: StateReplaying, wantErr: true},
		{name: "finished is terminal", path: []State{StateDialing, StateReplaying, StateFinished}, to: StateDialing, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &stateRecorder{}
			l := NewLifecycle("s1", nil, rec)
			for _, s := range tt.path {
				if err := l.TransitionTo(s, "setup"); err != nil {
					t.Fatalf("setup transition to %v: %v", s, err)
				}
			}
			before := l.State()

			err := l.TransitionTo(tt.to, "test")
			if (err != nil) != tt.wantErr {
				t.Fatalf("TransitionTo(%v) error = %v, wantErr %v", tt.to, err, tt.wantErr)
			}
			if tt.wantErr {
				if l.State() != before {
					t.Errorf("state = %v after rejected transition, want %v", l.State(), before)
				}
				if len(rec.states) != len(tt.path) {
					t.Errorf("rejected transition emitted an event")
				}
				return
			}
			if l.State() != tt.to {
				t.Errorf("state = %v, want %v", l.State(), tt.to)
			}
		})
	}
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StatePending, StateDialing, StateReplaying, StateReconnecting} {
		if s.Terminal() {
			t.Errorf("%v.Terminal() = true, want false", s)
		}
	}
	for _, s := range []State{StateFinished, StateFailed} {
		if !s.Terminal() {
			t.Errorf("%v.Terminal() = false, want true", s)
		}
	}
}
