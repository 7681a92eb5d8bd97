package bargain

import "testing"

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := []struct{ from, to SessionStatus }{
		{StatusActive, StatusRound1},
		{StatusRound1, StatusRound2},
		{StatusRound2, StatusRound3},
		{StatusRound1, StatusAccepted},
		{StatusRound3, StatusAccepted},
		{StatusAccepted, StatusHeld},
		{StatusHeld, StatusBooked},
		{StatusActive, StatusExpired},
		{StatusRound2, StatusAbandoned},
	}
	for _, c := range allowed {
		if !CanTransition(c.from, c.to) {
			t.Errorf("expected %s -> %s to be allowed", c.from, c.to)
		}
	}

	forbidden := []struct{ from, to SessionStatus }{
		{StatusActive, StatusAccepted},
		{StatusActive, StatusRound2},
		{StatusRound2, StatusRound1},
		{StatusAccepted, StatusRound1},
		{StatusBooked, StatusExpired},
		{StatusExpired, StatusActive},
		{StatusAbandoned, StatusRound1},
	}
	for _, c := range forbidden {
		if CanTransition(c.from, c.to) {
			t.Errorf("expected %s -> %s to be forbidden", c.from, c.to)
		}
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []SessionStatus{StatusBooked, StatusExpired, StatusAbandoned} {
		if !Terminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []SessionStatus{StatusActive, StatusRound1, StatusAccepted, StatusHeld} {
		if Terminal(s) {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestRoundStatus(t *testing.T) {
	t.Parallel()

	for round, want := range map[int]SessionStatus{1: StatusRound1, 2: StatusRound2, 3: StatusRound3} {
		got, err := RoundStatus(round)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if got != want {
			t.Errorf("round %d: got %s want %s", round, got, want)
		}
	}
	if _, err := RoundStatus(4); err == nil {
		t.Errorf("expected error for round 4")
	}
}
