package bargain

import "fmt"

type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusRound1    SessionStatus = "round1"
	StatusRound2    SessionStatus = "round2"
	StatusRound3    SessionStatus = "round3"
	StatusAccepted  SessionStatus = "accepted"
	StatusHeld      SessionStatus = "held"
	StatusBooked    SessionStatus = "booked"
	StatusExpired   SessionStatus = "expired"
	StatusAbandoned SessionStatus = "abandoned"
)

var validNext = map[SessionStatus]map[SessionStatus]bool{
	StatusActive:    {StatusRound1: true, StatusExpired: true, StatusAbandoned: true},
	StatusRound1:    {StatusRound2: true, StatusAccepted: true, StatusExpired: true, StatusAbandoned: true},
	StatusRound2:    {StatusRound3: true, StatusAccepted: true, StatusExpired: true, StatusAbandoned: true},
	StatusRound3:    {StatusAccepted: true, StatusExpired: true, StatusAbandoned: true},
	StatusAccepted:  {StatusHeld: true, StatusExpired: true, StatusAbandoned: true},
	StatusHeld:      {StatusBooked: true, StatusExpired: true},
	StatusBooked:    {},
	StatusExpired:   {},
	StatusAbandoned: {},
}

func CanTransition(from, to SessionStatus) bool {
	return validNext[from][to]
}

// Terminal reports whether no further transitions are allowed.
func Terminal(s SessionStatus) bool {
	return len(validNext[s]) == 0
}

// RoundStatus maps a round number to the status a session carries after
// that round was played. Supported rounds are 1..3.
func RoundStatus(round int) (SessionStatus, error) {
	switch round {
	case 1:
		return StatusRound1, nil
	case 2:
		return StatusRound2, nil
	case 3:
		return StatusRound3, nil
	}
	return "", fmt.Errorf("unsupported round %d", round)
}
