package lifecycle

// State is a trade lifecycle state. States only move forward.
type State string

const (
	StateNoTrade       State = "NO_TRADE"
	StateArmed         State = "ARMED"
	StateEntryPending  State = "ENTRY_PENDING"
	StateOpen          State = "OPEN"
	StateCheckpoint1   State = "CHECKPOINT_1"
	StateCheckpoint2   State = "CHECKPOINT_2"
	StateExiting       State = "EXITING"
	StateExitConfirmed State = "EXIT_CONFIRMED"
)

var order = map[State]int{
	StateNoTrade:       0,
	StateArmed:         1,
	StateEntryPending:  2,
	StateOpen:          3,
	StateCheckpoint1:   4,
	StateCheckpoint2:   5,
	StateExiting:       6,
	StateExitConfirmed: 7,
}

// rank returns the position of s in the lifecycle, or -1 if unknown.
func (s State) rank() int {
	if r, ok := order[s]; ok {
		return r
	}
	return -1
}

// Active reports whether a trade in state s still holds exposure.
func (s State) Active() bool {
	r := s.rank()
	return r >= order[StateArmed] && r < order[StateExitConfirmed]
}

// InMarket reports whether the entry order has filled.
func (s State) InMarket() bool {
	r := s.rank()
	return r >= order[StateOpen] && r < order[StateExitConfirmed]
}
