package transport

import "fmt"

// State - состояние транспорта живых обновлений
type State int

const (
	Connecting State = iota
	Streaming
	Reconnecting
	Polling
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Streaming:
		return "Streaming"
	case Reconnecting:
		return "Reconnecting"
	case Polling:
		return "Polling"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status - снимок состояния для наблюдателей вне цикла событий
type Status struct {
	State     State
	Attempt   int
	Connected bool
}

func (s Status) String() string {
	if s.State == Reconnecting {
		return fmt.Sprintf("Reconnecting(%d)", s.Attempt)
	}
	return s.State.String()
}
