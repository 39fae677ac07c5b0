package connection

type ConnectionState uint8

const (
	ConnectionState_Idle ConnectionState = iota
	ConnectionState_Connecting
	ConnectionState_JoinGameRequest
	ConnectionState_SynchronizingClock
	ConnectionState_CanEnterGame
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionState_Idle:
		return "Idle"
	case ConnectionState_Connecting:
		return "Connecting"
	case ConnectionState_JoinGameRequest:
		return "JoinGameRequest"
	case ConnectionState_SynchronizingClock:
		return "SynchronizingClock"
	case ConnectionState_CanEnterGame:
		return "CanEnterGame"
	}
	return "Unknown"
}
