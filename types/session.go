package types

// ConnectionState is the realtime transport state as seen by the session.
type ConnectionState int

const (
	ConnectionDisconnected ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionErrored
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionErrored:
		return "errored"
	}
	return "unknown"
}

// Identity is the persisted per-device identity: a stable local user id
// generated on first visit plus the chosen display name.
type Identity struct {
	UserId      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}
