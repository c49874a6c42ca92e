package session

import "fmt"

// Status is the lifecycle state of a session.
type Status int32

const (
	StatusOffline Status = iota
	StatusConnecting
	StatusOnline
)

var statusStrings = map[Status]string{
	StatusOffline:    "offline",
	StatusConnecting: "connecting",
	StatusOnline:     "online",
}

func (s Status) String() string {
	if str, ok := statusStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// MarshalJSON serializes Status as a JSON string (e.g. "online").
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}
