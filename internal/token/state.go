package token

import (
	"encoding/json"
	"fmt"
)

// Status represents the lifecycle status of the session token.
type Status int32

const (
	// StatusNoToken indicates no credential material is present.
	StatusNoToken Status = iota

	// StatusValid indicates the token is valid and not near expiry.
	StatusValid

	// StatusExpiringSoon indicates the token is valid but within the
	// refresh threshold of expiry.
	StatusExpiringSoon

	// StatusExpired indicates the token's embedded expiry has passed.
	StatusExpired
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusNoToken:
		return "no_token"
	case StatusValid:
		return "valid"
	case StatusExpiringSoon:
		return "expiring_soon"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseStatus(str)
	return nil
}

// ParseStatus converts a string to Status.
func ParseStatus(s string) Status {
	switch s {
	case "valid":
		return StatusValid
	case "expiring_soon":
		return StatusExpiringSoon
	case "expired":
		return StatusExpired
	default:
		return StatusNoToken
	}
}

// Usable reports whether a token in this status may be attached to an
// authorized call.
func (s Status) Usable() bool {
	return s == StatusValid || s == StatusExpiringSoon
}

// ValidTransitions defines allowed status transitions. Time-based transitions
// (Valid -> ExpiringSoon -> Expired) are detected on read, never driven by a
// timer; any status may be found Expired once the embedded claims say so.
var ValidTransitions = map[Status][]Status{
	StatusNoToken:      {StatusValid},
	StatusValid:        {StatusExpiringSoon, StatusExpired, StatusNoToken},
	StatusExpiringSoon: {StatusValid, StatusExpired, StatusNoToken},
	StatusExpired:      {StatusNoToken, StatusValid},
}

// CanTransition returns true if the transition from -> to is valid.
func CanTransition(from, to Status) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
