package llm

import "fmt"

// Kind classifies why a completion call did not produce text
type Kind int

const (
	KindUnexpected Kind = iota
	KindConfigMissing
	KindTimeout
	KindTransport
	KindBadStatus
	KindMalformedBody
	KindMissingField
)

func (k Kind) String() string {
	switch k {
	case KindConfigMissing:
		return "config_missing"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindBadStatus:
		return "bad_status"
	case KindMalformedBody:
		return "malformed_body"
	case KindMissingField:
		return "missing_field"
	default:
		return "unexpected"
	}
}

// Error is returned by Client.Chat for every failed call
type Error struct {
	Kind       Kind
	StatusCode int // set for KindBadStatus
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindBadStatus {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Description returns the underlying cause without the kind prefix
func (e *Error) Description() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}
