package service

import "time"

// Record is the token slot of one user. Only the hash of the raw token is
// kept; a zero ExpiresAt means no token was ever issued.
type Record struct {
	UserID    string
	TokenHash string
	ExpiresAt time.Time
}

// Empty reports whether the slot has never been populated.
func (r Record) Empty() bool {
	return r.ExpiresAt.IsZero()
}

type State int

const (
	StateNoToken State = iota
	StateValid
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	default:
		return "no_token"
	}
}

// Reissuable reports whether a new token may be issued from this state.
func (s State) Reissuable() bool {
	return s != StateValid
}

// Status is the evaluated state of a slot. ExpiresAt is zero for StateNoToken.
type Status struct {
	State     State
	ExpiresAt time.Time
}

func (s Status) Valid() bool {
	return s.State == StateValid
}

// Evaluate computes the state of a record at the given instant. A record is
// valid iff it has an expiration strictly after now.
func Evaluate(
	record Record,
	now time.Time,
) Status {
	if record.Empty() {
		return Status{State: StateNoToken}
	}
	if now.Before(record.ExpiresAt) {
		return Status{State: StateValid, ExpiresAt: record.ExpiresAt}
	}
	return Status{State: StateExpired, ExpiresAt: record.ExpiresAt}
}

func IsValid(
	record Record,
	now time.Time,
) bool {
	return Evaluate(record, now).Valid()
}
