package domain

import (
	"github.com/google/uuid"
)

// UserID is the external identity of a user, supplied by the identity
// provider at registration time and treated as opaque.
type UserID string

func (id UserID) String() string {
	return string(id)
}

// ConnID identifies one transport connection session. A user that reconnects
// gets a fresh ConnID.
type ConnID string

func NewConnID() ConnID {
	return ConnID(uuid.New().String())
}

func (id ConnID) String() string {
	return string(id)
}

type CallID string

func NewCallID() CallID {
	return CallID(uuid.New().String())
}

func (id CallID) String() string {
	return string(id)
}
