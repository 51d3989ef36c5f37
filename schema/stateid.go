package schema

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// StateID is a 128-bit identifier, split into two 64-bit halves for wire
// compatibility. It is used for the server's tables-state id and is
// available to producers that need globally unique key spaces.
type StateID struct {
	High uint64 `json:"high"`
	Low  uint64 `json:"low"`
}

// NewStateID returns a random StateID.
func NewStateID() StateID {
	u := uuid.New()
	return StateID{
		High: binary.BigEndian.Uint64(u[:8]),
		Low:  binary.BigEndian.Uint64(u[8:]),
	}
}

// IsZero reports whether both halves are zero.
func (id StateID) IsZero() bool {
	return id.High == 0 && id.Low == 0
}

func (id StateID) String() string {
	return fmt.Sprintf("%016x%016x", id.High, id.Low)
}
