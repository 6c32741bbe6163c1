package models

import (
	"fmt"
	"time"
)

// Message represents a single entry of the conversation transcript. IDs are assigned by the store in
// insertion order, and a message is never modified once stored.
type Message struct {
	ID        uint64    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleSystem is the role of the fixed preamble sent ahead of the history. It is never stored.
	RoleSystem Role = "system"
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a reply from the completion backend, or the apology shown when the
	// backend failed.
	RoleAssistant Role = "assistant"
)

// Validate reports whether r is one of the known roles.
func (r Role) Validate() error {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return nil
	}
	return fmt.Errorf("unknown role %q", string(r))
}
