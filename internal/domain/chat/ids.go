package chat

import "github.com/google/uuid"

// NewID returns a random 128-bit identifier for conversations and messages.
func NewID() string {
	return uuid.NewString()
}
