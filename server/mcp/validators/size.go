package validators

import (
	"errors"
	"sync"

	"github.com/vecmcp/vecmcp/shared"
)

// MessageSizeValidator validates the size of incoming messages
type MessageSizeValidator struct {
	maxSize int64
	mu      sync.RWMutex
}

// NewMessageSizeValidator creates a new message size validator
func NewMessageSizeValidator(maxSize int64) *MessageSizeValidator {
	return &MessageSizeValidator{
		maxSize: maxSize,
	}
}

// SetMaxSize updates the maximum allowed message size
func (v *MessageSizeValidator) SetMaxSize(maxSize int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.maxSize = maxSize
}

// Validate implements the MessageValidator interface
func (v *MessageSizeValidator) Validate(msg *shared.Message) error {
	if len(msg.ID.String()) >= 256 {
		return errors.New("message ID string exceeds maximum allowed length (256 bytes)")
	}

	v.mu.RLock()
	maxSize := v.maxSize
	v.mu.RUnlock()

	if msg.Params != nil && int64(len(*msg.Params)) > maxSize {
		return errors.New("message params exceed maximum allowed size")
	}
	if msg.Result != nil && int64(len(*msg.Result)) > maxSize {
		return errors.New("message result exceeds maximum allowed size")
	}

	return nil
}
