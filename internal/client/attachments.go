package client

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chatooly/toolbuilder/internal/protocol"
)

// ErrTooManyAttachments is returned once the pending set is full.
var ErrTooManyAttachments = errors.New("too many attachments")

// Attachments collects images picked or pasted for the next chat, enforcing
// the server's count and size limits before anything is encoded.
type Attachments struct {
	maxCount int
	maxBytes int64

	mu      sync.Mutex
	pending []protocol.Attachment
}

// NewAttachments creates an empty set. A non-positive maxCount disables
// attachments; a non-positive maxBytes leaves size unchecked.
func NewAttachments(maxCount int, maxBytes int64) *Attachments {
	return &Attachments{maxCount: maxCount, maxBytes: maxBytes}
}

// Fits reports whether an image of the given size would be accepted.
func (a *Attachments) Fits(mediaType string, size int64) error {
	if !strings.HasPrefix(strings.ToLower(mediaType), "image/") {
		return fmt.Errorf("%q is not an image", mediaType)
	}
	if a.maxBytes > 0 && size > a.maxBytes {
		return fmt.Errorf("image is %d bytes, limit is %d", size, a.maxBytes)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) >= a.maxCount {
		return ErrTooManyAttachments
	}
	return nil
}

// Add base64-encodes data and queues it for the next chat.
func (a *Attachments) Add(mediaType string, data []byte) error {
	if err := a.Fits(mediaType, int64(len(data))); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) >= a.maxCount {
		return ErrTooManyAttachments
	}
	a.pending = append(a.pending, protocol.Attachment{
		Type:      "image",
		MediaType: strings.ToLower(mediaType),
		Data:      base64.StdEncoding.EncodeToString(data),
	})
	return nil
}

// Len returns the number of queued attachments.
func (a *Attachments) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Take returns the queued attachments and empties the set.
func (a *Attachments) Take() []protocol.Attachment {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.pending
	a.pending = nil
	return out
}
