package servicebus

import (
	"errors"

	"github.com/google/uuid"
)

// ErrBatchFull is returned by MessageBatch.AddMessage when adding the message
// would exceed the batch's maximum size.
var ErrBatchFull = errors.New("servicebus: message batch is full")

// ErrBatchConsumed is returned when a batch is modified after being sent.
var ErrBatchConsumed = errors.New("servicebus: message batch was already sent")

// Message is an application-authored outgoing message.
//
// Ownership transfers into the send call that consumes it; a sent message
// must not be mutated or reused afterwards.
type Message struct {
	MessageID             string         `json:"messageId"`
	CorrelationID         string         `json:"correlationId,omitempty"`
	Subject               string         `json:"subject,omitempty"`
	ContentType           string         `json:"contentType,omitempty"`
	SessionID             string         `json:"sessionId,omitempty"`
	PartitionKey          string         `json:"partitionKey,omitempty"`
	Body                  []byte         `json:"body"`
	ApplicationProperties map[string]any `json:"applicationProperties,omitempty"`
}

// NewMessage creates a message with the given body and a generated message ID.
func NewMessage(body []byte) *Message {
	return &Message{
		MessageID: uuid.NewString(),
		Body:      body,
	}
}

// messageSizeOverhead approximates the per-message envelope overhead used for
// batch size accounting when the encoded size is not yet known.
const messageSizeOverhead = 64

// estimatedSize approximates the wire size of the message for batch limits.
func (m *Message) estimatedSize() int {
	size := len(m.Body) + messageSizeOverhead
	size += len(m.MessageID) + len(m.CorrelationID) + len(m.Subject)
	size += len(m.ContentType) + len(m.SessionID) + len(m.PartitionKey)

	for key := range m.ApplicationProperties {
		size += len(key) + messageSizeOverhead
	}

	return size
}

// MessageBatch accumulates messages to be sent as a single atomic wire
// operation. It is single-use: once sent, further mutation fails with
// ErrBatchConsumed.
type MessageBatch struct {
	messages     []*Message
	sizeInBytes  int
	maxSizeBytes int
	consumed     bool
}

// NewMessageBatch creates a batch bounded by maxSizeBytes. A non-positive
// limit disables size accounting.
func NewMessageBatch(maxSizeBytes int) *MessageBatch {
	return &MessageBatch{maxSizeBytes: maxSizeBytes}
}

// AddMessage appends a message to the batch, enforcing the size limit.
func (b *MessageBatch) AddMessage(msg *Message) error {
	if b.consumed {
		return ErrBatchConsumed
	}

	if msg == nil {
		return errors.New("servicebus: cannot add nil message to batch")
	}

	size := msg.estimatedSize()
	if b.maxSizeBytes > 0 && b.sizeInBytes+size > b.maxSizeBytes {
		return ErrBatchFull
	}

	b.messages = append(b.messages, msg)
	b.sizeInBytes += size

	return nil
}

// Len returns the number of messages currently in the batch.
func (b *MessageBatch) Len() int {
	if b == nil {
		return 0
	}

	return len(b.messages)
}

// SizeInBytes returns the estimated wire size of the batch.
func (b *MessageBatch) SizeInBytes() int {
	if b == nil {
		return 0
	}

	return b.sizeInBytes
}

// Consume takes the messages out of the batch, marking it consumed.
// Subsequent AddMessage calls fail with ErrBatchConsumed.
func (b *MessageBatch) Consume() []*Message {
	if b == nil {
		return nil
	}

	b.consumed = true
	messages := b.messages
	b.messages = nil

	return messages
}
