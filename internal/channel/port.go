package channel

import "errors"

var (
	ErrClosed          = errors.New("channel: port closed")
	ErrMessageTooLarge = errors.New("channel: message too large")
	ErrInvalidFrame    = errors.New("channel: payload contains a line break")
)

// MaxMessageSize bounds one framed payload on stream ports.
const MaxMessageSize = 128 * 1024

// Handler receives inbound messages and channel errors.
type Handler struct {
	Message func(data []byte)
	Error   func(err error)
}

// Port is one end of a message channel.
type Port interface {
	// Post queues data for the peer.
	Post(data []byte) error
	// Listen starts delivery to h. Only the first call has an effect.
	Listen(h Handler)
	// Close stops delivery and rejects further posts.
	Close() error
}

// Raiser is implemented by ports that can surface an error on the peer.
type Raiser interface {
	Raise(err error)
}

func (h Handler) message(data []byte) {
	if h.Message != nil {
		h.Message(data)
	}
}

func (h Handler) error(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}
