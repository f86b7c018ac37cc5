// Package sfu coordinates per-room media state against a selective
// forwarding engine. The coordinator owns room/peer bookkeeping; the engine
// owns routers, transports, producers and consumers and is reached only
// through the interfaces below, so tests can swap in a fake and the pion
// implementation stays replaceable.
package sfu

import (
	"context"
	"encoding/json"
	"strings"
)

type CodecCapability struct {
	Kind      string `json:"kind"`
	MimeType  string `json:"mimeType"`
	ClockRate uint32 `json:"clockRate"`
	Channels  uint16 `json:"channels,omitempty"`
}

type RTPCapabilities struct {
	Codecs []CodecCapability `json:"codecs"`
}

// Supports reports whether the capability set carries a codec for the given
// mime type.
func (c RTPCapabilities) Supports(mimeType string) bool {
	for _, codec := range c.Codecs {
		if strings.EqualFold(codec.MimeType, mimeType) {
			return true
		}
	}
	return false
}

type Engine interface {
	NewRouter(ctx context.Context) (Router, error)
}

// Router is the per-room capability negotiator. Its codec set is fixed at
// creation and shared by every peer of the room.
type Router interface {
	Capabilities() RTPCapabilities
	CreateTransport(ctx context.Context) (Transport, error)
	CanConsume(p Producer, caps RTPCapabilities) bool
	Close() error
}

type Transport interface {
	ID() string
	// Params carries whatever the client side needs to start its half of
	// the handshake. The blob is engine-specific and opaque to the
	// coordinator.
	Params() json.RawMessage
	// Connect finalizes the handshake with caller-supplied parameters and
	// may return a reply blob (e.g. an SDP answer) for the client.
	Connect(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
	Produce(ctx context.Context, kind string, rtpParameters json.RawMessage) (Producer, error)
	// Consume binds a consumer for the given producer on this transport.
	// Consumers start paused; the caller resumes after local setup.
	Consume(ctx context.Context, p Producer, caps RTPCapabilities) (Consumer, error)
	Close() error
}

type Producer interface {
	ID() string
	Kind() string
	Pause()
	Resume()
	Paused() bool
	Close() error
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() string
	Params() json.RawMessage
	Resume() error
	Close() error
}
