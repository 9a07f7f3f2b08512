// Package sfu coordinates selective-forwarding media sessions for voice
// channels. The coordinator owns all session bookkeeping and runs against the
// Engine interface; the production engine is Pion-backed, tests use a mock.
package sfu

import "encoding/json"

// Direction of a transport relative to the client.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// TransportParameters is everything the client needs to complete ICE and
// DTLS against a freshly created transport. ICEServers carries optional TURN
// relay credentials from configuration.
type TransportParameters struct {
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
	ICEServers     json.RawMessage `json:"iceServers,omitempty"`
}

// Engine abstracts the media stack. Implementations must be safe for
// concurrent use.
type Engine interface {
	// NewWorker spawns one media worker. Workers are long-lived; died
	// reports an unrecoverable worker failure and the process is expected
	// to exit when it fires.
	NewWorker(died func(error)) (Worker, error)
}

type Worker interface {
	ID() string
	NewRouter(channelID string) (Router, error)
	Close() error
}

// Router is the per-channel forwarding unit.
type Router interface {
	ID() string
	// Capabilities returns the router's RTP capabilities for client-side
	// device loading.
	Capabilities() json.RawMessage
	NewTransport(direction Direction) (Transport, error)
	Close() error
}

type Transport interface {
	ID() string
	Direction() Direction
	Parameters() TransportParameters
	// Connect finishes the DTLS handshake with client-supplied parameters.
	Connect(dtlsParameters json.RawMessage) error
	Connected() bool
	Produce(kind string, rtpParameters json.RawMessage) (Producer, error)
	Consume(producerID string, rtpCapabilities json.RawMessage) (Consumer, error)
	Close() error
}

// Producer is one inbound media stream from a client.
type Producer interface {
	ID() string
	Kind() string
	Close() error
}

// Consumer is one outbound stream towards a client. Consumers start paused
// and begin flowing on Resume, after the client has wired its receiver.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() string
	// Parameters returns the RTP parameters the client needs to consume.
	Parameters() json.RawMessage
	Resume() error
	Close() error
}
