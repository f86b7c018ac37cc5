package sfu

import (
	"context"
	"errors"
	"log"
	"sync"
)

var (
	ErrRoomNotFound             = errors.New("media room not found")
	ErrPeerNotFound             = errors.New("peer not found")
	ErrTransportNotFound        = errors.New("transport not found")
	ErrProducerNotFound         = errors.New("producer not found")
	ErrConsumerNotFound         = errors.New("consumer not found")
	ErrIncompatibleCapabilities = errors.New("incompatible rtp capabilities")
)

// Events delivered straight to individual peers, not through a broadcast
// scope: each peer decides on its own whether to (re)consume.
const (
	EventNewProducer     = "sfu:new-producer"
	EventProducerPaused  = "sfu:producer-paused"
	EventProducerResumed = "sfu:producer-resumed"
	EventProducerClosed  = "sfu:producer-closed"
)

// Notifier delivers one event to one connection. Implementations must not
// block: the coordinator calls it while holding its lock.
type Notifier interface {
	Notify(event string, payload any)
}

// Peer binds one connection to the media resources it owns. A peer's
// transports, producers and consumers live and die together.
type Peer struct {
	connID     string
	userID     string
	notifier   Notifier
	transports map[string]Transport
	producers  map[string]Producer
	consumers  map[string]Consumer
}

type roomState struct {
	token  string
	router Router
	peers  map[string]*Peer
}

// Coordinator owns every room's media state. All map access happens under
// one lock; no other component mutates this state directly.
type Coordinator struct {
	logger *log.Logger
	engine Engine

	mu    sync.Mutex
	rooms map[string]*roomState
}

func NewCoordinator(engine Engine, logger *log.Logger) *Coordinator {
	return &Coordinator{
		logger: logger,
		engine: engine,
		rooms:  make(map[string]*roomState),
	}
}

type RemoteProducer struct {
	ProducerID string `json:"producerId"`
	UserID     string `json:"userId"`
	Kind       string `json:"kind"`
	Paused     bool   `json:"paused"`
}

type JoinResult struct {
	RTPCapabilities RTPCapabilities  `json:"rtpCapabilities"`
	Producers       []RemoteProducer `json:"producers"`
}

// Join registers a peer in the room's media state, creating the state (and
// its router) on first use. The result carries the router capabilities and
// the already-active remote producers so a late joiner can start consuming
// immediately. Joining twice on the same connection is idempotent.
func (c *Coordinator) Join(ctx context.Context, roomToken, connID, userID string, n Notifier) (*JoinResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[roomToken]
	if !ok {
		router, err := c.engine.NewRouter(ctx)
		if err != nil {
			return nil, err
		}
		room = &roomState{
			token:  roomToken,
			router: router,
			peers:  make(map[string]*Peer),
		}
		c.rooms[roomToken] = room
	}

	if _, ok := room.peers[connID]; !ok {
		room.peers[connID] = &Peer{
			connID:     connID,
			userID:     userID,
			notifier:   n,
			transports: make(map[string]Transport),
			producers:  make(map[string]Producer),
			consumers:  make(map[string]Consumer),
		}
	}

	producers := []RemoteProducer{}
	for _, peer := range room.peers {
		if peer.connID == connID {
			continue
		}
		for _, p := range peer.producers {
			producers = append(producers, RemoteProducer{
				ProducerID: p.ID(),
				UserID:     peer.userID,
				Kind:       p.Kind(),
				Paused:     p.Paused(),
			})
		}
	}

	return &JoinResult{
		RTPCapabilities: room.router.Capabilities(),
		Producers:       producers,
	}, nil
}

type TransportInfo struct {
	TransportID string `json:"transportId"`
	Params      any    `json:"params"`
}

func (c *Coordinator) CreateTransport(ctx context.Context, roomToken, connID string) (*TransportInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, peer, err := c.lookupPeer(roomToken, connID)
	if err != nil {
		return nil, err
	}

	room := c.rooms[roomToken]
	t, err := room.router.CreateTransport(ctx)
	if err != nil {
		return nil, err
	}
	peer.transports[t.ID()] = t

	return &TransportInfo{TransportID: t.ID(), Params: t.Params()}, nil
}

// ConnectTransport finalizes the handshake for a transport this peer
// created earlier. An unknown id fails only this call.
func (c *Coordinator) ConnectTransport(ctx context.Context, roomToken, connID, transportID string, params []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, peer, err := c.lookupPeer(roomToken, connID)
	if err != nil {
		return nil, err
	}
	t, ok := peer.transports[transportID]
	if !ok {
		return nil, ErrTransportNotFound
	}
	return t.Connect(ctx, params)
}

// Produce creates a producer on one of the caller's transports and tells
// every other peer in the room about it with a direct per-connection
// notification, never a scope broadcast.
func (c *Coordinator) Produce(ctx context.Context, roomToken, connID, transportID, kind string, rtpParameters []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, peer, err := c.lookupPeer(roomToken, connID)
	if err != nil {
		return "", err
	}
	t, ok := peer.transports[transportID]
	if !ok {
		return "", ErrTransportNotFound
	}

	p, err := t.Produce(ctx, kind, rtpParameters)
	if err != nil {
		return "", err
	}
	peer.producers[p.ID()] = p

	for _, other := range room.peers {
		if other.connID == connID {
			continue
		}
		other.notifier.Notify(EventNewProducer, RemoteProducer{
			ProducerID: p.ID(),
			UserID:     peer.userID,
			Kind:       p.Kind(),
		})
	}
	return p.ID(), nil
}

// PauseProducer marks the producer inactive and tells every peer holding a
// consumer bound to it, so they can fall back to a static state without
// tearing the subscription down.
func (c *Coordinator) PauseProducer(roomToken, connID, producerID string) error {
	return c.toggleProducer(roomToken, connID, producerID, true)
}

// ResumeProducer reactivates the producer and tells bound peers to
// re-subscribe against the same id.
func (c *Coordinator) ResumeProducer(roomToken, connID, producerID string) error {
	return c.toggleProducer(roomToken, connID, producerID, false)
}

func (c *Coordinator) toggleProducer(roomToken, connID, producerID string, pause bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, peer, err := c.lookupPeer(roomToken, connID)
	if err != nil {
		return err
	}
	p, ok := peer.producers[producerID]
	if !ok {
		return ErrProducerNotFound
	}

	event := EventProducerResumed
	if pause {
		p.Pause()
		event = EventProducerPaused
	} else {
		p.Resume()
	}

	for _, other := range room.peers {
		for _, consumer := range other.consumers {
			if consumer.ProducerID() == producerID {
				other.notifier.Notify(event, map[string]any{"producerId": producerID})
				break
			}
		}
	}
	return nil
}

type ConsumeResult struct {
	ConsumerID string `json:"consumerId"`
	ProducerID string `json:"producerId"`
	Kind       string `json:"kind"`
	Params     any    `json:"params"`
}

// Consume creates a paused consumer for a remote producer on one of the
// caller's transports. The caller resumes it after local setup; starting
// paused avoids losing the first frames.
func (c *Coordinator) Consume(ctx context.Context, roomToken, connID, transportID, producerID string, caps RTPCapabilities) (*ConsumeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, peer, err := c.lookupPeer(roomToken, connID)
	if err != nil {
		return nil, err
	}
	t, ok := peer.transports[transportID]
	if !ok {
		return nil, ErrTransportNotFound
	}

	var producer Producer
	for _, other := range room.peers {
		if p, ok := other.producers[producerID]; ok {
			producer = p
			break
		}
	}
	if producer == nil {
		return nil, ErrProducerNotFound
	}

	if !room.router.CanConsume(producer, caps) {
		return nil, ErrIncompatibleCapabilities
	}

	consumer, err := t.Consume(ctx, producer, caps)
	if err != nil {
		return nil, err
	}
	peer.consumers[consumer.ID()] = consumer

	return &ConsumeResult{
		ConsumerID: consumer.ID(),
		ProducerID: consumer.ProducerID(),
		Kind:       consumer.Kind(),
		Params:     consumer.Params(),
	}, nil
}

func (c *Coordinator) ResumeConsumer(roomToken, connID, consumerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, peer, err := c.lookupPeer(roomToken, connID)
	if err != nil {
		return err
	}
	consumer, ok := peer.consumers[consumerID]
	if !ok {
		return ErrConsumerNotFound
	}
	return consumer.Resume()
}

// Disconnect tears down every room's resources for a connection: producers
// first so dependents get a clean close signal, then consumers, then
// transports. Cleanup is best-effort per resource. A room whose last peer
// leaves is discarded and its router closed.
func (c *Coordinator) Disconnect(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for token, room := range c.rooms {
		peer, ok := room.peers[connID]
		if !ok {
			continue
		}

		for id, p := range peer.producers {
			c.closeProducerLocked(room, peer, p)
			delete(peer.producers, id)
		}
		for id, consumer := range peer.consumers {
			if err := consumer.Close(); err != nil {
				c.logger.Printf("sfu: closing consumer %s: %v", id, err)
			}
			delete(peer.consumers, id)
		}
		for id, t := range peer.transports {
			if err := t.Close(); err != nil {
				c.logger.Printf("sfu: closing transport %s: %v", id, err)
			}
			delete(peer.transports, id)
		}

		delete(room.peers, connID)
		if len(room.peers) == 0 {
			if err := room.router.Close(); err != nil {
				c.logger.Printf("sfu: closing router for room %s: %v", token, err)
			}
			delete(c.rooms, token)
		}
	}
}

// closeProducerLocked closes a producer and cascades: every consumer bound
// to it is closed and its peer notified, with bookkeeping pruned on both
// sides. Callers must hold c.mu and prune the owner's map themselves.
func (c *Coordinator) closeProducerLocked(room *roomState, owner *Peer, p Producer) {
	producerID := p.ID()
	if err := p.Close(); err != nil {
		c.logger.Printf("sfu: closing producer %s: %v", producerID, err)
	}

	for _, peer := range room.peers {
		notified := false
		for id, consumer := range peer.consumers {
			if consumer.ProducerID() != producerID {
				continue
			}
			if err := consumer.Close(); err != nil {
				c.logger.Printf("sfu: closing consumer %s: %v", id, err)
			}
			delete(peer.consumers, id)
			notified = true
		}
		if notified && peer.connID != owner.connID {
			peer.notifier.Notify(EventProducerClosed, map[string]any{"producerId": producerID})
		}
	}
}

// PeerCount reports the number of peers in a room's media state, zero if
// the state does not exist.
func (c *Coordinator) PeerCount(roomToken string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[roomToken]
	if !ok {
		return 0
	}
	return len(room.peers)
}

func (c *Coordinator) lookupPeer(roomToken, connID string) (*roomState, *Peer, error) {
	room, ok := c.rooms[roomToken]
	if !ok {
		return nil, nil, ErrRoomNotFound
	}
	peer, ok := room.peers[connID]
	if !ok {
		return nil, nil, ErrPeerNotFound
	}
	return room, peer, nil
}
