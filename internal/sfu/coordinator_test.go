package sfu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
)

type fakeEngine struct {
	routers  []*fakeRouter
	closeLog *[]string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{closeLog: &[]string{}}
}

func (e *fakeEngine) NewRouter(ctx context.Context) (Router, error) {
	r := &fakeRouter{closeLog: e.closeLog}
	e.routers = append(e.routers, r)
	return r, nil
}

type fakeRouter struct {
	closeLog *[]string
	closed   bool
	seq      int
}

func (r *fakeRouter) Capabilities() RTPCapabilities {
	return RTPCapabilities{Codecs: []CodecCapability{
		{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: "video", MimeType: "video/VP8", ClockRate: 90000},
	}}
}

func (r *fakeRouter) CanConsume(p Producer, caps RTPCapabilities) bool {
	for _, codec := range r.Capabilities().Codecs {
		if codec.Kind == p.Kind() {
			return caps.Supports(codec.MimeType)
		}
	}
	return false
}

func (r *fakeRouter) CreateTransport(ctx context.Context) (Transport, error) {
	r.seq++
	return &fakeTransport{id: fmt.Sprintf("t%d", r.seq), router: r, closeLog: r.closeLog}, nil
}

func (r *fakeRouter) Close() error {
	r.closed = true
	*r.closeLog = append(*r.closeLog, "router")
	return nil
}

type fakeTransport struct {
	id       string
	router   *fakeRouter
	closeLog *[]string
	closed   bool
}

func (t *fakeTransport) ID() string              { return t.id }
func (t *fakeTransport) Params() json.RawMessage { return json.RawMessage(`{}`) }

func (t *fakeTransport) Connect(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	return params, nil
}

func (t *fakeTransport) Produce(ctx context.Context, kind string, rtpParameters json.RawMessage) (Producer, error) {
	t.router.seq++
	return &fakeProducer{id: fmt.Sprintf("p%d", t.router.seq), kind: kind, closeLog: t.closeLog}, nil
}

func (t *fakeTransport) Consume(ctx context.Context, p Producer, caps RTPCapabilities) (Consumer, error) {
	t.router.seq++
	return &fakeConsumer{
		id:         fmt.Sprintf("c%d", t.router.seq),
		producerID: p.ID(),
		kind:       p.Kind(),
		closeLog:   t.closeLog,
	}, nil
}

func (t *fakeTransport) Close() error {
	t.closed = true
	*t.closeLog = append(*t.closeLog, "transport:"+t.id)
	return nil
}

type fakeProducer struct {
	id       string
	kind     string
	paused   bool
	closed   bool
	closeLog *[]string
}

func (p *fakeProducer) ID() string   { return p.id }
func (p *fakeProducer) Kind() string { return p.kind }
func (p *fakeProducer) Pause()       { p.paused = true }
func (p *fakeProducer) Resume()      { p.paused = false }
func (p *fakeProducer) Paused() bool { return p.paused }

func (p *fakeProducer) Close() error {
	p.closed = true
	*p.closeLog = append(*p.closeLog, "producer:"+p.id)
	return nil
}

type fakeConsumer struct {
	id         string
	producerID string
	kind       string
	resumed    bool
	closed     bool
	closeLog   *[]string
}

func (c *fakeConsumer) ID() string              { return c.id }
func (c *fakeConsumer) ProducerID() string      { return c.producerID }
func (c *fakeConsumer) Kind() string            { return c.kind }
func (c *fakeConsumer) Params() json.RawMessage { return json.RawMessage(`{}`) }

func (c *fakeConsumer) Resume() error {
	c.resumed = true
	return nil
}

func (c *fakeConsumer) Close() error {
	c.closed = true
	*c.closeLog = append(*c.closeLog, "consumer:"+c.id)
	return nil
}

type notification struct {
	event   string
	payload any
}

type fakeNotifier struct {
	events []notification
}

func (n *fakeNotifier) Notify(event string, payload any) {
	n.events = append(n.events, notification{event: event, payload: payload})
}

func (n *fakeNotifier) eventsOf(name string) []notification {
	var out []notification
	for _, e := range n.events {
		if e.event == name {
			out = append(out, e)
		}
	}
	return out
}

func newTestCoordinator() (*Coordinator, *fakeEngine) {
	engine := newFakeEngine()
	return NewCoordinator(engine, log.New(io.Discard, "", 0)), engine
}

var videoCaps = RTPCapabilities{Codecs: []CodecCapability{
	{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	{Kind: "video", MimeType: "video/VP8", ClockRate: 90000},
}}

// join + create-transport + produce in one go, for tests that need a
// publishing peer.
func produceAs(t *testing.T, c *Coordinator, room, connID, userID, kind string) (n *fakeNotifier, transportID, producerID string) {
	t.Helper()
	ctx := context.Background()

	n = &fakeNotifier{}
	if _, err := c.Join(ctx, room, connID, userID, n); err != nil {
		t.Fatalf("join %s: %v", connID, err)
	}
	info, err := c.CreateTransport(ctx, room, connID)
	if err != nil {
		t.Fatalf("create transport for %s: %v", connID, err)
	}
	producerID, err = c.Produce(ctx, room, connID, info.TransportID, kind, nil)
	if err != nil {
		t.Fatalf("produce for %s: %v", connID, err)
	}
	return n, info.TransportID, producerID
}

func TestJoinReturnsExistingProducers(t *testing.T) {
	c, _ := newTestCoordinator()
	_, _, producerID := produceAs(t, c, "room", "conn-a", "alice", "video")

	res, err := c.Join(context.Background(), "room", "conn-b", "bob", &fakeNotifier{})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	if len(res.RTPCapabilities.Codecs) != 2 {
		t.Errorf("expected router capabilities, got %+v", res.RTPCapabilities)
	}
	if len(res.Producers) != 1 {
		t.Fatalf("expected 1 remote producer, got %d", len(res.Producers))
	}
	if res.Producers[0].ProducerID != producerID || res.Producers[0].UserID != "alice" {
		t.Errorf("unexpected remote producer %+v", res.Producers[0])
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	c, engine := newTestCoordinator()
	ctx := context.Background()

	n := &fakeNotifier{}
	if _, err := c.Join(ctx, "room", "conn-a", "alice", n); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := c.Join(ctx, "room", "conn-a", "alice", n); err != nil {
		t.Fatalf("second join: %v", err)
	}

	if got := c.PeerCount("room"); got != 1 {
		t.Errorf("expected 1 peer, got %d", got)
	}
	if len(engine.routers) != 1 {
		t.Errorf("expected a single router, got %d", len(engine.routers))
	}
}

func TestProduceFanOutExcludesOrigin(t *testing.T) {
	c, _ := newTestCoordinator()
	ctx := context.Background()

	notifierB := &fakeNotifier{}
	notifierC := &fakeNotifier{}
	if _, err := c.Join(ctx, "room", "conn-b", "bob", notifierB); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	if _, err := c.Join(ctx, "room", "conn-c", "carol", notifierC); err != nil {
		t.Fatalf("join carol: %v", err)
	}

	notifierA, _, producerID := produceAs(t, c, "room", "conn-a", "alice", "video")

	if got := notifierA.eventsOf(EventNewProducer); len(got) != 0 {
		t.Errorf("origin peer notified about its own producer: %+v", got)
	}
	for name, n := range map[string]*fakeNotifier{"bob": notifierB, "carol": notifierC} {
		events := n.eventsOf(EventNewProducer)
		if len(events) != 1 {
			t.Fatalf("%s: expected 1 new-producer event, got %d", name, len(events))
		}
		rp := events[0].payload.(RemoteProducer)
		if rp.ProducerID != producerID || rp.UserID != "alice" {
			t.Errorf("%s: unexpected payload %+v", name, rp)
		}
	}
}

func TestConsumeIncompatibleCapabilitiesFails(t *testing.T) {
	c, _ := newTestCoordinator()
	ctx := context.Background()
	_, _, producerID := produceAs(t, c, "room", "conn-a", "alice", "video")

	if _, err := c.Join(ctx, "room", "conn-b", "bob", &fakeNotifier{}); err != nil {
		t.Fatalf("join: %v", err)
	}
	info, err := c.CreateTransport(ctx, "room", "conn-b")
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}

	audioOnly := RTPCapabilities{Codecs: []CodecCapability{
		{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	}}
	_, err = c.Consume(ctx, "room", "conn-b", info.TransportID, producerID, audioOnly)
	if err != ErrIncompatibleCapabilities {
		t.Fatalf("expected ErrIncompatibleCapabilities, got %v", err)
	}

	// The failed consume leaves the transport usable.
	if _, err := c.Consume(ctx, "room", "conn-b", info.TransportID, producerID, videoCaps); err != nil {
		t.Fatalf("consume after failed attempt: %v", err)
	}
}

func TestConsumerStartsPausedUntilResumed(t *testing.T) {
	c, _ := newTestCoordinator()
	ctx := context.Background()
	_, _, producerID := produceAs(t, c, "room", "conn-a", "alice", "video")

	if _, err := c.Join(ctx, "room", "conn-b", "bob", &fakeNotifier{}); err != nil {
		t.Fatalf("join: %v", err)
	}
	info, err := c.CreateTransport(ctx, "room", "conn-b")
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}
	res, err := c.Consume(ctx, "room", "conn-b", info.TransportID, producerID, videoCaps)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	peer := c.rooms["room"].peers["conn-b"]
	consumer := peer.consumers[res.ConsumerID].(*fakeConsumer)
	if consumer.resumed {
		t.Fatal("consumer resumed before resume-consumer call")
	}

	if err := c.ResumeConsumer("room", "conn-b", res.ConsumerID); err != nil {
		t.Fatalf("resume consumer: %v", err)
	}
	if !consumer.resumed {
		t.Fatal("consumer not resumed")
	}
}

func TestPauseProducerNotifiesOnlyBoundPeers(t *testing.T) {
	c, _ := newTestCoordinator()
	ctx := context.Background()
	_, _, producerID := produceAs(t, c, "room", "conn-a", "alice", "video")

	// bob consumes, carol does not.
	notifierB := &fakeNotifier{}
	if _, err := c.Join(ctx, "room", "conn-b", "bob", notifierB); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	info, err := c.CreateTransport(ctx, "room", "conn-b")
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}
	if _, err := c.Consume(ctx, "room", "conn-b", info.TransportID, producerID, videoCaps); err != nil {
		t.Fatalf("consume: %v", err)
	}

	notifierC := &fakeNotifier{}
	if _, err := c.Join(ctx, "room", "conn-c", "carol", notifierC); err != nil {
		t.Fatalf("join carol: %v", err)
	}

	if err := c.PauseProducer("room", "conn-a", producerID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := c.ResumeProducer("room", "conn-a", producerID); err != nil {
		t.Fatalf("resume: %v", err)
	}

	if got := len(notifierB.eventsOf(EventProducerPaused)); got != 1 {
		t.Errorf("bob: expected 1 paused event, got %d", got)
	}
	if got := len(notifierB.eventsOf(EventProducerResumed)); got != 1 {
		t.Errorf("bob: expected 1 resumed event, got %d", got)
	}
	if got := len(notifierC.events); got != 0 {
		// carol joined after the produce and holds no consumer
		t.Errorf("carol: expected no events, got %+v", notifierC.events)
	}
}

func TestDisconnectCascadesAndTearsDownRoom(t *testing.T) {
	c, engine := newTestCoordinator()
	ctx := context.Background()
	_, _, producerID := produceAs(t, c, "room", "conn-a", "alice", "video")

	notifierB := &fakeNotifier{}
	if _, err := c.Join(ctx, "room", "conn-b", "bob", notifierB); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	info, err := c.CreateTransport(ctx, "room", "conn-b")
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}
	if _, err := c.Consume(ctx, "room", "conn-b", info.TransportID, producerID, videoCaps); err != nil {
		t.Fatalf("consume: %v", err)
	}

	c.Disconnect("conn-a")

	events := notifierB.eventsOf(EventProducerClosed)
	if len(events) != 1 {
		t.Fatalf("expected 1 producer-closed event, got %d", len(events))
	}
	if got := events[0].payload.(map[string]any)["producerId"]; got != producerID {
		t.Errorf("unexpected producer id %v", got)
	}
	if got := c.PeerCount("room"); got != 1 {
		t.Errorf("expected 1 remaining peer, got %d", got)
	}
	if len(c.rooms["room"].peers["conn-b"].consumers) != 0 {
		t.Error("bob's consumer map not pruned after cascade")
	}

	c.Disconnect("conn-b")

	if got := c.PeerCount("room"); got != 0 {
		t.Errorf("expected empty room state, got %d peers", got)
	}
	if !engine.routers[0].closed {
		t.Error("router not closed after last peer left")
	}

	// A later join rebuilds the state from scratch.
	res, err := c.Join(ctx, "room", "conn-c", "carol", &fakeNotifier{})
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if len(res.Producers) != 0 {
		t.Errorf("stale producers survived teardown: %+v", res.Producers)
	}
	if len(engine.routers) != 2 {
		t.Errorf("expected a fresh router, got %d routers", len(engine.routers))
	}
}

func TestDisconnectClosesProducersBeforeConsumersBeforeTransports(t *testing.T) {
	c, engine := newTestCoordinator()
	ctx := context.Background()

	// One peer that both produces and consumes a second peer's track.
	produceAs(t, c, "room", "conn-a", "alice", "video")
	_, _, producerB := produceAs(t, c, "room", "conn-b", "bob", "audio")

	infoA, err := c.CreateTransport(ctx, "room", "conn-a")
	if err != nil {
		t.Fatalf("create recv transport: %v", err)
	}
	if _, err := c.Consume(ctx, "room", "conn-a", infoA.TransportID, producerB, videoCaps); err != nil {
		t.Fatalf("consume: %v", err)
	}

	*engine.closeLog = (*engine.closeLog)[:0]
	c.Disconnect("conn-a")

	entries := *engine.closeLog
	order := map[string]int{}
	for i, entry := range entries {
		kind, _, _ := strings.Cut(entry, ":")
		order[kind] = i
	}
	if !(order["producer"] < order["consumer"] && order["consumer"] < order["transport"]) {
		t.Errorf("wrong cleanup order: %v", entries)
	}
}

func TestUnknownIDsFailOnlyThatCall(t *testing.T) {
	c, _ := newTestCoordinator()
	ctx := context.Background()

	if _, err := c.CreateTransport(ctx, "room", "conn-a"); err != ErrRoomNotFound {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}

	if _, err := c.Join(ctx, "room", "conn-a", "alice", &fakeNotifier{}); err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := c.ConnectTransport(ctx, "room", "conn-a", "nope", nil); err != ErrTransportNotFound {
		t.Errorf("expected ErrTransportNotFound, got %v", err)
	}
	if _, err := c.Produce(ctx, "room", "conn-a", "nope", "video", nil); err != ErrTransportNotFound {
		t.Errorf("expected ErrTransportNotFound, got %v", err)
	}
	if err := c.PauseProducer("room", "conn-a", "nope"); err != ErrProducerNotFound {
		t.Errorf("expected ErrProducerNotFound, got %v", err)
	}
	if err := c.ResumeConsumer("room", "conn-a", "nope"); err != ErrConsumerNotFound {
		t.Errorf("expected ErrConsumerNotFound, got %v", err)
	}
	if _, err := c.CreateTransport(ctx, "room", "conn-b"); err != ErrPeerNotFound {
		t.Errorf("expected ErrPeerNotFound, got %v", err)
	}

	// None of the failures disturbed the registered peer.
	if got := c.PeerCount("room"); got != 1 {
		t.Errorf("expected 1 peer, got %d", got)
	}
}

func TestDisconnectUnknownConnectionIsSafe(t *testing.T) {
	c, _ := newTestCoordinator()
	c.Disconnect("ghost")

	if _, err := c.Join(context.Background(), "room", "conn-a", "alice", &fakeNotifier{}); err != nil {
		t.Fatalf("join after no-op disconnect: %v", err)
	}
	c.Disconnect("conn-a")
	c.Disconnect("conn-a")
}
