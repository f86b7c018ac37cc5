package sfu

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// PionConfig tunes the in-process pion engine.
type PionConfig struct {
	ICEServers []string
	MinUDPPort uint16
	MaxUDPPort uint16
	// PublicIP is advertised as a host candidate when the server sits
	// behind 1:1 NAT.
	PublicIP string
}

// The fixed router codec set: one audio codec, one video codec, shared by
// every peer of a room.
var pionCapabilities = RTPCapabilities{
	Codecs: []CodecCapability{
		{Kind: "audio", MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		{Kind: "video", MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
	},
}

type pionEngine struct {
	logger *log.Logger
	api    *webrtc.API
	ice    []webrtc.ICEServer
}

// NewPionEngine builds an Engine on pion/webrtc with opus+VP8 registered.
func NewPionEngine(cfg PionConfig, logger *log.Logger) (Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio)
	if err != nil {
		return nil, fmt.Errorf("registering audio codec: %w", err)
	}
	err = mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo)
	if err != nil {
		return nil, fmt.Errorf("registering video codec: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.MinUDPPort > 0 && cfg.MaxUDPPort >= cfg.MinUDPPort {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.MinUDPPort, cfg.MaxUDPPort); err != nil {
			return nil, fmt.Errorf("setting udp port range: %w", err)
		}
	}
	if cfg.PublicIP != "" {
		settingEngine.SetNAT1To1IPs([]string{cfg.PublicIP}, webrtc.ICECandidateTypeHost)
	}

	var ice []webrtc.ICEServer
	for _, url := range cfg.ICEServers {
		ice = append(ice, webrtc.ICEServer{URLs: []string{url}})
	}

	return &pionEngine{
		logger: logger,
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithSettingEngine(settingEngine),
		),
		ice: ice,
	}, nil
}

func (e *pionEngine) NewRouter(ctx context.Context) (Router, error) {
	return &pionRouter{engine: e}, nil
}

type pionRouter struct {
	engine *pionEngine
}

func (r *pionRouter) Capabilities() RTPCapabilities { return pionCapabilities }

func (r *pionRouter) CanConsume(p Producer, caps RTPCapabilities) bool {
	for _, codec := range pionCapabilities.Codecs {
		if codec.Kind == p.Kind() {
			return caps.Supports(codec.MimeType)
		}
	}
	return false
}

// Close is a no-op: transports own the peer connections and the
// coordinator closes them before releasing the router.
func (r *pionRouter) Close() error { return nil }

func (r *pionRouter) CreateTransport(ctx context.Context) (Transport, error) {
	pc, err := r.engine.api.NewPeerConnection(webrtc.Configuration{ICEServers: r.engine.ice})
	if err != nil {
		return nil, err
	}

	t := &pionTransport{
		id:     uuid.NewString(),
		logger: r.engine.logger,
		pc:     pc,
		unbound: map[string][]*pionProducer{
			"audio": nil,
			"video": nil,
		},
	}

	// Inbound media arrives here. Each remote track is matched to the
	// oldest producer of its kind still waiting for media.
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.bindRemoteTrack(remote)
	})

	return t, nil
}

type pionTransport struct {
	id     string
	logger *log.Logger
	pc     *webrtc.PeerConnection

	mu      sync.Mutex
	unbound map[string][]*pionProducer
}

func (t *pionTransport) ID() string { return t.id }

func (t *pionTransport) Params() json.RawMessage {
	params, _ := json.Marshal(map[string]any{"transportId": t.id})
	return params
}

type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Connect applies the caller's SDP. An offer yields the answer (after ICE
// gathering completes, so the blob carries full candidates); an answer
// finalizes a server-initiated negotiation and yields nothing.
func (t *pionTransport) Connect(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p sdpPayload
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid transport parameters: %w", err)
	}

	switch p.Type {
	case "offer":
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}
		if err := t.pc.SetRemoteDescription(offer); err != nil {
			return nil, err
		}
		answer, err := t.pc.CreateAnswer(nil)
		if err != nil {
			return nil, err
		}
		gathered := webrtc.GatheringCompletePromise(t.pc)
		if err := t.pc.SetLocalDescription(answer); err != nil {
			return nil, err
		}
		select {
		case <-gathered:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		local := t.pc.LocalDescription()
		return json.Marshal(sdpPayload{Type: "answer", SDP: local.SDP})
	case "answer":
		answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}
		if err := t.pc.SetRemoteDescription(answer); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid transport parameters: unknown sdp type %q", p.Type)
	}
}

// Produce allocates the relay track up front so consumers can subscribe
// before the first RTP packet arrives; the producer is bound to a remote
// track once media shows up on this transport.
func (t *pionTransport) Produce(ctx context.Context, kind string, rtpParameters json.RawMessage) (Producer, error) {
	var capability webrtc.RTPCodecCapability
	switch kind {
	case "audio":
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	case "video":
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	default:
		return nil, fmt.Errorf("unsupported media kind %q", kind)
	}

	id := uuid.NewString()
	relay, err := webrtc.NewTrackLocalStaticRTP(capability, id, "meet")
	if err != nil {
		return nil, err
	}

	p := &pionProducer{id: id, kind: kind, relay: relay}

	t.mu.Lock()
	t.unbound[kind] = append(t.unbound[kind], p)
	t.mu.Unlock()

	return p, nil
}

func (t *pionTransport) bindRemoteTrack(remote *webrtc.TrackRemote) {
	kind := remote.Kind().String()

	t.mu.Lock()
	pending := t.unbound[kind]
	if len(pending) == 0 {
		t.mu.Unlock()
		t.logger.Printf("sfu: dropping unexpected %s track on transport %s", kind, t.id)
		return
	}
	p := pending[0]
	t.unbound[kind] = pending[1:]
	t.mu.Unlock()

	// Relay loop: packets are read for the producer's lifetime and dropped
	// while it is paused.
	for {
		packet, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if p.closed.Load() {
			return
		}
		if p.paused.Load() {
			continue
		}
		if err := p.relay.WriteRTP(packet); err != nil {
			return
		}
	}
}

func (t *pionTransport) Consume(ctx context.Context, p Producer, caps RTPCapabilities) (Consumer, error) {
	producer, ok := p.(*pionProducer)
	if !ok {
		return nil, fmt.Errorf("producer %s does not belong to this engine", p.ID())
	}

	sender, err := t.pc.AddTrack(producer.relay)
	if err != nil {
		return nil, err
	}

	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		_ = t.pc.RemoveTrack(sender)
		return nil, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		_ = t.pc.RemoveTrack(sender)
		return nil, err
	}

	// Two-phase start: nothing is forwarded until Resume swaps the relay
	// track back in.
	if err := sender.ReplaceTrack(nil); err != nil {
		_ = t.pc.RemoveTrack(sender)
		return nil, err
	}

	params, err := json.Marshal(sdpPayload{Type: "offer", SDP: offer.SDP})
	if err != nil {
		return nil, err
	}

	return &pionConsumer{
		id:         uuid.NewString(),
		producerID: producer.id,
		kind:       producer.kind,
		params:     params,
		pc:         t.pc,
		sender:     sender,
		relay:      producer.relay,
	}, nil
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}

type pionProducer struct {
	id     string
	kind   string
	relay  *webrtc.TrackLocalStaticRTP
	paused atomic.Bool
	closed atomic.Bool
}

func (p *pionProducer) ID() string   { return p.id }
func (p *pionProducer) Kind() string { return p.kind }
func (p *pionProducer) Pause()       { p.paused.Store(true) }
func (p *pionProducer) Resume()      { p.paused.Store(false) }
func (p *pionProducer) Paused() bool { return p.paused.Load() }

func (p *pionProducer) Close() error {
	p.closed.Store(true)
	return nil
}

type pionConsumer struct {
	id         string
	producerID string
	kind       string
	params     json.RawMessage
	pc         *webrtc.PeerConnection
	sender     *webrtc.RTPSender
	relay      *webrtc.TrackLocalStaticRTP
}

func (c *pionConsumer) ID() string              { return c.id }
func (c *pionConsumer) ProducerID() string      { return c.producerID }
func (c *pionConsumer) Kind() string            { return c.kind }
func (c *pionConsumer) Params() json.RawMessage { return c.params }

func (c *pionConsumer) Resume() error {
	return c.sender.ReplaceTrack(c.relay)
}

func (c *pionConsumer) Close() error {
	return c.pc.RemoveTrack(c.sender)
}
