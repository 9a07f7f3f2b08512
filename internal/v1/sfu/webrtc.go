package sfu

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// PionOptions configures the media stack: the UDP port window, the address
// advertised inside ICE candidates when the host sits behind NAT, and
// optional TURN fallback servers handed to gatherers.
type PionOptions struct {
	PortMin     uint16
	PortMax     uint16
	AnnouncedIP string
	ICEServers  []webrtc.ICEServer
}

// routerRTPCapabilities is the static audio capability set advertised to
// clients. Voice channels are Opus-only.
var routerRTPCapabilities = json.RawMessage(`{
	"codecs": [
		{
			"kind": "audio",
			"mimeType": "audio/opus",
			"clockRate": 48000,
			"channels": 2,
			"parameters": {"minptime": 10, "useinbandfec": 1}
		}
	],
	"headerExtensions": []
}`)

// PionEngine implements Engine on top of the ORTC surface of pion/webrtc.
// There is no external media process; a "worker" is an isolated API instance
// with its own media engine, so worker death never fires.
type PionEngine struct {
	opts PionOptions
}

func NewPionEngine(opts PionOptions) *PionEngine {
	return &PionEngine{opts: opts}
}

func (e *PionEngine) NewWorker(died func(error)) (Worker, error) {
	se := webrtc.SettingEngine{}
	if e.opts.PortMin > 0 && e.opts.PortMax >= e.opts.PortMin {
		if err := se.SetEphemeralUDPPortRange(e.opts.PortMin, e.opts.PortMax); err != nil {
			return nil, fmt.Errorf("setting udp port range: %w", err)
		}
	}
	if e.opts.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{e.opts.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("registering codecs: %w", err)
	}

	return &pionWorker{
		id:   uuid.NewString(),
		api:  webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(me)),
		opts: e.opts,
	}, nil
}

type pionWorker struct {
	id   string
	api  *webrtc.API
	opts PionOptions
}

func (w *pionWorker) ID() string { return w.id }

func (w *pionWorker) NewRouter(channelID string) (Router, error) {
	return &pionRouter{
		id:        uuid.NewString(),
		channelID: channelID,
		worker:    w,
		producers: make(map[string]*pionProducer),
	}, nil
}

func (w *pionWorker) Close() error { return nil }

type pionRouter struct {
	id        string
	channelID string
	worker    *pionWorker

	mu        sync.Mutex
	producers map[string]*pionProducer // producerID -> producer
}

func (r *pionRouter) ID() string                    { return r.id }
func (r *pionRouter) Capabilities() json.RawMessage { return routerRTPCapabilities }

func (r *pionRouter) NewTransport(direction Direction) (Transport, error) {
	gatherer, err := r.worker.api.NewICEGatherer(webrtc.ICEGatherOptions{
		ICEServers: r.worker.opts.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("creating ice gatherer: %w", err)
	}

	gatherDone := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherDone)
		}
	})
	if err := gatherer.Gather(); err != nil {
		return nil, fmt.Errorf("gathering ice candidates: %w", err)
	}
	select {
	case <-gatherDone:
	case <-time.After(10 * time.Second):
		gatherer.Close()
		return nil, errors.New("ice gathering timed out")
	}

	ice := r.worker.api.NewICETransport(gatherer)
	dtls, err := r.worker.api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, fmt.Errorf("creating dtls transport: %w", err)
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("reading local ice parameters: %w", err)
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		return nil, fmt.Errorf("reading local ice candidates: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("reading local dtls parameters: %w", err)
	}

	params := TransportParameters{ID: uuid.NewString()}
	if params.ICEParameters, err = json.Marshal(iceParams); err != nil {
		return nil, err
	}
	if params.ICECandidates, err = json.Marshal(candidates); err != nil {
		return nil, err
	}
	if params.DTLSParameters, err = json.Marshal(dtlsParams); err != nil {
		return nil, err
	}
	if len(r.worker.opts.ICEServers) > 0 {
		if params.ICEServers, err = json.Marshal(r.worker.opts.ICEServers); err != nil {
			return nil, err
		}
	}

	return &pionTransport{
		router:    r,
		direction: direction,
		params:    params,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
	}, nil
}

func (r *pionRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.producers {
		p.Close()
		delete(r.producers, id)
	}
	return nil
}

func (r *pionRouter) producer(id string) *pionProducer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.producers[id]
}

func (r *pionRouter) addProducer(p *pionProducer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.id] = p
}

func (r *pionRouter) removeProducer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
}

// connectParameters is the client's CONNECT_TRANSPORT payload: its DTLS role
// and fingerprints, plus the remote ICE credentials pion needs to start
// connectivity checks.
type connectParameters struct {
	Role          string                   `json:"role,omitempty"`
	Fingerprints  []webrtc.DTLSFingerprint `json:"fingerprints"`
	ICEParameters *webrtc.ICEParameters    `json:"iceParameters,omitempty"`
}

type pionTransport struct {
	router    *pionRouter
	direction Direction
	params    TransportParameters

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	mu        sync.Mutex
	connected bool
}

func (t *pionTransport) ID() string                      { return t.params.ID }
func (t *pionTransport) Direction() Direction            { return t.direction }
func (t *pionTransport) Parameters() TransportParameters { return t.params }

func (t *pionTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *pionTransport) Connect(dtlsParameters json.RawMessage) error {
	var p connectParameters
	if err := json.Unmarshal(dtlsParameters, &p); err != nil {
		return fmt.Errorf("parsing dtls parameters: %w", err)
	}
	if p.ICEParameters == nil {
		return errors.New("missing remote ice parameters")
	}
	if len(p.Fingerprints) == 0 {
		return errors.New("missing dtls fingerprints")
	}

	// The client always initiates; this side stays controlled.
	iceRole := webrtc.ICERoleControlled
	if err := t.ice.Start(nil, *p.ICEParameters, &iceRole); err != nil {
		return fmt.Errorf("starting ice transport: %w", err)
	}

	dtlsRole := webrtc.DTLSRoleClient
	if p.Role == "server" {
		dtlsRole = webrtc.DTLSRoleServer
	}
	if err := t.dtls.Start(webrtc.DTLSParameters{Role: dtlsRole, Fingerprints: p.Fingerprints}); err != nil {
		return fmt.Errorf("starting dtls transport: %w", err)
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

// produceParameters carries the SSRC encodings of the client's outbound
// stream.
type produceParameters struct {
	Encodings []webrtc.RTPCodingParameters `json:"encodings"`
}

func (t *pionTransport) Produce(kind string, rtpParameters json.RawMessage) (Producer, error) {
	if kind != "audio" {
		return nil, fmt.Errorf("unsupported media kind %q", kind)
	}

	var p produceParameters
	if err := json.Unmarshal(rtpParameters, &p); err != nil {
		return nil, fmt.Errorf("parsing rtp parameters: %w", err)
	}
	if len(p.Encodings) == 0 {
		return nil, errors.New("missing rtp encodings")
	}

	receiver, err := t.router.worker.api.NewRTPReceiver(webrtc.RTPCodecTypeAudio, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("creating rtp receiver: %w", err)
	}

	decodings := make([]webrtc.RTPDecodingParameters, 0, len(p.Encodings))
	for _, enc := range p.Encodings {
		decodings = append(decodings, webrtc.RTPDecodingParameters{RTPCodingParameters: enc})
	}
	if err := receiver.Receive(webrtc.RTPReceiveParameters{Encodings: decodings}); err != nil {
		return nil, fmt.Errorf("starting rtp receiver: %w", err)
	}

	producerID := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, producerID, "reson8")
	if err != nil {
		receiver.Stop()
		return nil, fmt.Errorf("creating forward track: %w", err)
	}

	producer := &pionProducer{
		id:       producerID,
		kind:     kind,
		router:   t.router,
		receiver: receiver,
		local:    local,
		done:     make(chan struct{}),
	}
	t.router.addProducer(producer)
	go producer.forward()
	return producer, nil
}

// canConsume reports whether the client's RTP capabilities include the Opus
// codec every producer forwards. Absent capabilities are accepted; clients
// that state theirs must be able to decode what we send.
func canConsume(rtpCapabilities json.RawMessage) bool {
	if len(rtpCapabilities) == 0 {
		return true
	}
	var caps struct {
		Codecs []struct {
			MimeType string `json:"mimeType"`
		} `json:"codecs"`
	}
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return false
	}
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, webrtc.MimeTypeOpus) {
			return true
		}
	}
	return false
}

func (t *pionTransport) Consume(producerID string, rtpCapabilities json.RawMessage) (Consumer, error) {
	producer := t.router.producer(producerID)
	if producer == nil {
		return nil, fmt.Errorf("producer %s not found", producerID)
	}
	if !canConsume(rtpCapabilities) {
		return nil, fmt.Errorf("client capabilities cannot consume producer %s: opus not supported", producerID)
	}

	sender, err := t.router.worker.api.NewRTPSender(producer.local, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("creating rtp sender: %w", err)
	}

	params, err := json.Marshal(sender.GetParameters())
	if err != nil {
		sender.Stop()
		return nil, err
	}

	return &pionConsumer{
		id:         uuid.NewString(),
		producerID: producerID,
		kind:       producer.kind,
		sender:     sender,
		params:     params,
	}, nil
}

func (t *pionTransport) Close() error {
	var errs []error
	if err := t.dtls.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := t.ice.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := t.gatherer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type pionProducer struct {
	id       string
	kind     string
	router   *pionRouter
	receiver *webrtc.RTPReceiver
	local    *webrtc.TrackLocalStaticRTP

	closeOnce sync.Once
	done      chan struct{}
}

func (p *pionProducer) ID() string   { return p.id }
func (p *pionProducer) Kind() string { return p.kind }

// forward pumps RTP from the client's stream onto the shared local track
// every consumer's sender reads from.
func (p *pionProducer) forward() {
	track := p.receiver.Track()
	for {
		select {
		case <-p.done:
			return
		default:
		}

		// Read errors mean the receiver stopped; nothing to recover.
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if err := p.local.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return
		}
	}
}

func (p *pionProducer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.receiver.Stop()
		p.router.removeProducer(p.id)
	})
	return err
}

type pionConsumer struct {
	id         string
	producerID string
	kind       string
	sender     *webrtc.RTPSender
	params     json.RawMessage

	mu      sync.Mutex
	flowing bool
}

func (c *pionConsumer) ID() string                  { return c.id }
func (c *pionConsumer) ProducerID() string          { return c.producerID }
func (c *pionConsumer) Kind() string                { return c.kind }
func (c *pionConsumer) Parameters() json.RawMessage { return c.params }

// Resume starts the sender. Consumers are created paused so the client can
// finish wiring its receiver before media flows.
func (c *pionConsumer) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flowing {
		return nil
	}
	if err := c.sender.Send(c.sender.GetParameters()); err != nil {
		return fmt.Errorf("starting rtp sender: %w", err)
	}
	c.flowing = true
	return nil
}

func (c *pionConsumer) Close() error {
	return c.sender.Stop()
}
