// Package signaling implements the Signaling Endpoint (C7): processing a
// peer-connection offer, attaching one or two video tracks, and tearing
// down cleanly on every failure path.
//
// Each peer registers the playout-delay header extension, drains RTCP
// off its sender with a rate-limited force-keyframe on PLI/FIR, gathers
// ICE candidates with a timeout, starts frame delivery as soon as its
// tracks are attached, and stops it from the connection-state callback on
// failure or close. N camera-viewing peers can be connected to
// the server at once, each independently subscribing to the Frame Relay.
package signaling

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/vrracer/camstream/internal/apierr"
	"github.com/vrracer/camstream/internal/cameramanager"
	"github.com/vrracer/camstream/internal/frame"
	"github.com/vrracer/camstream/internal/h264"
	"github.com/vrracer/camstream/internal/logging"
	"github.com/vrracer/camstream/internal/workerpool"
)

var log = logging.L("signaling")

const (
	iceGatherTimeout   = 20 * time.Second
	keyframeRateLimit  = 500 * time.Millisecond
	defaultBitrateBPS  = 2_500_000
	defaultTargetFPS   = 30
)

// State is the peer's lifecycle, matching the component design's state
// machine: created -> remoteSet -> tracksAttached -> answered -> (connected
// | failed | closed).
type State int

const (
	StateCreated State = iota
	StateRemoteSet
	StateTracksAttached
	StateAnswered
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRemoteSet:
		return "remoteSet"
	case StateTracksAttached:
		return "tracksAttached"
	case StateAnswered:
		return "answered"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Peer owns one negotiated transport and its attached track writers.
type Peer struct {
	mu    sync.Mutex
	state State

	id   string
	pc   *webrtc.PeerConnection
	vr   bool
	cm   *cameramanager.Manager
	cfg  TrackConfig
	pool *workerpool.Pool

	tracks      []*cameramanager.Track
	cancel      context.CancelFunc
	vrAcquired  atomic.Bool
	closeOnce   sync.Once
}

// TrackConfig parameterizes the H264 encoder every video track writer
// constructs, independent of the camera's native capture resolution (set
// once the first frame's dimensions are known).
type TrackConfig struct {
	BitrateBPS int
	FPS        int
}

func DefaultTrackConfig() TrackConfig {
	return TrackConfig{BitrateBPS: defaultBitrateBPS, FPS: defaultTargetFPS}
}

// Endpoint processes offers and owns the active-peer set.
type Endpoint struct {
	mu      sync.Mutex
	peers   map[string]*Peer
	cm      *cameramanager.Manager
	cfg     TrackConfig
	pool    *workerpool.Pool
	nextID  atomic.Uint64
	onEvent func(eventType, peerID string)
}

// NewEndpoint builds an endpoint. pool, if non-nil, bounds how many H264
// encodes run concurrently across all attached track writers; a nil pool
// encodes inline on each track writer's own goroutine.
func NewEndpoint(cm *cameramanager.Manager, cfg TrackConfig, pool *workerpool.Pool) *Endpoint {
	return &Endpoint{peers: make(map[string]*Peer), cm: cm, cfg: cfg, pool: pool}
}

// OnEvent registers a callback invoked with "peer_connected"/"peer_closed"
// and the peer id whenever the active-peer set changes, for the optional
// admin event feed. Must be called before the endpoint serves any offer.
func (e *Endpoint) OnEvent(fn func(eventType, peerID string)) {
	e.mu.Lock()
	e.onEvent = fn
	e.mu.Unlock()
}

// Offer is the /offer request body.
type Offer struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
	VR   bool   `json:"vr"`
}

// Answer is the /offer response body.
type Answer struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// HandleOffer runs the full per-peer state machine: allocate, set remote
// description, acquire the stereo reference if requested, subscribe to
// the relay (once for mono, twice for stereo), attach tracks, create and
// set the answer, and wait for ICE gathering. Any failure after partial
// setup tears down everything already allocated before returning.
func (e *Endpoint) HandleOffer(ctx context.Context, offer Offer) (*Peer, *Answer, error) {
	if offer.SDP == "" || offer.Type != "offer" {
		return nil, nil, apierr.Validation("invalid SDP offer")
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, apierr.Internal("registering default codecs", err)
	}
	const playoutDelayURI = "http://www.webrtc.org/experiments/rtp-hdrext/playout-delay"
	if err := mediaEngine.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: playoutDelayURI},
		webrtc.RTPCodecTypeVideo,
	); err != nil {
		log.Warn("failed to register playout-delay extension (non-fatal)", "error", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, apierr.Internal("creating peer connection", err)
	}

	id := fmt.Sprintf("peer-%d", e.nextID.Add(1))
	p := &Peer{id: id, pc: pc, vr: offer.VR, cm: e.cm, cfg: e.cfg, pool: e.pool, state: StateCreated}

	cleanup := func() {
		p.teardown()
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}); err != nil {
		cleanup()
		return nil, nil, apierr.Validation("invalid SDP offer")
	}
	p.setState(StateRemoteSet)

	if offer.VR {
		e.cm.AcquireVR(ctx)
		p.vrAcquired.Store(true)
	}

	tracks := e.cm.GetTracks(offer.VR)
	p.tracks = tracks
	if err := p.attachTracks(tracks); err != nil {
		cleanup()
		return nil, nil, apierr.Internal("attaching tracks", err)
	}
	p.setState(StateTracksAttached)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		cleanup()
		return nil, nil, apierr.Internal("creating answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		cleanup()
		return nil, nil, apierr.Internal("setting local description", err)
	}
	p.setState(StateAnswered)

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Info("peer connection state change", "peer", id, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			p.setState(StateConnected)
		case webrtc.PeerConnectionStateFailed:
			p.setState(StateFailed)
			e.remove(id)
			p.teardown()
		case webrtc.PeerConnectionStateClosed:
			p.setState(StateClosed)
			e.remove(id)
			p.teardown()
		}
	})

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	timer := time.NewTimer(iceGatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		cleanup()
		return nil, nil, apierr.Internal("ICE gathering timed out", fmt.Errorf("timed out after %s", iceGatherTimeout))
	case <-ctx.Done():
		cleanup()
		return nil, nil, apierr.Internal("ICE gathering cancelled", ctx.Err())
	}

	ld := pc.LocalDescription()
	if ld == nil {
		cleanup()
		return nil, nil, apierr.Internal("local description not available", nil)
	}

	e.mu.Lock()
	e.peers[id] = p
	onEvent := e.onEvent
	e.mu.Unlock()
	if onEvent != nil {
		onEvent("peer_connected", id)
	}

	return p, &Answer{SDP: ld.SDP, Type: ld.Type.String()}, nil
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// State reports the peer's current lifecycle state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ID returns the peer's opaque identifier.
func (p *Peer) ID() string { return p.id }

func (p *Peer) attachTracks(tracks []*cameramanager.Track) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for i, t := range tracks {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeH264,
				ClockRate:   90000,
				SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			},
			fmt.Sprintf("video%d", i),
			"camstream",
		)
		if err != nil {
			cancel()
			return fmt.Errorf("signaling: creating video track: %w", err)
		}
		sender, err := p.pc.AddTrack(track)
		if err != nil {
			cancel()
			return fmt.Errorf("signaling: adding track: %w", err)
		}

		writer := &trackWriter{
			track: track,
			sub:   t.Subscription,
			cfg:   p.cfg,
			pool:  p.pool,
		}
		go drainRTCP(sender, writer)
		go writer.run(ctx)
	}
	return nil
}

// drainRTCP reads RTCP packets off sender so the peer connection never
// blocks on backpressure, forcing a rate-limited keyframe on PLI/FIR.
func drainRTCP(sender *webrtc.RTPSender, w *trackWriter) {
	buf := make([]byte, 1500)
	var lastKeyframe time.Time
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				if time.Since(lastKeyframe) < keyframeRateLimit {
					continue
				}
				lastKeyframe = time.Now()
				w.forceKeyframe()
			}
		}
	}
}

// Close tears down the peer idempotently: releases any stereo reference
// exactly once, unsubscribes every track's relay subscription, stops
// frame delivery, and closes the transport.
func (p *Peer) Close() error {
	p.teardown()
	return p.pc.Close()
}

func (p *Peer) teardown() {
	p.closeOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		if p.tracks != nil {
			p.cm.ReleaseTracks(p.tracks)
		}
		if p.vrAcquired.CompareAndSwap(true, false) {
			p.cm.ReleaseVR()
		}
	})
}

// trackWriter pulls frames off a relay subscription, encodes them as
// H264, and writes RTP samples to the peer's video track.
type trackWriter struct {
	track *webrtc.TrackLocalStaticSample
	sub   interface {
		Frames() <-chan *frame.Frame
	}
	cfg  TrackConfig
	pool *workerpool.Pool

	mu      sync.Mutex
	enc     *h264.Encoder
	forceKF atomic.Bool
}

func (w *trackWriter) forceKeyframe() {
	w.mu.Lock()
	enc := w.enc
	w.mu.Unlock()
	if enc != nil {
		_ = enc.ForceKeyframe()
	} else {
		w.forceKF.Store(true)
	}
}

func (w *trackWriter) run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		if w.enc != nil {
			w.enc.Close()
			w.enc = nil
		}
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-w.sub.Frames():
			if !ok {
				return
			}
			if err := w.writeFrame(f); err != nil {
				log.Warn("writing sample failed", "error", err)
			}
		}
	}
}

func (w *trackWriter) writeFrame(f *frame.Frame) error {
	w.mu.Lock()
	if w.enc == nil {
		enc, err := h264.New(h264.Config{
			Width:      f.Width,
			Height:     f.Height,
			BitrateBPS: w.cfg.BitrateBPS,
			FPS:        w.cfg.FPS,
		})
		if err != nil {
			w.mu.Unlock()
			return fmt.Errorf("signaling: opening encoder: %w", err)
		}
		w.enc = enc
		if w.forceKF.CompareAndSwap(true, false) {
			_ = enc.ForceKeyframe()
		}
	}
	enc := w.enc
	w.mu.Unlock()

	nal, err := workerpool.SubmitSync(w.pool, func() ([]byte, error) {
		return enc.EncodeBGR(f.Bytes)
	})
	if err != nil {
		return err
	}
	if len(nal) == 0 {
		return nil
	}
	return w.track.WriteSample(media.Sample{Data: nal, Duration: time.Second / time.Duration(w.cfg.FPS)})
}

// remove drops id from the active-peer set.
func (e *Endpoint) remove(id string) {
	e.mu.Lock()
	delete(e.peers, id)
	onEvent := e.onEvent
	e.mu.Unlock()
	if onEvent != nil {
		onEvent("peer_closed", id)
	}
}

// Close tears down a peer by id (the /webrtc/close endpoint).
func (e *Endpoint) Close(id string) error {
	e.mu.Lock()
	p, ok := e.peers[id]
	if ok {
		delete(e.peers, id)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return p.Close()
}

// CloseAll tears down every active peer, used on server shutdown.
func (e *Endpoint) CloseAll() {
	e.mu.Lock()
	peers := make([]*Peer, 0, len(e.peers))
	for _, p := range e.peers {
		peers = append(peers, p)
	}
	e.peers = make(map[string]*Peer)
	e.mu.Unlock()
	for _, p := range peers {
		_ = p.Close()
	}
}

// Count reports the number of active peers.
func (e *Endpoint) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.peers)
}
