package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"counsel/models"
	"counsel/utils"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// localTrack pairs the adapter-facing track handle with the RTP-level track
// handed to the peer connection.
type localTrack struct {
	kind TrackKind
	rtp  webrtc.TrackLocal
	stop func() error
}

func (t *localTrack) Kind() TrackKind { return t.kind }
func (t *localTrack) Stop() error     { return t.stop() }

// WebRTCEngine implements Engine on pion/webrtc. Local capture goes through
// pion/mediadevices; session setup is WHIP-style: the SDP offer is POSTed to
// the media gateway named by the credentials and the answer comes back in
// the response body. One engine instance serves one channel join.
type WebRTCEngine struct {
	gatewayURL string
	httpc      *http.Client
	log        *zap.Logger

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	events   EngineEvents
	creds    models.MediaCredentials
	resource string
	renders  map[uint32]string
	uids     map[string]uint32
	nextUID  uint32
	seen     map[uint32]bool
}

// NewWebRTCEngine builds an engine talking to the given media gateway.
func NewWebRTCEngine(gatewayURL string, logger *zap.Logger) *WebRTCEngine {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &WebRTCEngine{
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		httpc:      &http.Client{Timeout: 15 * time.Second},
		log:        logger,
		renders:    make(map[uint32]string),
		uids:       make(map[string]uint32),
		seen:       make(map[uint32]bool),
	}
}

// CreateAudioTrack opens the microphone through the platform capture driver.
func (e *WebRTCEngine) CreateAudioTrack() (LocalTrack, error) {
	return captureTrack(TrackAudio)
}

// CreateVideoTrack opens the camera through the platform capture driver.
func (e *WebRTCEngine) CreateVideoTrack() (LocalTrack, error) {
	return captureTrack(TrackVideo)
}

// Join builds the peer connection and wires remote-track callbacks. The
// actual media negotiation happens in Publish, once local tracks are known.
func (e *WebRTCEngine) Join(_ context.Context, creds models.MediaCredentials, events EngineEvents) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pc != nil {
		return errors.New("engine already joined a channel")
	}
	if creds.Token == "" || creds.ChannelName == "" {
		return errors.New("missing media credentials")
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := populateMediaEngine(mediaEngine); err != nil {
		return fmt.Errorf("media engine setup: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return fmt.Errorf("interceptor setup: %w", err)
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	})
	if err != nil {
		return err
	}

	pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.handleRemoteTrack(tr)
	})
	pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		e.log.Debug("media: ice state", zap.String("state", st.String()))
		if st == webrtc.ICEConnectionStateFailed || st == webrtc.ICEConnectionStateClosed {
			e.notifyAllLeft()
		}
	})

	e.pc = pc
	e.events = events
	e.creds = creds
	return nil
}

// Publish adds the local tracks and runs the offer/answer exchange with the
// gateway.
func (e *WebRTCEngine) Publish(ctx context.Context, tracks []LocalTrack) error {
	e.mu.Lock()
	pc := e.pc
	creds := e.creds
	e.mu.Unlock()
	if pc == nil {
		return errors.New("publish before join")
	}

	for _, t := range tracks {
		lt, ok := t.(*localTrack)
		if !ok {
			return fmt.Errorf("foreign track type %T", t)
		}
		if _, err := pc.AddTrack(lt.rtp); err != nil {
			return fmt.Errorf("add %s track: %w", lt.kind, err)
		}
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	// Wait for ICE gathering so the offer carries candidates; the gateway
	// exchange is a single round trip.
	gathered := webrtc.GatheringCompletePromise(pc)
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	answer, resource, err := e.exchangeSDP(ctx, creds, pc.LocalDescription().SDP)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fmt.Errorf("apply gateway answer: %w", err)
	}

	e.mu.Lock()
	e.resource = resource
	e.mu.Unlock()
	return nil
}

// Subscribe records the playout association for a remote publication. With
// pion the RTP flow starts automatically on negotiation; audio playout and
// video rendering belong to the presentation layer, which reads the
// association.
func (e *WebRTCEngine) Subscribe(uid uint32, kind TrackKind, renderTarget string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pc == nil {
		return errors.New("subscribe before join")
	}
	if kind == TrackVideo {
		e.renders[uid] = renderTarget
	}
	e.log.Info("media: subscribed",
		zap.Uint32("uid", uid), zap.String("kind", string(kind)))
	return nil
}

// Leave closes the peer connection and releases the gateway resource.
// Idempotent.
func (e *WebRTCEngine) Leave(ctx context.Context) error {
	e.mu.Lock()
	pc := e.pc
	resource := e.resource
	e.pc = nil
	e.resource = ""
	e.renders = make(map[uint32]string)
	e.uids = make(map[string]uint32)
	e.seen = make(map[uint32]bool)
	e.mu.Unlock()

	if pc == nil {
		return nil
	}
	if resource != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, resource, nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+e.creds.Token)
			if resp, derr := e.httpc.Do(req); derr != nil {
				e.log.Warn("media: gateway release failed", zap.Error(derr))
			} else {
				resp.Body.Close()
			}
		}
	}
	return pc.Close()
}

func (e *WebRTCEngine) exchangeSDP(ctx context.Context, creds models.MediaCredentials, offer string) (string, string, error) {
	url := fmt.Sprintf("%s/channels/%s?uid=%d&appId=%s",
		e.gatewayURL, creds.ChannelName, creds.UID, creds.AppID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(offer))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	resp, err := e.httpc.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("gateway exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("gateway rejected join: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	resource := resp.Header.Get("Location")
	if resource != "" && !strings.HasPrefix(resource, "http") {
		resource = e.gatewayURL + resource
	}
	return string(body), resource, nil
}

func (e *WebRTCEngine) handleRemoteTrack(tr *webrtc.TrackRemote) {
	kind := TrackAudio
	if tr.Kind() == webrtc.RTPCodecTypeVideo {
		kind = TrackVideo
	}

	e.mu.Lock()
	uid, ok := e.uids[tr.StreamID()]
	if !ok {
		if parsed, perr := strconv.ParseUint(tr.StreamID(), 10, 32); perr == nil {
			uid = uint32(parsed)
		} else {
			e.nextUID++
			uid = e.nextUID
		}
		e.uids[tr.StreamID()] = uid
	}
	e.seen[uid] = true
	events := e.events
	e.mu.Unlock()

	if events.OnRemotePublished != nil {
		events.OnRemotePublished(RemotePublication{UID: uid, Kind: kind})
	}

	// Drain RTP until the sender stops; playout is not this engine's job.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := tr.Read(buf); err != nil {
				if events.OnRemoteUnpublished != nil {
					events.OnRemoteUnpublished(RemotePublication{UID: uid, Kind: kind})
				}
				return
			}
		}
	}()
}

func (e *WebRTCEngine) notifyAllLeft() {
	e.mu.Lock()
	events := e.events
	uids := make([]uint32, 0, len(e.seen))
	for uid := range e.seen {
		uids = append(uids, uid)
	}
	e.seen = make(map[uint32]bool)
	e.mu.Unlock()

	if events.OnRemoteLeft == nil {
		return
	}
	for _, uid := range uids {
		events.OnRemoteLeft(uid)
	}
}
