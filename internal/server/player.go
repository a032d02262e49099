package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oszuidwest/crest/internal/classifier"
	"github.com/oszuidwest/crest/internal/ducking"
	"github.com/oszuidwest/crest/internal/pipeline"
	"github.com/oszuidwest/crest/internal/sched"
	"github.com/oszuidwest/crest/internal/types"
)

// Queue sizes of one player connection.
const (
	playerLoopQueue  = 64
	playerSendBuffer = 32
)

var errSendQueueFull = errors.New("player send queue full")

// PlayerConfig holds the collaborators shared by all player sessions.
type PlayerConfig struct {
	Sessions   *pipeline.Manager
	Settings   func() pipeline.Settings
	Classifier classifier.Classifier
	Publisher  ducking.Publisher
	Archiver   pipeline.Archiver
}

// PlayerHandler serves media-client connections. Each connection gets its
// own pipeline session running on its own loop.
type PlayerHandler struct {
	cfg PlayerConfig
}

// NewPlayerHandler creates a handler for media-client connections.
func NewPlayerHandler(cfg PlayerConfig) *PlayerHandler {
	return &PlayerHandler{cfg: cfg}
}

// Serve runs the media-client protocol until the connection closes.
func (h *PlayerHandler) Serve(conn WebSocketConn) {
	send := make(chan any, playerSendBuffer)
	done := make(chan struct{})
	go RunWriter(conn, send, done)

	settings := h.cfg.Settings()
	loop := sched.NewLoop(playerLoopQueue)
	sess := pipeline.New(pipeline.Options{
		ID:         uuid.NewString(),
		Settings:   settings,
		Scheduler:  loop,
		Post:       loop.Post,
		Classifier: h.cfg.Classifier,
		Remote:     playerRemote{send: send},
		Publisher:  h.cfg.Publisher,
		Archiver:   h.cfg.Archiver,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("session loop stopped", "session", sess.ID(), "error", err)
		}
	}()

	h.cfg.Sessions.Register(sess, loop.Post)
	trySend(send, "session", types.WSSession{
		Type:            "session",
		ID:              sess.ID(),
		SampleCadenceMs: settings.SampleCadence.Milliseconds(),
	})

	h.read(conn, sess, loop, send)

	h.cfg.Sessions.Unregister(sess.ID())
	closed := make(chan struct{})
	if err := loop.Post(func() {
		sess.Close()
		close(closed)
	}); err == nil {
		<-closed
	}
	cancel()
	<-loop.Done()
	close(done)
}

// read dispatches inbound messages onto the session loop until the connection fails.
func (h *PlayerHandler) read(conn WebSocketConn, sess *pipeline.Session, loop *sched.Loop, send chan<- any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in player WebSocket reader", "panic", r)
		}
	}()

	for {
		var cmd WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			slog.Debug("player connection closed", "session", sess.ID(), "error", err)
			return
		}
		fn := h.dispatch(cmd, sess, send)
		if fn == nil {
			continue
		}
		if err := loop.Post(fn); err != nil {
			return
		}
	}
}

// dispatch decodes cmd and returns the session call to run on the loop.
// It returns nil when the message is invalid or unknown.
func (h *PlayerHandler) dispatch(cmd WSCommand, sess *pipeline.Session, send chan<- any) func() {
	switch cmd.Type {
	case "snapshot":
		var m SnapshotMessage
		if !DecodeAndValidate(cmd, send, &m) {
			return nil
		}
		bins := make([]uint8, len(m.Bins))
		for i, b := range m.Bins {
			bins[i] = uint8(b)
		}
		return func() { sess.HandleSnapshot(bins) }
	case "pcm":
		var m PCMMessage
		if !DecodeAndValidate(cmd, send, &m) {
			return nil
		}
		return func() { sess.HandlePCM(m.Data) }
	case "caption":
		var m CaptionMessage
		if !DecodeAndValidate(cmd, send, &m) {
			return nil
		}
		return func() { sess.HandleCaption(m.Text) }
	case "volume":
		var m VolumeMessage
		if !DecodeAndValidate(cmd, send, &m) {
			return nil
		}
		return func() { sess.HandleVolumeChanged(m.Volume) }
	case "media":
		var m MediaMessage
		if !DecodeAndValidate(cmd, send, &m) {
			return nil
		}
		return func() { sess.HandleMedia(m.Present, m.Volume, m.Audio) }
	case "navigate":
		var m NavigateMessage
		if !DecodeAndValidate(cmd, send, &m) {
			return nil
		}
		return func() { sess.Navigate(m.URL) }
	case "unavailable":
		var m UnavailableMessage
		if !DecodeAndValidate(cmd, send, &m) {
			return nil
		}
		return func() { sess.SignalUnavailable(m.Reason) }
	default:
		slog.Warn("unknown player message", "type", cmd.Type, "session", sess.ID())
		SendError(send, cmd.Type, errUnknownCommand)
		return nil
	}
}

// playerRemote sends actuator writes and notifications to the media client.
type playerRemote struct {
	send chan<- any
}

func (r playerRemote) SetVolume(v float64) error {
	if !trySend(r.send, "set_volume", types.WSSetVolume{Type: "set_volume", Volume: v}) {
		return errSendQueueFull
	}
	return nil
}

func (r playerRemote) Show(text string, d time.Duration) {
	trySend(r.send, "notification", types.WSNotification{
		Type:       "notification",
		Text:       text,
		DurationMs: d.Milliseconds(),
	})
}

func (r playerRemote) Hide() {
	trySend(r.send, "notification_hide", types.WSNotification{Type: "notification_hide"})
}

func (r playerRemote) Configure(sampleCadence time.Duration) {
	trySend(r.send, "settings", types.WSPlayerSettings{
		Type:            "settings",
		SampleCadenceMs: sampleCadence.Milliseconds(),
	})
}
