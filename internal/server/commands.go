package server

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/oszuidwest/crest/internal/config"
	"github.com/oszuidwest/crest/internal/eventlog"
	"github.com/oszuidwest/crest/internal/pipeline"
	"github.com/oszuidwest/crest/internal/types"
)

// DefaultEventsLimit is the page size of events/list when none is given.
const DefaultEventsLimit = 50

var errUnknownCommand = errors.New("unknown command")

// CommandHandler processes dashboard WebSocket commands.
type CommandHandler struct {
	cfg          *config.Config
	sessions     *pipeline.Manager
	eventLogPath string
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, sessions *pipeline.Manager, eventLogPath string) *CommandHandler {
	return &CommandHandler{
		cfg:          cfg,
		sessions:     sessions,
		eventLogPath: eventLogPath,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "ducking/update", "test/duck")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "status":
		slog.Debug("status requested, status update will be triggered")
	case "events":
		h.handleEvents(action, cmd, send)
	case "detection", "coordination", "ducking":
		h.handleSettings(namespace, action, cmd, send)
	case "test":
		h.handleTestActions(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "archive":
		h.handleArchive(action, send)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
		SendError(send, cmd.Type, errUnknownCommand)
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleEvents routes events/* commands
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "list":
		h.handleEventsList(cmd, send)
	default:
		slog.Warn("unknown events action", "action", action)
		SendError(send, cmd.Type, errUnknownCommand)
	}
}

// handleSettings routes detection/*, coordination/* and ducking/* commands
func (h *CommandHandler) handleSettings(namespace, action string, cmd WSCommand, send chan<- any) {
	if action != "update" {
		slog.Warn("unknown settings action", "namespace", namespace, "action", action)
		SendError(send, cmd.Type, errUnknownCommand)
		return
	}
	switch namespace {
	case "detection":
		h.handleDetectionUpdate(cmd, send)
	case "coordination":
		h.handleCoordinationUpdate(cmd, send)
	case "ducking":
		h.handleDuckingUpdate(cmd, send)
	}
}

// handleTestActions routes test/* commands
func (h *CommandHandler) handleTestActions(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "duck":
		h.handleTestDuck(cmd, send)
	default:
		slog.Warn("unknown test action", "action", action)
		SendError(send, cmd.Type, errUnknownCommand)
	}
}

// handleNotifications routes notifications/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	switch {
	case action == "webhook" && subaction == "update":
		h.handleWebhookUpdate(cmd, send)
	case action == "log" && subaction == "update":
		h.handleLogUpdate(cmd, send)
	case action == "test":
		h.handleNotificationTest(cmd, send)
	default:
		slog.Warn("unknown notifications action", "action", action, "subaction", subaction)
		SendError(send, cmd.Type, errUnknownCommand)
	}
}

// handleArchive routes archive/* commands
func (h *CommandHandler) handleArchive(action string, send chan<- any) {
	switch action {
	case "test":
		h.handleArchiveTest(send)
	default:
		slog.Warn("unknown archive action", "action", action)
	}
}

// handleEventsList reads a page of the persisted telemetry history.
func (h *CommandHandler) handleEventsList(cmd WSCommand, send chan<- any) {
	var req EventsListRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultEventsLimit
	}

	HandleActionAsync(cmd, send, func() (any, error) {
		events, hasMore, err := eventlog.ReadLast(h.eventLogPath, limit, req.Offset, eventlog.TypeFilter(req.Filter))
		if err != nil {
			return nil, err
		}
		return types.EventsPage{
			Events:  events,
			HasMore: hasMore,
			Offset:  req.Offset,
			Limit:   limit,
		}, nil
	})
}
