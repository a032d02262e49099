package server

import (
	"fmt"
	"log/slog"

	"github.com/oszuidwest/crest/internal/archive"
	"github.com/oszuidwest/crest/internal/notify"
	"github.com/oszuidwest/crest/internal/types"
	"github.com/oszuidwest/crest/internal/util"
)

// --- Notification handlers ---

// handleWebhookUpdate processes a notifications/webhook/update command.
func (h *CommandHandler) handleWebhookUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *WebhookUpdateRequest) error {
		return h.cfg.SetWebhookURL(req.URL)
	})
}

// handleLogUpdate processes a notifications/log/update command.
func (h *CommandHandler) handleLogUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *LogUpdateRequest) error {
		if req.Path != "" {
			if err := util.ValidatePath("path", req.Path); err != nil {
				return err
			}
			if err := util.CheckFileAppendable(req.Path); err != nil {
				return err
			}
		}
		return h.cfg.SetLogPath(req.Path)
	})
}

// runTest dispatches to the appropriate notification test.
func (h *CommandHandler) runTest(testType string) error {
	cfg := h.cfg.Snapshot()
	switch testType {
	case "webhook":
		return notify.SendTestWebhook(cfg.WebhookURL)
	case "log":
		return notify.WriteTestLog(cfg.LogPath)
	case "archive":
		return archive.TestS3Connection(&archive.S3Config{
			Endpoint:        cfg.ArchiveEndpoint,
			Bucket:          cfg.ArchiveBucket,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
		})
	default:
		return fmt.Errorf("unknown test type: %s", testType)
	}
}

// handleNotificationTest processes a notifications/test command.
func (h *CommandHandler) handleNotificationTest(cmd WSCommand, send chan<- any) {
	var req NotificationTestRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}
	h.handleTest(send, req.Target)
}

// handleArchiveTest processes an archive/test command.
func (h *CommandHandler) handleArchiveTest(send chan<- any) {
	h.handleTest(send, "archive")
}

// handleTest executes a test and sends the result to the client.
func (h *CommandHandler) handleTest(send chan<- any, testType string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in test handler", "test", testType, "panic", r)
			}
		}()

		result := types.WSTestResult{
			Type:     "test_result",
			TestType: testType,
			Success:  true,
		}

		if err := h.runTest(testType); err != nil {
			slog.Error("test failed", "test", testType, "error", err)
			result.Success = false
			result.Error = err.Error()
		} else {
			slog.Info("test succeeded", "test", testType)
		}

		SendData(send, result)
	}()
}
