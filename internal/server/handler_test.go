package server

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/oszuidwest/crest/internal/types"
)

func command(typ, data string) WSCommand {
	return WSCommand{Type: typ, Data: json.RawMessage(data)}
}

func result(t *testing.T, send <-chan any) types.WSCommandResult {
	t.Helper()
	select {
	case msg := <-send:
		res, ok := msg.(types.WSCommandResult)
		if !ok {
			t.Fatalf("response type %T, want WSCommandResult", msg)
		}
		return res
	default:
		t.Fatal("no response sent")
	}
	return types.WSCommandResult{}
}

func TestHandleCommand(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		processed bool
		success   bool
		field     string
	}{
		{"valid", `{"volume":0.5}`, true, true, ""},
		{"out of range", `{"volume":1.5}`, false, false, "volume"},
		{"invalid json", `{"volume":`, false, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send := make(chan any, 1)
			processed := false
			HandleCommand(command("volume", tt.data), send, func(*VolumeMessage) error {
				processed = true
				return nil
			})
			if processed != tt.processed {
				t.Errorf("processed = %v, want %v", processed, tt.processed)
			}
			res := result(t, send)
			if res.Success != tt.success || res.Type != "volume_result" {
				t.Errorf("result = %+v", res)
			}
			if tt.field != "" && (res.Error == nil || res.Error.Errors[0].Field != tt.field) {
				t.Errorf("error = %+v, want field %q", res.Error, tt.field)
			}
		})
	}
}

func TestHandleCommandProcessError(t *testing.T) {
	send := make(chan any, 1)
	HandleCommand(command("log/update", `{"path":"/tmp/x"}`), send, func(*LogUpdateRequest) error {
		return errors.New("disk full")
	})
	res := result(t, send)
	if res.Success || res.Error == nil || res.Error.Error() != "disk full" {
		t.Errorf("result = %+v", res)
	}
}

func TestSendErrorKeepsFieldErrors(t *testing.T) {
	verr := types.NewValidationError()
	verr.Add("detection.min_baseline_fill", "failed 'ltefield' validation", 60)

	send := make(chan any, 1)
	SendError(send, "detection/update", verr)
	res := result(t, send)
	if res.Error == nil || len(res.Error.Errors) != 1 || res.Error.Errors[0].Field != "detection.min_baseline_fill" {
		t.Errorf("result = %+v", res)
	}
}

func TestSnapshotValidation(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		valid bool
	}{
		{"bins", `{"bins":[0,128,255]}`, true},
		{"empty", `{"bins":[]}`, false},
		{"out of range bin", `{"bins":[10,300]}`, false},
		{"negative bin", `{"bins":[-1]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m SnapshotMessage
			err := Decode(command("snapshot", tt.data), &m)
			if (err == nil) != tt.valid {
				t.Errorf("Decode() error = %v, valid = %v", err, tt.valid)
			}
		})
	}
}

func TestTrySendDropsWhenFull(t *testing.T) {
	send := make(chan any, 1)
	if !trySend(send, "a", 1) {
		t.Fatal("first send dropped")
	}
	if trySend(send, "b", 2) {
		t.Error("send on full channel reported success")
	}
}
