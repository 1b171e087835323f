package push

import (
	"testing"

	"github.com/aceteam-ai/imposium-cli/internal/experience"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"completion", `{"event":"completion"}`, "completion"},
		{"status", `{"event":"message","status":"rendering"}`, "status"},
		{"error status", `{"event":"message","status":"error","error":"encoder crashed"}`, "status"},
		{"scene", `{"event":"scene","experience":{"id":"job-1","output":{"mp4":"u"}}}`, "result"},
		{"scene without payload", `{"event":"scene"}`, "parse"},
		{"unknown event", `{"event":"gotSomething"}`, "parse"},
		{"missing event", `{"status":"rendering"}`, "parse"},
		{"not json", `garbage{`, "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			switch ev := Decode("key-1", []byte(tt.body)).(type) {
			case Completion:
				got = "completion"
				if ev.Key != "key-1" {
					t.Errorf("Key = %q", ev.Key)
				}
			case StatusMessage:
				got = "status"
			case ResultReady:
				got = "result"
				if ev.Experience.ID != "job-1" {
					t.Errorf("Experience.ID = %q", ev.Experience.ID)
				}
			case ParseError:
				got = "parse"
				if ev.Err == nil {
					t.Error("ParseError without Err")
				}
			}
			if got != tt.want {
				t.Errorf("Decode() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatusMessageIsError(t *testing.T) {
	ev, ok := Decode("k", []byte(`{"event":"message","status":"error","error":"boom"}`)).(StatusMessage)
	if !ok {
		t.Fatal("expected StatusMessage")
	}
	if !ev.IsError() {
		t.Error("IsError() = false, want true")
	}
	if ev.Detail != "boom" {
		t.Errorf("Detail = %q, want boom", ev.Detail)
	}

	ev, _ = Decode("k", []byte(`{"event":"message","status":"queued"}`)).(StatusMessage)
	if ev.IsError() {
		t.Error("IsError() = true for a normal status")
	}
}

func TestDecodeRejectedScene(t *testing.T) {
	ev, ok := Decode("k", []byte(`{"event":"scene","experience":{"id":"j","moderation_status":"rejected"}}`)).(ResultReady)
	if !ok {
		t.Fatal("expected ResultReady")
	}
	if ev.Experience.ModerationStatus != experience.ModerationRejected {
		t.Errorf("ModerationStatus = %q", ev.Experience.ModerationStatus)
	}
}
