package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSlackChannel_SendsBridgeBrandedAttachment(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL)
	err := ch.Send(context.Background(), AlertPayload{
		Level:     Critical,
		Title:     "startup cancel sweep failed",
		Message:   "could not clear resting orders",
		Timestamp: time.Now(),
		Fields:    map[string]string{"pair": "eth_btc"},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	var payload struct {
		Attachments []struct {
			Color   string `json:"color"`
			Pretext string `json:"pretext"`
			Footer  string `json:"footer"`
		} `json:"attachments"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unparseable webhook body: %v", err)
	}
	if len(payload.Attachments) != 1 {
		t.Fatalf("expected one attachment, got %d", len(payload.Attachments))
	}
	att := payload.Attachments[0]
	if att.Footer != "Exchange Bridge" {
		t.Errorf("footer = %q, want %q", att.Footer, "Exchange Bridge")
	}
	if att.Color != "#8b0000" {
		t.Errorf("critical color = %q", att.Color)
	}
	if !strings.Contains(att.Pretext, "CRITICAL") {
		t.Errorf("pretext does not carry the level: %q", att.Pretext)
	}
}

func TestSlackChannel_EmptyWebhookIsNoop(t *testing.T) {
	ch := NewSlackChannel("")
	if err := ch.Send(context.Background(), AlertPayload{Level: Info}); err != nil {
		t.Fatalf("disabled channel returned error: %v", err)
	}
}

func TestSlackChannel_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL)
	err := ch.Send(context.Background(), AlertPayload{Level: Error, Timestamp: time.Now()})
	if err == nil {
		t.Fatal("expected error on 502 response")
	}
}
