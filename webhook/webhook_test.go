package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDeliver_SignsPayload(t *testing.T) {
	const secret = "hunter2"

	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Nodekeeper-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	event := &Event{
		Type:      "node.retired",
		Instance:  "build-host-1",
		Timestamp: time.Now().Unix(),
		Data:      map[string]string{"reason": "trim"},
	}
	if err := Deliver(context.Background(), srv.URL, secret, event); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}

	var decoded Event
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded.Type != "node.retired" {
		t.Errorf("event type = %q, want %q", decoded.Type, "node.retired")
	}
}

func TestDeliver_NoSecretNoSignature(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Nodekeeper-Signature")
	}))
	defer srv.Close()

	if err := Deliver(context.Background(), srv.URL, "", &Event{Type: "pool.trimmed"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if gotSig != "" {
		t.Errorf("unexpected signature header %q with empty secret", gotSig)
	}
}

func TestDeliver_EndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := Deliver(context.Background(), srv.URL, "", &Event{Type: "pool.trimmed"}); err == nil {
		t.Error("Deliver should fail on a 5xx response")
	}
}
