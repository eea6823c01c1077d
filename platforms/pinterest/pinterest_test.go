package pinterest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/goliatone/go-social/core"
)

type fakeDoer struct {
	requests  []*http.Request
	bodies    []string
	responses []*http.Response
}

func (d *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	d.requests = append(d.requests, req)
	if req.Body != nil {
		body, _ := io.ReadAll(req.Body)
		d.bodies = append(d.bodies, string(body))
	} else {
		d.bodies = append(d.bodies, "")
	}
	if len(d.responses) == 0 {
		return jsonResponse(http.StatusOK, "{}"), nil
	}
	response := d.responses[0]
	d.responses = d.responses[1:]
	return response, nil
}

func jsonResponse(status int, body string) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestAdapter(t *testing.T, doer *fakeDoer) *Adapter {
	t.Helper()
	adapter, err := New(Config{
		ClientID:       "client-1",
		ClientSecret:   "secret-1",
		DefaultBoardID: "board-1",
		HTTPClient:     doer,
	})
	if err != nil {
		t.Fatalf("expected adapter, got error: %v", err)
	}
	return adapter
}

func TestNewRequiresBoard(t *testing.T) {
	_, err := New(Config{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
	})
	if err == nil {
		t.Fatalf("expected error for missing board id")
	}
}

func TestPublishRequiresImage(t *testing.T) {
	doer := &fakeDoer{}
	adapter := newTestAdapter(t, doer)

	_, err := adapter.Publish(context.Background(), "token-1", core.PublishContent{Body: "text only"})
	if err == nil {
		t.Fatalf("expected error without images")
	}
	var platformErr *core.PlatformError
	if !errors.As(err, &platformErr) || platformErr.Retryable {
		t.Fatalf("expected terminal platform error, got %v", err)
	}
	if len(doer.requests) != 0 {
		t.Fatalf("expected rejection before any network call, got %d requests", len(doer.requests))
	}
}

func TestPublishCreatesPin(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusCreated, `{"id":"pin-1"}`),
	}}
	adapter := newTestAdapter(t, doer)

	postID, err := adapter.Publish(context.Background(), "token-1", core.PublishContent{
		Body:      "a lovely description",
		Link:      "https://example.com/article",
		ImageURLs: []string{"https://cdn.example.com/1.png", "https://cdn.example.com/2.png"},
	})
	if err != nil {
		t.Fatalf("expected pin id, got error: %v", err)
	}
	if postID != "pin-1" {
		t.Fatalf("expected pin-1, got %q", postID)
	}
	if len(doer.requests) != 1 {
		t.Fatalf("expected one request, got %d", len(doer.requests))
	}
	if got := doer.requests[0].Header.Get("Authorization"); got != "Bearer token-1" {
		t.Fatalf("expected bearer auth, got %q", got)
	}

	var pin struct {
		BoardID     string `json:"board_id"`
		Description string `json:"description"`
		Link        string `json:"link"`
		MediaSource struct {
			SourceType string `json:"source_type"`
			URL        string `json:"url"`
		} `json:"media_source"`
	}
	if err := json.Unmarshal([]byte(doer.bodies[0]), &pin); err != nil {
		t.Fatalf("expected json pin body, got error: %v", err)
	}
	if pin.BoardID != "board-1" {
		t.Fatalf("expected default board, got %q", pin.BoardID)
	}
	if pin.MediaSource.SourceType != "image_url" || pin.MediaSource.URL != "https://cdn.example.com/1.png" {
		t.Fatalf("expected first image only, got %+v", pin.MediaSource)
	}
	if pin.Description != "a lovely description" || pin.Link != "https://example.com/article" {
		t.Fatalf("unexpected pin payload: %+v", pin)
	}
}

func TestFetchIdentity(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"id":"pin-user","username":"pinner"}`),
	}}
	adapter := newTestAdapter(t, doer)

	identity, err := adapter.FetchIdentity(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("expected identity, got error: %v", err)
	}
	if identity.ExternalID != "pin-user" || identity.DisplayName != "pinner" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestPublishAPIError(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusTooManyRequests, `{"code":429,"message":"request throttled"}`),
	}}
	adapter := newTestAdapter(t, doer)

	_, err := adapter.Publish(context.Background(), "token-1", core.PublishContent{
		ImageURLs: []string{"https://cdn.example.com/1.png"},
	})
	var platformErr *core.PlatformError
	if !errors.As(err, &platformErr) {
		t.Fatalf("expected platform error, got %v", err)
	}
	if !platformErr.Retryable {
		t.Fatalf("expected retryable 429")
	}
	if !strings.Contains(platformErr.Message, "request throttled") {
		t.Fatalf("expected upstream message, got %q", platformErr.Message)
	}
}
