package x

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"unicode/utf8"

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
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		HTTPClient:   doer,
	})
	if err != nil {
		t.Fatalf("expected adapter, got error: %v", err)
	}
	return adapter
}

func TestPublishTruncatesBody(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"data":{"id":"tweet-1"}}`),
	}}
	adapter := newTestAdapter(t, doer)

	body := strings.Repeat("a very long sentence without end ", 20)
	postID, err := adapter.Publish(context.Background(), "token-1", core.PublishContent{Body: body})
	if err != nil {
		t.Fatalf("expected post id, got error: %v", err)
	}
	if postID != "tweet-1" {
		t.Fatalf("expected tweet-1, got %q", postID)
	}

	if len(doer.bodies) != 1 {
		t.Fatalf("expected one request, got %d", len(doer.bodies))
	}
	var tweet struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(doer.bodies[0]), &tweet); err != nil {
		t.Fatalf("expected json tweet body, got error: %v", err)
	}
	if count := utf8.RuneCountInString(tweet.Text); count > 280 {
		t.Fatalf("expected at most 280 runes, got %d", count)
	}
	if !strings.HasSuffix(tweet.Text, "…") {
		t.Fatalf("expected truncation marker, got %q", tweet.Text)
	}
}

func TestPublishAppendsLink(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"data":{"id":"tweet-1"}}`),
	}}
	adapter := newTestAdapter(t, doer)

	_, err := adapter.Publish(context.Background(), "token-1", core.PublishContent{
		Body: "hello",
		Link: "https://example.com/post",
	})
	if err != nil {
		t.Fatalf("expected post id, got error: %v", err)
	}
	var tweet struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(doer.bodies[0]), &tweet); err != nil {
		t.Fatalf("expected json tweet body, got error: %v", err)
	}
	if tweet.Text != "hello https://example.com/post" {
		t.Fatalf("expected link appended, got %q", tweet.Text)
	}
}

func TestPublishEmptyContent(t *testing.T) {
	doer := &fakeDoer{}
	adapter := newTestAdapter(t, doer)

	_, err := adapter.Publish(context.Background(), "token-1", core.PublishContent{})
	if err == nil {
		t.Fatalf("expected error for empty content")
	}
	var platformErr *core.PlatformError
	if !errors.As(err, &platformErr) || platformErr.Retryable {
		t.Fatalf("expected terminal platform error, got %v", err)
	}
	if len(doer.requests) != 0 {
		t.Fatalf("expected no network call, got %d", len(doer.requests))
	}
}

func TestPublishWithImages(t *testing.T) {
	imageBytes := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("png-bytes")),
	}
	doer := &fakeDoer{responses: []*http.Response{
		imageBytes,
		jsonResponse(http.StatusOK, `{"media_id_string":"media-1"}`),
		jsonResponse(http.StatusOK, `{"data":{"id":"tweet-1"}}`),
	}}
	adapter := newTestAdapter(t, doer)

	postID, err := adapter.Publish(context.Background(), "token-1", core.PublishContent{
		Body:      "with picture",
		ImageURLs: []string{"https://cdn.example.com/pic.png"},
	})
	if err != nil {
		t.Fatalf("expected post id, got error: %v", err)
	}
	if postID != "tweet-1" {
		t.Fatalf("expected tweet-1, got %q", postID)
	}
	if len(doer.requests) != 3 {
		t.Fatalf("expected fetch, upload and tweet requests, got %d", len(doer.requests))
	}

	upload, err := url.ParseQuery(doer.bodies[1])
	if err != nil {
		t.Fatalf("expected upload form, got error: %v", err)
	}
	if upload.Get("media_data") == "" {
		t.Fatalf("expected base64 media payload")
	}

	var tweet struct {
		Media struct {
			MediaIDs []string `json:"media_ids"`
		} `json:"media"`
	}
	if err := json.Unmarshal([]byte(doer.bodies[2]), &tweet); err != nil {
		t.Fatalf("expected json tweet body, got error: %v", err)
	}
	if len(tweet.Media.MediaIDs) != 1 || tweet.Media.MediaIDs[0] != "media-1" {
		t.Fatalf("expected staged media attached, got %v", tweet.Media.MediaIDs)
	}
}

func TestFetchIdentity(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"data":{"id":"42","username":"someone"}}`),
	}}
	adapter := newTestAdapter(t, doer)

	identity, err := adapter.FetchIdentity(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("expected identity, got error: %v", err)
	}
	if identity.ExternalID != "42" || identity.DisplayName != "someone" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if got := doer.requests[0].Header.Get("Authorization"); got != "Bearer token-1" {
		t.Fatalf("expected bearer auth, got %q", got)
	}
}

func TestPublishRateLimitedIsRetryable(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusTooManyRequests, `{"title":"Too Many Requests","detail":"rate limit exceeded"}`),
	}}
	adapter := newTestAdapter(t, doer)

	_, err := adapter.Publish(context.Background(), "token-1", core.PublishContent{Body: "hello"})
	var platformErr *core.PlatformError
	if !errors.As(err, &platformErr) {
		t.Fatalf("expected platform error, got %v", err)
	}
	if !platformErr.Retryable || platformErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected retryable 429, got %+v", platformErr)
	}
	if !strings.Contains(platformErr.Message, "rate limit exceeded") {
		t.Fatalf("expected upstream detail, got %q", platformErr.Message)
	}
}
