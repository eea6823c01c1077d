package instagram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
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
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		HTTPClient:   doer,
	})
	if err != nil {
		t.Fatalf("expected adapter, got error: %v", err)
	}
	return adapter
}

func formBody(t *testing.T, raw string) url.Values {
	t.Helper()
	form, err := url.ParseQuery(raw)
	if err != nil {
		t.Fatalf("expected form body, got error: %v", err)
	}
	return form
}

func TestRefreshNotSupported(t *testing.T) {
	adapter := newTestAdapter(t, &fakeDoer{})
	_, err := adapter.Refresh(context.Background(), "whatever")
	if !errors.Is(err, core.ErrRefreshNotSupported) {
		t.Fatalf("expected ErrRefreshNotSupported, got %v", err)
	}
}

func TestExchangeCodeClearsRefreshToken(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"access_token":"tok-1","refresh_token":"should-vanish","expires_in":3600}`),
	}}
	adapter := newTestAdapter(t, doer)

	credential, err := adapter.ExchangeCode(context.Background(), "the-code", "")
	if err != nil {
		t.Fatalf("expected credential, got error: %v", err)
	}
	if credential.RefreshToken != "" {
		t.Fatalf("expected no refresh token, got %q", credential.RefreshToken)
	}
	if credential.AccessToken != "tok-1" {
		t.Fatalf("expected access token, got %q", credential.AccessToken)
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

func TestPublishSingleImage(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"id":"container-1"}`),
		jsonResponse(http.StatusOK, `{"id":"post-1"}`),
	}}
	adapter := newTestAdapter(t, doer)

	postID, err := adapter.Publish(context.Background(), "token-1", core.PublishContent{
		Body:      "caption text",
		ImageURLs: []string{"https://cdn.example.com/pic.png"},
	})
	if err != nil {
		t.Fatalf("expected post id, got error: %v", err)
	}
	if postID != "post-1" {
		t.Fatalf("expected post-1, got %q", postID)
	}
	if len(doer.requests) != 2 {
		t.Fatalf("expected container and publish requests, got %d", len(doer.requests))
	}

	container := formBody(t, doer.bodies[0])
	if container.Get("image_url") != "https://cdn.example.com/pic.png" {
		t.Fatalf("expected image url, got %q", container.Get("image_url"))
	}
	if container.Get("caption") != "caption text" {
		t.Fatalf("expected caption, got %q", container.Get("caption"))
	}

	publish := formBody(t, doer.bodies[1])
	if publish.Get("creation_id") != "container-1" {
		t.Fatalf("expected creation id, got %q", publish.Get("creation_id"))
	}
}

func TestPublishCarousel(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"id":"child-1"}`),
		jsonResponse(http.StatusOK, `{"id":"child-2"}`),
		jsonResponse(http.StatusOK, `{"id":"carousel-1"}`),
		jsonResponse(http.StatusOK, `{"id":"post-1"}`),
	}}
	adapter := newTestAdapter(t, doer)

	postID, err := adapter.Publish(context.Background(), "token-1", core.PublishContent{
		Body:      "two pictures",
		ImageURLs: []string{"https://cdn.example.com/1.png", "https://cdn.example.com/2.png"},
	})
	if err != nil {
		t.Fatalf("expected post id, got error: %v", err)
	}
	if postID != "post-1" {
		t.Fatalf("expected post-1, got %q", postID)
	}
	if len(doer.requests) != 4 {
		t.Fatalf("expected two children, a carousel and a publish, got %d", len(doer.requests))
	}

	firstChild := formBody(t, doer.bodies[0])
	if firstChild.Get("is_carousel_item") != "true" {
		t.Fatalf("expected carousel item flag, got %v", firstChild)
	}
	if firstChild.Get("caption") != "" {
		t.Fatalf("expected caption on the carousel only, got %q", firstChild.Get("caption"))
	}

	carousel := formBody(t, doer.bodies[2])
	if carousel.Get("media_type") != "CAROUSEL" {
		t.Fatalf("expected carousel container, got %v", carousel)
	}
	if carousel.Get("children") != "child-1,child-2" {
		t.Fatalf("expected children in order, got %q", carousel.Get("children"))
	}
	if carousel.Get("caption") != "two pictures" {
		t.Fatalf("expected caption on the carousel, got %q", carousel.Get("caption"))
	}
}

func TestFetchIdentity(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"id":"ig-7","username":"creator"}`),
	}}
	adapter := newTestAdapter(t, doer)

	identity, err := adapter.FetchIdentity(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("expected identity, got error: %v", err)
	}
	if identity.ExternalID != "ig-7" || identity.DisplayName != "creator" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}
