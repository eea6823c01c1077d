package core

import (
	"context"
	"testing"
)

func TestPublishFansOutOneOutcomePerPlatform(t *testing.T) {
	facebook := &fakePlatform{id: "facebook", publishID: "fb-post-1"}
	pinterest := &fakePlatform{id: "pinterest", publishID: "pin-1"}
	x := &fakePlatform{
		id: "x",
		publishErr: &PlatformError{
			Platform: "x", Op: "publish", Message: "over capacity",
			StatusCode: 503, Retryable: true,
		},
	}
	service, store := newTestService(t, Config{}, facebook, pinterest, x)
	ctx := context.Background()
	for _, platform := range []string{"facebook", "pinterest", "x"} {
		seedActiveConnection(t, store, platform, Credential{AccessToken: "token-" + platform}, false)
	}

	outcomes, err := service.Publish(ctx, PublishRequest{
		AccountID: "acct-1",
		Platforms: []string{"facebook", "pinterest", "x"},
		Content:   PublishContent{Body: "hello"},
	})
	if err != nil {
		t.Fatalf("expected outcomes, got error: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	for index, platform := range []string{"facebook", "pinterest", "x"} {
		if outcomes[index].Platform != platform {
			t.Fatalf("expected outcome order preserved, got %q at %d", outcomes[index].Platform, index)
		}
	}
	if !outcomes[0].Success || outcomes[0].PostID != "fb-post-1" {
		t.Fatalf("expected facebook success, got %+v", outcomes[0])
	}
	if !outcomes[1].Success || outcomes[1].PostID != "pin-1" {
		t.Fatalf("expected pinterest success, got %+v", outcomes[1])
	}
	if outcomes[2].Success {
		t.Fatalf("expected x failure, got %+v", outcomes[2])
	}
	if !outcomes[2].Retryable {
		t.Fatalf("expected x failure to be retryable")
	}
	if facebook.PublishCalls() != 1 || pinterest.PublishCalls() != 1 || x.PublishCalls() != 1 {
		t.Fatalf("expected one publish call per platform")
	}
}

func TestPublishNoActiveConnection(t *testing.T) {
	facebook := &fakePlatform{id: "facebook", publishID: "fb-post-1"}
	service, _ := newTestService(t, Config{}, facebook)

	outcomes, err := service.Publish(context.Background(), PublishRequest{
		AccountID: "acct-1",
		Platforms: []string{"facebook"},
		Content:   PublishContent{Body: "hello"},
	})
	if err != nil {
		t.Fatalf("expected outcomes, got error: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected one outcome, got %d", len(outcomes))
	}
	if outcomes[0].Success || outcomes[0].Retryable {
		t.Fatalf("expected terminal failure, got %+v", outcomes[0])
	}
	if facebook.PublishCalls() != 0 {
		t.Fatalf("expected no network call without a connection, got %d", facebook.PublishCalls())
	}
}

func TestPublishUnknownPlatformOutcome(t *testing.T) {
	service, _ := newTestService(t, Config{})

	outcomes, err := service.Publish(context.Background(), PublishRequest{
		AccountID: "acct-1",
		Platforms: []string{"myspace"},
		Content:   PublishContent{Body: "hello"},
	})
	if err != nil {
		t.Fatalf("expected outcomes, got error: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Success || outcomes[0].Retryable {
		t.Fatalf("expected one terminal failure, got %+v", outcomes)
	}
}

func TestPublishRevokedCredentialParksConnection(t *testing.T) {
	x := &fakePlatform{
		id: "x",
		publishErr: &PlatformError{
			Platform: "x", Op: "publish", Message: "token revoked",
			StatusCode: 401, Retryable: false,
		},
	}
	service, store := newTestService(t, Config{}, x)
	ctx := context.Background()
	conn := seedActiveConnection(t, store, "x", Credential{AccessToken: "token-1"}, false)

	outcomes, err := service.Publish(ctx, PublishRequest{
		AccountID: "acct-1",
		Platforms: []string{"x"},
		Content:   PublishContent{Body: "hello"},
	})
	if err != nil {
		t.Fatalf("expected outcomes, got error: %v", err)
	}
	if outcomes[0].Success || outcomes[0].Retryable {
		t.Fatalf("expected terminal failure, got %+v", outcomes[0])
	}
	after, _ := store.Get(ctx, conn.ID)
	if after.Status != ConnectionStatusPendingReauth {
		t.Fatalf("expected pending_reauth after 401, got %s", after.Status)
	}
}

func TestPublishDuplicateEntriesShareOneCall(t *testing.T) {
	x := &fakePlatform{id: "x", publishID: "post-1"}
	service, store := newTestService(t, Config{}, x)
	seedActiveConnection(t, store, "x", Credential{AccessToken: "token-1"}, false)

	outcomes, err := service.Publish(context.Background(), PublishRequest{
		AccountID: "acct-1",
		Platforms: []string{"x", "X", " x "},
		Content:   PublishContent{Body: "hello"},
	})
	if err != nil {
		t.Fatalf("expected outcomes, got error: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected one outcome per request entry, got %d", len(outcomes))
	}
	for index, outcome := range outcomes {
		if !outcome.Success || outcome.PostID != "post-1" || outcome.Platform != "x" {
			t.Fatalf("expected duplicate entries to share the result, got %+v at %d", outcome, index)
		}
	}
	if x.PublishCalls() != 1 {
		t.Fatalf("expected one publish call, got %d", x.PublishCalls())
	}
}

func TestPublishBlankEntryGetsTerminalOutcome(t *testing.T) {
	x := &fakePlatform{id: "x", publishID: "post-1"}
	service, store := newTestService(t, Config{}, x)
	seedActiveConnection(t, store, "x", Credential{AccessToken: "token-1"}, false)

	outcomes, err := service.Publish(context.Background(), PublishRequest{
		AccountID: "acct-1",
		Platforms: []string{"x", "  "},
		Content:   PublishContent{Body: "hello"},
	})
	if err != nil {
		t.Fatalf("expected outcomes, got error: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected one outcome per request entry, got %d", len(outcomes))
	}
	if !outcomes[0].Success {
		t.Fatalf("expected publish to succeed for the named platform, got %+v", outcomes[0])
	}
	if outcomes[1].Success || outcomes[1].Retryable || outcomes[1].Error == "" {
		t.Fatalf("expected terminal failure for the blank entry, got %+v", outcomes[1])
	}
}

func TestPublishRejectsInvalidRequest(t *testing.T) {
	service, _ := newTestService(t, Config{})

	if _, err := service.Publish(context.Background(), PublishRequest{
		Platforms: []string{"x"},
		Content:   PublishContent{Body: "hello"},
	}); err == nil {
		t.Fatalf("expected error for missing account id")
	}
}
