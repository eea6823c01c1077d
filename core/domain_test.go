package core

import (
	"errors"
	"testing"
	"time"
)

func TestConnectionTransitions(t *testing.T) {
	now := time.Now().UTC()

	cases := []struct {
		name    string
		from    ConnectionStatus
		to      ConnectionStatus
		allowed bool
	}{
		{"active to disconnected", ConnectionStatusActive, ConnectionStatusDisconnected, true},
		{"active to replaced", ConnectionStatusActive, ConnectionStatusReplaced, true},
		{"active to pending_reauth", ConnectionStatusActive, ConnectionStatusPendingReauth, true},
		{"pending_reauth to active", ConnectionStatusPendingReauth, ConnectionStatusActive, true},
		{"errored to active", ConnectionStatusErrored, ConnectionStatusActive, true},
		{"disconnected is terminal", ConnectionStatusDisconnected, ConnectionStatusActive, false},
		{"replaced is terminal", ConnectionStatusReplaced, ConnectionStatusActive, false},
	}

	for _, tc := range cases {
		conn := Connection{Status: tc.from}
		err := conn.TransitionTo(tc.to, "test", now)
		if tc.allowed && err != nil {
			t.Fatalf("%s: expected transition, got %v", tc.name, err)
		}
		if !tc.allowed {
			if !errors.Is(err, ErrInvalidConnectionStatusTransition) {
				t.Fatalf("%s: expected ErrInvalidConnectionStatusTransition, got %v", tc.name, err)
			}
			if conn.Status != tc.from {
				t.Fatalf("%s: status mutated on rejected transition", tc.name)
			}
		}
	}
}

func TestConnectionTransitionToActiveClearsFailureState(t *testing.T) {
	conn := Connection{
		Status:          ConnectionStatusPendingReauth,
		RefreshFailures: 3,
		LastError:       "invalid_grant",
	}
	if err := conn.TransitionTo(ConnectionStatusActive, "", time.Now().UTC()); err != nil {
		t.Fatalf("expected transition, got %v", err)
	}
	if conn.RefreshFailures != 0 {
		t.Fatalf("expected failures reset, got %d", conn.RefreshFailures)
	}
	if conn.LastError != "" {
		t.Fatalf("expected last error cleared, got %q", conn.LastError)
	}
}

func TestCredentialRefreshable(t *testing.T) {
	if (Credential{AccessToken: "a"}).Refreshable() {
		t.Fatalf("credential without refresh token must not be refreshable")
	}
	if !(Credential{AccessToken: "a", RefreshToken: "r"}).Refreshable() {
		t.Fatalf("credential with refresh token must be refreshable")
	}
}

func TestPublishRequestContentFor(t *testing.T) {
	req := PublishRequest{
		AccountID: "acct-1",
		Platforms: []string{"facebook", "x"},
		Content:   PublishContent{Body: "default body"},
		Overrides: map[string]PublishContent{
			"x": {Body: "short body"},
		},
	}
	if got := req.ContentFor("facebook").Body; got != "default body" {
		t.Fatalf("expected default content, got %q", got)
	}
	if got := req.ContentFor("x").Body; got != "short body" {
		t.Fatalf("expected override content, got %q", got)
	}
}

func TestPublishRequestValidate(t *testing.T) {
	if err := (PublishRequest{Platforms: []string{"x"}}).Validate(); err == nil {
		t.Fatalf("expected error for missing account id")
	}
	if err := (PublishRequest{AccountID: "acct-1"}).Validate(); err == nil {
		t.Fatalf("expected error for missing platforms")
	}
}
