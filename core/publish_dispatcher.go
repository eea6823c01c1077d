package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Publish fans the content out to every requested platform and always
// returns exactly one outcome per request entry, in the order requested.
// Duplicate entries share a single platform call and receive copies of its
// outcome, so callers can correlate results positionally. One platform
// failing never blocks or aborts the others, and the dispatcher performs no
// retries itself; each failure is classified so the caller can decide what
// to re-attempt.
func (s *Service) Publish(ctx context.Context, req PublishRequest) (outcomes []PublishOutcome, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"account_id": req.AccountID,
		"platforms":  strings.Join(req.Platforms, ","),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "publish", err, fields)
	}()

	if err = req.Validate(); err != nil {
		err = s.mapError(err)
		return nil, err
	}

	targets := dedupePlatforms(req.Platforms)
	maxConcurrent := s.config.Publish.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultConfig().Publish.MaxConcurrent
	}
	semaphore := make(chan struct{}, maxConcurrent)

	results := make([]PublishOutcome, len(targets))
	var wg sync.WaitGroup
	for index, target := range targets {
		wg.Add(1)
		go func(index int, target string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			results[index] = s.publishToPlatform(ctx, req.AccountID, target, req.ContentFor(target))
		}(index, target)
	}
	wg.Wait()

	byPlatform := make(map[string]PublishOutcome, len(targets))
	for index, target := range targets {
		byPlatform[target] = results[index]
	}

	outcomes = make([]PublishOutcome, len(req.Platforms))
	for index, requested := range req.Platforms {
		id := strings.TrimSpace(strings.ToLower(requested))
		if id == "" {
			outcomes[index] = PublishOutcome{Error: "platform is required"}
			continue
		}
		outcomes[index] = byPlatform[id]
	}

	failures := 0
	for _, outcome := range outcomes {
		if !outcome.Success {
			failures++
		}
	}
	fields["failures"] = failures
	return outcomes, nil
}

func (s *Service) publishToPlatform(
	ctx context.Context,
	accountID string,
	platformID string,
	content PublishContent,
) PublishOutcome {
	outcome := PublishOutcome{Platform: platformID}

	platform, ok := s.registry.Get(platformID)
	if !ok {
		outcome.Error = fmt.Sprintf("platform not registered: %s", platformID)
		return outcome
	}

	conn, found, err := s.connectionStore.FindActive(ctx, accountID, platformID)
	if err != nil {
		outcome.Error = err.Error()
		outcome.Retryable = true
		return outcome
	}
	if !found {
		// Terminal without touching the network: only reconnecting fixes it.
		outcome.Error = fmt.Sprintf("no active connection for %s", platformID)
		return outcome
	}
	outcome.ConnectionID = conn.ID

	credential, err := s.decryptCredential(ctx, conn.EncryptedCredential)
	if err != nil {
		_ = s.connectionStore.UpdateStatus(
			ctx, conn.ID, ConnectionStatusErrored, "corrupt credential: "+err.Error(),
		)
		outcome.Error = fmt.Sprintf("corrupt credential for connection %s", conn.ID)
		return outcome
	}

	postID, err := platform.Publish(ctx, credential.AccessToken, content)
	if err != nil {
		outcome.Error = err.Error()
		outcome.Retryable = IsRetryable(err)
		var platformErr *PlatformError
		if errors.As(err, &platformErr) && platformErr.StatusCode == 401 {
			_ = s.connectionStore.UpdateStatus(
				ctx, conn.ID, ConnectionStatusPendingReauth, "publish rejected: credential no longer valid",
			)
		}
		return outcome
	}

	outcome.Success = true
	outcome.PostID = postID
	return outcome
}

func dedupePlatforms(platforms []string) []string {
	seen := make(map[string]struct{}, len(platforms))
	out := make([]string, 0, len(platforms))
	for _, platform := range platforms {
		id := strings.TrimSpace(strings.ToLower(platform))
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
