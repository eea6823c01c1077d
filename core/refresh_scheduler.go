package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const refreshJobID = "social.refresh"

// RefreshScheduler periodically scans for connections whose credentials are
// inside the renewal lead window and refreshes them before they expire.
// Overlapping scans and manual RefreshConnection calls collapse onto a
// single in-flight refresh per connection through the service; across
// processes the service's connection locker provides the same guarantee.
type RefreshScheduler struct {
	service    *Service
	interval   time.Duration
	leadWindow time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRefreshScheduler(service *Service) (*RefreshScheduler, error) {
	if service == nil {
		return nil, fmt.Errorf("core: service is required")
	}
	cfg := service.Config().Refresh
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultConfig().Refresh.Interval
	}
	leadWindow := cfg.LeadWindow
	if leadWindow <= 0 {
		leadWindow = DefaultConfig().Refresh.LeadWindow
	}
	return &RefreshScheduler{
		service:    service,
		interval:   interval,
		leadWindow: leadWindow,
	}, nil
}

// Start launches the scan loop. Calling Start on a running scheduler is a
// no-op. The loop stops when Stop is called or the context is canceled.
func (r *RefreshScheduler) Start(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("core: refresh scheduler is not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				r.runScan(loopCtx)
			}
		}
	}(r.done)
	return nil
}

// Stop halts the loop and waits for an in-progress scan to finish. Safe to
// call more than once.
func (r *RefreshScheduler) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// ScanOnce performs a single scan pass. The loop calls this on every tick;
// operators can call it directly to force an immediate pass.
func (r *RefreshScheduler) ScanOnce(ctx context.Context) error {
	if r == nil || r.service == nil {
		return fmt.Errorf("core: refresh scheduler is not configured")
	}
	return r.runScan(ctx)
}

func (r *RefreshScheduler) runScan(ctx context.Context) error {
	startedAt := time.Now().UTC()
	cutoff := startedAt.Add(r.leadWindow)

	candidates, err := r.service.connectionStore.ListNearExpiry(ctx, cutoff)
	if err != nil {
		r.service.logError(ctx, "refresh scan failed", map[string]any{
			"error": err.Error(),
		})
		return r.service.mapError(err)
	}

	refreshed := 0
	parked := 0
	failed := 0
	for _, conn := range candidates {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !conn.Refreshable {
			// Nothing to trade for a new credential; no network call is
			// useful here, the account has to authorize again.
			if parkErr := r.service.connectionStore.UpdateStatus(
				ctx, conn.ID, ConnectionStatusPendingReauth, "credential expiring without refresh capability",
			); parkErr != nil {
				failed++
				continue
			}
			parked++
			continue
		}

		if refreshErr := r.refreshOne(ctx, conn.ID); refreshErr != nil {
			failed++
			continue
		}
		refreshed++
	}

	scanStatus := "success"
	if failed > 0 {
		scanStatus = "failure"
	}
	r.service.recordCounter(ctx, "social.refresh_scan.total", 1, map[string]string{"status": scanStatus})
	r.service.recordHistogram(
		ctx, "social.refresh_scan.duration_ms",
		float64(time.Since(startedAt).Milliseconds()), map[string]string{},
	)
	r.service.logInfo(ctx, "refresh scan completed", map[string]any{
		"candidates": len(candidates),
		"refreshed":  refreshed,
		"parked":     parked,
		"failed":     failed,
	})
	return nil
}

func (r *RefreshScheduler) refreshOne(ctx context.Context, connectionID string) error {
	if r.service.jobEnqueuer != nil {
		return r.service.jobEnqueuer.Enqueue(ctx, &JobExecutionMessage{
			JobID: refreshJobID,
			Parameters: map[string]any{
				"connection_id": connectionID,
			},
			IdempotencyKey: refreshJobID + ":" + connectionID,
			DedupPolicy:    "drop",
		})
	}

	_, err := r.service.RefreshConnection(ctx, connectionID)
	return err
}
