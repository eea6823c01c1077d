package gojob

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-social/core"
)

// Refresher is the slice of the service the job handler needs.
type Refresher interface {
	RefreshConnection(ctx context.Context, connectionID string) (core.Connection, error)
}

// RefreshJobHandler consumes social.refresh deliveries. Retryable failures
// nack with requeue; terminal ones ack so the queue does not spin on a
// connection that only re-authorization can fix.
type RefreshJobHandler struct {
	refresher Refresher
	policy    RetryPolicy
}

func NewRefreshJobHandler(refresher Refresher, policy RetryPolicy) *RefreshJobHandler {
	return &RefreshJobHandler{refresher: refresher, policy: policy}
}

func (h *RefreshJobHandler) Handle(ctx context.Context, delivery core.JobDelivery, attempt int) error {
	if h == nil || h.refresher == nil {
		return fmt.Errorf("gojob: refresher is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	if msg == nil || msg.JobID != JobIDRefresh {
		return delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     "unexpected job id",
		})
	}
	connectionID := strings.TrimSpace(fmt.Sprint(msg.Parameters["connection_id"]))
	if connectionID == "" || connectionID == "<nil>" {
		return delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     "missing connection_id parameter",
		})
	}

	if _, err := h.refresher.RefreshConnection(ctx, connectionID); err != nil {
		if core.IsRetryable(err) {
			nackDelivery, ok := delivery.(*DeliveryAdapter)
			if ok {
				return nackDelivery.NackForAttempt(ctx, core.JobNackOptions{
					Requeue: true,
					Reason:  err.Error(),
				}, attempt)
			}
			return delivery.Nack(ctx, core.JobNackOptions{
				Requeue: true,
				Reason:  err.Error(),
			})
		}
		// Terminal: the service already parked the connection.
		return delivery.Ack(ctx)
	}
	return delivery.Ack(ctx)
}
