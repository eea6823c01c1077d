package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type AuthURLRequest struct {
	RedirectURI string
	Scopes      []string
	State       string
}

// Platform is the uniform capability set implemented once per social
// platform. Implementations own the mapping from their platform's error
// shapes to the shared retryable/non-retryable taxonomy; callers never
// inspect platform-specific failures.
type Platform interface {
	ID() string
	BuildAuthURL(ctx context.Context, req AuthURLRequest) (string, error)
	ExchangeCode(ctx context.Context, code string, redirectURI string) (Credential, error)
	FetchIdentity(ctx context.Context, accessToken string) (Identity, error)

	// Refresh trades the refresh secret for a new credential. Platforms
	// without refresh capability return ErrRefreshNotSupported so the
	// caller can route the connection to re-authorization.
	Refresh(ctx context.Context, refreshToken string) (Credential, error)

	Publish(ctx context.Context, accessToken string, content PublishContent) (string, error)
}

type Registry interface {
	Register(platform Platform) error
	Get(platformID string) (Platform, bool)
	List() []Platform
}

type CreateConnectionInput struct {
	AccountID           string
	Platform            string
	ExternalID          string
	DisplayName         string
	EncryptedCredential []byte
	ExpiresAt           *time.Time
	Refreshable         bool
	Status              ConnectionStatus
}

// ConnectionStore is the sole shared mutable collaborator. Update applies
// compare-and-swap on Connection.Revision and fails with ErrRevisionConflict
// when the stored revision moved, so per-connection mutations serialize at
// the storage layer rather than through a global lock. Create atomically
// supersedes any existing active connection for the same (account, platform)
// pair, keeping the at-most-one-active invariant a storage guarantee.
type ConnectionStore interface {
	Create(ctx context.Context, in CreateConnectionInput) (Connection, error)
	Get(ctx context.Context, id string) (Connection, error)
	FindActive(ctx context.Context, accountID string, platform string) (Connection, bool, error)
	Update(ctx context.Context, conn Connection) (Connection, error)
	UpdateStatus(ctx context.Context, id string, status ConnectionStatus, reason string) error
	ListNearExpiry(ctx context.Context, before time.Time) ([]Connection, error)
}

// SecretProvider encrypts and decrypts credential payloads. Two encryptions
// of the same plaintext differ (fresh nonce); any decode or authentication
// failure on decrypt is terminal for the owning connection.
type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// ConnectionLocker leases exclusive refresh/exchange rights for one
// connection key. Backed by storage in multi-process deployments so
// single-flight is not an in-process-only guarantee.
type ConnectionLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}
