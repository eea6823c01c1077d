package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/singleflight"
)

type Service struct {
	config           Config
	logger           Logger
	loggerProvider   LoggerProvider
	metricsRecorder  MetricsRecorder
	errorFactory     ErrorFactory
	errorMapper      ErrorMapper
	secretProvider   SecretProvider
	configProvider   ConfigProvider
	optionsResolver  OptionsResolver
	stateTokenCodec  *StateTokenCodec
	connectionLocker ConnectionLocker
	registry         Registry
	connectionStore  ConnectionStore
	credentialCodec  CredentialCodec
	jobEnqueuer      JobEnqueuer

	refreshGroup singleflight.Group
}

type ServiceDependencies struct {
	Logger           Logger
	LoggerProvider   LoggerProvider
	MetricsRecorder  MetricsRecorder
	ErrorFactory     ErrorFactory
	ErrorMapper      ErrorMapper
	SecretProvider   SecretProvider
	ConfigProvider   ConfigProvider
	OptionsResolver  OptionsResolver
	StateTokenCodec  *StateTokenCodec
	ConnectionLocker ConnectionLocker
	Registry         Registry
	ConnectionStore  ConnectionStore
	CredentialCodec  CredentialCodec
	JobEnqueuer      JobEnqueuer
}

type ConnectRequest struct {
	AccountID   string
	Platform    string
	RedirectURI string
	Scopes      []string
}

type BeginAuthResponse struct {
	AuthURL string
	State   string
}

type CallbackRequest struct {
	Platform    string
	Code        string
	State       string
	RedirectURI string
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("social", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("social"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewPlatformRegistry()
	}
	if builder.connectionLocker == nil {
		builder.connectionLocker = NewMemoryConnectionLocker()
	}
	if builder.connectionStore == nil {
		builder.connectionStore = NewMemoryConnectionStore()
	}
	if builder.credentialCodec == nil {
		builder.credentialCodec = JSONCredentialCodec{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.secretProvider == nil {
		return nil, mapBuildError(
			builder.errorMapper,
			fmt.Errorf("core: secret provider is required"),
		)
	}
	if builder.stateTokenCodec == nil {
		return nil, mapBuildError(
			builder.errorMapper,
			fmt.Errorf("core: state token codec is required"),
		)
	}

	return &Service{
		config:           finalConfig,
		logger:           logger,
		loggerProvider:   provider,
		metricsRecorder:  builder.metricsRecorder,
		errorFactory:     builder.errorFactory,
		errorMapper:      builder.errorMapper,
		secretProvider:   builder.secretProvider,
		configProvider:   builder.configProvider,
		optionsResolver:  builder.optionsResolver,
		stateTokenCodec:  builder.stateTokenCodec,
		connectionLocker: builder.connectionLocker,
		registry:         builder.registry,
		connectionStore:  builder.connectionStore,
		credentialCodec:  builder.credentialCodec,
		jobEnqueuer:      builder.jobEnqueuer,
	}, nil
}

func Setup(cfg Config, options ...Option) (*Service, error) {
	return NewService(cfg, options...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:           s.logger,
		LoggerProvider:   s.loggerProvider,
		MetricsRecorder:  s.metricsRecorder,
		ErrorFactory:     s.errorFactory,
		ErrorMapper:      s.errorMapper,
		SecretProvider:   s.secretProvider,
		ConfigProvider:   s.configProvider,
		OptionsResolver:  s.optionsResolver,
		StateTokenCodec:  s.stateTokenCodec,
		ConnectionLocker: s.connectionLocker,
		Registry:         s.registry,
		ConnectionStore:  s.connectionStore,
		CredentialCodec:  s.credentialCodec,
		JobEnqueuer:      s.jobEnqueuer,
	}
}

// Connect starts the authorization handshake. The returned URL carries a
// freshly issued state token; nothing is persisted until the callback
// completes, so abandoned handshakes leave no residue.
func (s *Service) Connect(ctx context.Context, req ConnectRequest) (response BeginAuthResponse, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"platform":   req.Platform,
		"account_id": req.AccountID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "connect", err, fields)
	}()

	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		err = s.mapError(fmt.Errorf("core: account id is required"))
		return BeginAuthResponse{}, err
	}
	platform, err := s.resolvePlatform(req.Platform)
	if err != nil {
		return BeginAuthResponse{}, err
	}

	state, err := s.stateTokenCodec.Issue(accountID, platform.ID())
	if err != nil {
		err = s.mapError(err)
		return BeginAuthResponse{}, err
	}
	authURL, err := platform.BuildAuthURL(ctx, AuthURLRequest{
		RedirectURI: req.RedirectURI,
		Scopes:      append([]string(nil), req.Scopes...),
		State:       state,
	})
	if err != nil {
		err = s.mapError(err)
		return BeginAuthResponse{}, err
	}
	return BeginAuthResponse{AuthURL: authURL, State: state}, nil
}

// CompleteCallback finishes the handshake: it validates the state token,
// exchanges the code, resolves the external identity, and persists a new
// active connection. A prior active connection for the same pair is
// superseded atomically by the store, so completing twice still leaves
// exactly one active connection.
func (s *Service) CompleteCallback(ctx context.Context, req CallbackRequest) (conn Connection, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"platform": req.Platform,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "complete_callback", err, fields)
	}()

	platform, err := s.resolvePlatform(req.Platform)
	if err != nil {
		return Connection{}, err
	}
	if strings.TrimSpace(req.Code) == "" {
		err = s.mapError(fmt.Errorf("core: authorization code is required"))
		return Connection{}, err
	}

	payload, validateErr := s.stateTokenCodec.Validate(req.State, platform.ID())
	if validateErr != nil {
		err = s.mapError(validateErr)
		return Connection{}, err
	}
	fields["account_id"] = payload.AccountID

	unlock := func() {}
	if s.connectionLocker != nil {
		handle, lockErr := s.connectionLocker.Acquire(
			ctx, connectionLockKey(payload.AccountID, platform.ID()), defaultLockTTL,
		)
		if lockErr != nil {
			err = s.mapError(lockErr)
			return Connection{}, err
		}
		unlock = func() { _ = handle.Unlock(ctx) }
	}
	defer unlock()

	credential, exchangeErr := platform.ExchangeCode(ctx, req.Code, req.RedirectURI)
	if exchangeErr != nil {
		err = s.mapError(exchangeErr)
		return Connection{}, err
	}
	if err = credential.Validate(); err != nil {
		err = s.mapError(err)
		return Connection{}, err
	}

	identity, identityErr := platform.FetchIdentity(ctx, credential.AccessToken)
	if identityErr != nil {
		err = s.mapError(identityErr)
		return Connection{}, err
	}

	encrypted, encryptErr := s.encryptCredential(ctx, credential)
	if encryptErr != nil {
		err = s.mapError(encryptErr)
		return Connection{}, err
	}

	conn, createErr := s.connectionStore.Create(ctx, CreateConnectionInput{
		AccountID:           payload.AccountID,
		Platform:            platform.ID(),
		ExternalID:          identity.ExternalID,
		DisplayName:         identity.DisplayName,
		EncryptedCredential: encrypted,
		ExpiresAt:           credential.ExpiresAt,
		Refreshable:         credential.Refreshable(),
		Status:              ConnectionStatusActive,
	})
	if createErr != nil {
		err = s.mapError(createErr)
		return Connection{}, err
	}
	fields["connection_id"] = conn.ID
	return conn, nil
}

// Disconnect marks the connection disconnected. The encrypted credential
// stays in place for audit; the connection never becomes active again.
func (s *Service) Disconnect(ctx context.Context, connectionID string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"connection_id": connectionID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "disconnect", err, fields)
	}()

	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		err = s.mapError(fmt.Errorf("core: connection id is required"))
		return err
	}
	if updateErr := s.connectionStore.UpdateStatus(
		ctx, connectionID, ConnectionStatusDisconnected, "disconnected by account",
	); updateErr != nil {
		err = s.mapError(updateErr)
		return err
	}
	return nil
}

// RefreshConnection renews the credential of one connection. The old
// credential stays in place until the new one is sealed and written, so a
// mid-refresh crash leaves the previous credential usable. Failures count
// toward the configured threshold; crossing it, or a terminal platform
// answer, parks the connection in pending_reauth.
//
// Concurrent refreshes of the same connection collapse onto one flight: a
// scheduler scan and a manual caller share a single platform call, and the
// loser waits for and reuses the winner's result.
func (s *Service) RefreshConnection(ctx context.Context, connectionID string) (conn Connection, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"connection_id": connectionID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "refresh", err, fields)
	}()

	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		err = s.mapError(fmt.Errorf("core: connection id is required"))
		return Connection{}, err
	}

	value, refreshErr, _ := s.refreshGroup.Do(connectionID, func() (any, error) {
		return s.performRefresh(ctx, connectionID)
	})
	if refreshErr != nil {
		err = refreshErr
		return Connection{}, err
	}
	conn = value.(Connection)
	fields["platform"] = conn.Platform
	fields["account_id"] = conn.AccountID
	return conn, nil
}

func (s *Service) performRefresh(ctx context.Context, connectionID string) (Connection, error) {
	unlock := func() {}
	if s.connectionLocker != nil {
		handle, lockErr := s.connectionLocker.Acquire(ctx, "refresh:"+connectionID, defaultLockTTL)
		if lockErr != nil {
			return Connection{}, s.mapError(lockErr)
		}
		unlock = func() { _ = handle.Unlock(ctx) }
	}
	defer unlock()

	conn, getErr := s.connectionStore.Get(ctx, connectionID)
	if getErr != nil {
		return Connection{}, s.mapError(getErr)
	}
	if !conn.IsActive() {
		return Connection{}, s.mapError(fmt.Errorf("core: connection %s is not active", conn.ID))
	}

	platform, platformErr := s.resolvePlatform(conn.Platform)
	if platformErr != nil {
		return Connection{}, platformErr
	}

	credential, decryptErr := s.decryptCredential(ctx, conn.EncryptedCredential)
	if decryptErr != nil {
		_ = s.connectionStore.UpdateStatus(
			ctx, conn.ID, ConnectionStatusErrored, "corrupt credential: "+decryptErr.Error(),
		)
		return Connection{}, s.mapError(
			fmt.Errorf("core: corrupt credential for connection %s: %w", conn.ID, decryptErr),
		)
	}

	if !conn.Refreshable || !credential.Refreshable() {
		_ = s.connectionStore.UpdateStatus(
			ctx, conn.ID, ConnectionStatusPendingReauth, "no refresh capability",
		)
		return Connection{}, s.mapError(ErrRefreshNotSupported)
	}

	renewed, refreshErr := platform.Refresh(ctx, credential.RefreshToken)
	if refreshErr != nil {
		return Connection{}, s.recordRefreshFailure(ctx, conn, refreshErr)
	}
	if renewed.RefreshToken == "" {
		renewed.RefreshToken = credential.RefreshToken
	}
	if validateErr := renewed.Validate(); validateErr != nil {
		return Connection{}, s.recordRefreshFailure(ctx, conn, validateErr)
	}

	encrypted, encryptErr := s.encryptCredential(ctx, renewed)
	if encryptErr != nil {
		return Connection{}, s.mapError(encryptErr)
	}

	conn.EncryptedCredential = encrypted
	conn.ExpiresAt = renewed.ExpiresAt
	conn.Refreshable = renewed.Refreshable()
	conn.RefreshFailures = 0
	conn.LastError = ""
	updated, updateErr := s.connectionStore.Update(ctx, conn)
	if updateErr != nil {
		return Connection{}, s.mapError(updateErr)
	}
	return updated, nil
}

func (s *Service) recordRefreshFailure(ctx context.Context, conn Connection, source error) error {
	terminal := isTerminalRefreshError(source)
	conn.RefreshFailures++
	conn.LastError = strings.TrimSpace(source.Error())

	maxFailures := s.config.Refresh.MaxFailures
	if maxFailures <= 0 {
		maxFailures = DefaultConfig().Refresh.MaxFailures
	}
	if terminal || conn.RefreshFailures >= maxFailures {
		if transitionErr := conn.TransitionTo(
			ConnectionStatusPendingReauth, conn.LastError, time.Now().UTC(),
		); transitionErr != nil {
			return s.mapError(transitionErr)
		}
	}
	if _, updateErr := s.connectionStore.Update(ctx, conn); updateErr != nil {
		return s.mapError(updateErr)
	}
	return s.mapError(source)
}

// isTerminalRefreshError reports whether retrying the refresh later can
// possibly succeed. A revoked or invalid grant cannot; only the account
// going through authorization again can fix it.
func isTerminalRefreshError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRefreshNotSupported) {
		return true
	}
	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		return !platformErr.Retryable
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz, goerrors.CategoryValidation:
			return true
		}
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "invalid refresh token") ||
		strings.Contains(msg, "revoked")
}

func (s *Service) resolvePlatform(platformID string) (Platform, error) {
	if s == nil || s.registry == nil {
		return nil, fmt.Errorf("core: platform registry is not configured")
	}
	id := strings.TrimSpace(strings.ToLower(platformID))
	if id == "" {
		return nil, s.mapError(fmt.Errorf("core: platform is required"))
	}
	platform, ok := s.registry.Get(id)
	if !ok {
		return nil, s.mapError(fmt.Errorf("core: platform not registered: %s", id))
	}
	return platform, nil
}

func (s *Service) encryptCredential(ctx context.Context, credential Credential) ([]byte, error) {
	payload, err := s.credentialCodec.Encode(credential)
	if err != nil {
		return nil, err
	}
	return s.secretProvider.Encrypt(ctx, payload)
}

func (s *Service) decryptCredential(ctx context.Context, ciphertext []byte) (Credential, error) {
	payload, err := s.secretProvider.Decrypt(ctx, ciphertext)
	if err != nil {
		return Credential{}, err
	}
	return s.credentialCodec.Decode(payload)
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func connectionLockKey(accountID string, platform string) string {
	return strings.TrimSpace(accountID) + ":" + strings.TrimSpace(strings.ToLower(platform))
}
