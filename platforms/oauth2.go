package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-social/core"
)

const defaultTokenRequestTimeout = 30 * time.Second

type EndpointConfig struct {
	Platform            string
	AuthURL             string
	TokenURL            string
	ClientID            string
	ClientSecret        string
	ClientSecretInBody  bool
	DefaultScopes       []string
	TokenTTL            time.Duration
	TokenRequestTimeout time.Duration
	Now                 func() time.Time
	HTTPClient          HTTPDoer
}

// Endpoint implements the authorization-code and refresh-token grants shared
// by every adapter. Platform quirks stay in the adapters; this type only
// knows the OAuth2 wire protocol.
type Endpoint struct {
	cfg        EndpointConfig
	httpClient HTTPDoer
}

type TokenPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	ExpiresIn        int64
	ErrorCode        string
	ErrorDescription string
}

func NewEndpoint(cfg EndpointConfig) (*Endpoint, error) {
	cfg.Platform = strings.TrimSpace(strings.ToLower(cfg.Platform))
	if cfg.Platform == "" {
		return nil, fmt.Errorf("platforms: platform id is required")
	}
	if strings.TrimSpace(cfg.AuthURL) == "" {
		return nil, fmt.Errorf("platforms: auth url is required for %q", cfg.Platform)
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, fmt.Errorf("platforms: token url is required for %q", cfg.Platform)
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("platforms: client id is required for %q", cfg.Platform)
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("platforms: client secret is required for %q", cfg.Platform)
	}

	cfg.AuthURL = strings.TrimSpace(cfg.AuthURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.TokenRequestTimeout <= 0 {
		cfg.TokenRequestTimeout = defaultTokenRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.TokenRequestTimeout}
	}
	return &Endpoint{cfg: cfg, httpClient: httpClient}, nil
}

func (e *Endpoint) Platform() string {
	if e == nil {
		return ""
	}
	return e.cfg.Platform
}

func (e *Endpoint) HTTPClient() HTTPDoer {
	if e == nil {
		return nil
	}
	return e.httpClient
}

func (e *Endpoint) Now() time.Time {
	if e == nil || e.cfg.Now == nil {
		return time.Now().UTC()
	}
	return e.cfg.Now().UTC()
}

// AuthCodeURL builds the user-facing authorization URL.
func (e *Endpoint) AuthCodeURL(req core.AuthURLRequest, extra url.Values) (string, error) {
	if e == nil {
		return "", fmt.Errorf("platforms: endpoint is nil")
	}
	if strings.TrimSpace(req.State) == "" {
		return "", fmt.Errorf("platforms: state is required for %q", e.cfg.Platform)
	}
	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = e.cfg.DefaultScopes
	}

	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", e.cfg.ClientID)
	if redirectURI := strings.TrimSpace(req.RedirectURI); redirectURI != "" {
		values.Set("redirect_uri", redirectURI)
	}
	if len(scopes) > 0 {
		values.Set("scope", strings.Join(scopes, " "))
	}
	values.Set("state", req.State)
	for key, items := range extra {
		for _, item := range items {
			values.Set(key, item)
		}
	}

	authURL := e.cfg.AuthURL
	if strings.Contains(authURL, "?") {
		return authURL + "&" + values.Encode(), nil
	}
	return authURL + "?" + values.Encode(), nil
}

// ExchangeCode trades the authorization code for a credential.
func (e *Endpoint) ExchangeCode(ctx context.Context, code string, redirectURI string) (core.Credential, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return core.Credential{}, fmt.Errorf("platforms: authorization code is required")
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if redirectURI = strings.TrimSpace(redirectURI); redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}
	payload, err := e.FetchToken(ctx, "exchange_code", form)
	if err != nil {
		return core.Credential{}, err
	}
	return e.payloadToCredential(payload), nil
}

// RefreshToken performs the standard refresh-token grant.
func (e *Endpoint) RefreshToken(ctx context.Context, refreshToken string) (core.Credential, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.Credential{}, fmt.Errorf("platforms: refresh token is required")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	payload, err := e.FetchToken(ctx, "refresh", form)
	if err != nil {
		return core.Credential{}, err
	}
	credential := e.payloadToCredential(payload)
	if credential.RefreshToken == "" {
		credential.RefreshToken = refreshToken
	}
	return credential, nil
}

// FetchToken posts a grant to the token endpoint and decodes the answer.
// Adapters with non-standard grants, facebook's token exchange among them,
// call this directly with their own form.
func (e *Endpoint) FetchToken(ctx context.Context, op string, form url.Values) (TokenPayload, error) {
	if e == nil {
		return TokenPayload{}, fmt.Errorf("platforms: endpoint is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	values := url.Values{}
	for key, items := range form {
		for _, item := range items {
			values.Add(key, strings.TrimSpace(item))
		}
	}
	values.Set("client_id", e.cfg.ClientID)
	if e.cfg.ClientSecretInBody {
		values.Set("client_secret", e.cfg.ClientSecret)
	}

	requestCtx, cancel := context.WithTimeout(ctx, e.cfg.TokenRequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		e.cfg.TokenURL,
		strings.NewReader(values.Encode()),
	)
	if err != nil {
		return TokenPayload{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if !e.cfg.ClientSecretInBody {
		httpReq.SetBasicAuth(e.cfg.ClientID, e.cfg.ClientSecret)
	}

	response, err := e.httpClient.Do(httpReq)
	if err != nil {
		return TokenPayload{}, TransportError(e.cfg.Platform, op, err)
	}
	defer response.Body.Close()

	body, readErr := ReadBody(response)
	if readErr != nil {
		return TokenPayload{}, TransportError(e.cfg.Platform, op, readErr)
	}

	payload, parseErr := parseTokenPayload(body, response.Header.Get("Content-Type"))
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		message := describeTokenError(payload)
		if message == "unknown error" {
			message = strings.TrimSpace(string(body))
		}
		return TokenPayload{}, NewError(
			e.cfg.Platform, op,
			fmt.Sprintf("token endpoint error (%d): %s", response.StatusCode, message),
			response.StatusCode,
			RetryableStatus(response.StatusCode),
			nil,
		)
	}
	if parseErr != nil {
		return TokenPayload{}, NewError(
			e.cfg.Platform, op, "undecodable token response", response.StatusCode, false, parseErr,
		)
	}
	if payload.ErrorCode != "" {
		return TokenPayload{}, NewError(
			e.cfg.Platform, op,
			"token endpoint error: "+describeTokenError(payload),
			response.StatusCode,
			false,
			nil,
		)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return TokenPayload{}, NewError(
			e.cfg.Platform, op, "token response missing access token", response.StatusCode, false, nil,
		)
	}
	return payload, nil
}

func (e *Endpoint) payloadToCredential(payload TokenPayload) core.Credential {
	return core.Credential{
		AccessToken:  strings.TrimSpace(payload.AccessToken),
		RefreshToken: strings.TrimSpace(payload.RefreshToken),
		ExpiresAt:    e.resolveExpiresAt(payload.ExpiresIn),
	}
}

func (e *Endpoint) resolveExpiresAt(expiresIn int64) *time.Time {
	ttl := e.cfg.TokenTTL
	if expiresIn > 0 {
		ttl = time.Duration(expiresIn) * time.Second
	}
	if ttl <= 0 {
		return nil
	}
	expiresAt := e.Now().Add(ttl)
	return &expiresAt
}

func describeTokenError(payload TokenPayload) string {
	if strings.TrimSpace(payload.ErrorDescription) != "" {
		return strings.TrimSpace(payload.ErrorDescription)
	}
	if strings.TrimSpace(payload.ErrorCode) != "" {
		return strings.TrimSpace(payload.ErrorCode)
	}
	return "unknown error"
}

func parseTokenPayload(body []byte, contentType string) (TokenPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		return parseTokenPayloadJSON(body)
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (TokenPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return TokenPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return TokenPayload{}, err
	}
	return TokenPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		TokenType:        readAnyString(decoded["token_type"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		ExpiresIn:        readAnyInt64(decoded["expires_in"]),
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
	}, nil
}

func parseTokenPayloadForm(body []byte) (TokenPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return TokenPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return TokenPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	return TokenPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		ExpiresIn:        expiresIn,
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		if parsed, err := typed.Int64(); err == nil {
			return parsed
		}
		if parsed, err := typed.Float64(); err == nil {
			return int64(parsed)
		}
	case string:
		if parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
