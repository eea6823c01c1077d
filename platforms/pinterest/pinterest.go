// Package pinterest creates pins through the Pinterest v5 API.
package pinterest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-social/core"
	"github.com/goliatone/go-social/platforms"
)

const (
	PlatformID = "pinterest"

	defaultAuthURL  = "https://www.pinterest.com/oauth/"
	defaultTokenURL = "https://api.pinterest.com/v5/oauth/token"
	defaultAPIURL   = "https://api.pinterest.com/v5"

	// A pin carries exactly one image; extras are dropped silently.
	maxImages = 1

	maxDescriptionLength = 500
)

type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	APIURL       string
	// DefaultBoardID receives pins when the caller supplies no board.
	DefaultBoardID string
	Scopes         []string
	HTTPClient     platforms.HTTPDoer
	Now            func() time.Time
}

type Adapter struct {
	endpoint *platforms.Endpoint
	apiURL   string
	boardID  string
}

func New(cfg Config) (*Adapter, error) {
	authURL := strings.TrimSpace(cfg.AuthURL)
	if authURL == "" {
		authURL = defaultAuthURL
	}
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	apiURL := strings.TrimSpace(cfg.APIURL)
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	boardID := strings.TrimSpace(cfg.DefaultBoardID)
	if boardID == "" {
		return nil, fmt.Errorf("pinterest: default board id is required")
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"boards:read", "pins:read", "pins:write", "user_accounts:read"}
	}

	endpoint, err := platforms.NewEndpoint(platforms.EndpointConfig{
		Platform:      PlatformID,
		AuthURL:       authURL,
		TokenURL:      tokenURL,
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		DefaultScopes: scopes,
		Now:           cfg.Now,
		HTTPClient:    cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{
		endpoint: endpoint,
		apiURL:   strings.TrimRight(apiURL, "/"),
		boardID:  boardID,
	}, nil
}

func (a *Adapter) ID() string {
	return PlatformID
}

func (a *Adapter) BuildAuthURL(_ context.Context, req core.AuthURLRequest) (string, error) {
	if a == nil {
		return "", fmt.Errorf("pinterest: adapter is nil")
	}
	return a.endpoint.AuthCodeURL(req, nil)
}

func (a *Adapter) ExchangeCode(ctx context.Context, code string, redirectURI string) (core.Credential, error) {
	if a == nil {
		return core.Credential{}, fmt.Errorf("pinterest: adapter is nil")
	}
	return a.endpoint.ExchangeCode(ctx, code, redirectURI)
}

func (a *Adapter) FetchIdentity(ctx context.Context, accessToken string) (core.Identity, error) {
	if a == nil {
		return core.Identity{}, fmt.Errorf("pinterest: adapter is nil")
	}
	payload, err := a.apiGet(ctx, "fetch_identity", "/user_account", accessToken)
	if err != nil {
		return core.Identity{}, err
	}
	identity := core.Identity{
		ExternalID:  readString(payload, "id"),
		DisplayName: readString(payload, "username"),
	}
	if identity.ExternalID == "" {
		return core.Identity{}, platforms.NewError(
			PlatformID, "fetch_identity", "identity response missing id", 0, false, nil,
		)
	}
	return identity, nil
}

func (a *Adapter) Refresh(ctx context.Context, refreshToken string) (core.Credential, error) {
	if a == nil {
		return core.Credential{}, fmt.Errorf("pinterest: adapter is nil")
	}
	return a.endpoint.RefreshToken(ctx, refreshToken)
}

// Publish creates one pin. Pins are image-first: content without an image is
// rejected before any network call.
func (a *Adapter) Publish(ctx context.Context, accessToken string, content core.PublishContent) (string, error) {
	if a == nil {
		return "", fmt.Errorf("pinterest: adapter is nil")
	}
	if rejection := platforms.RequireImages(PlatformID, content); rejection != nil {
		return "", rejection
	}
	images := platforms.CapImages(content.ImageURLs, maxImages)
	description := platforms.TruncateBody(strings.TrimSpace(content.Body), maxDescriptionLength)

	pin := map[string]any{
		"board_id":    a.boardID,
		"description": description,
		"media_source": map[string]any{
			"source_type": "image_url",
			"url":         images[0],
		},
	}
	if link := strings.TrimSpace(content.Link); link != "" {
		pin["link"] = link
	}

	payload, err := a.apiPost(ctx, "publish", "/pins", accessToken, pin)
	if err != nil {
		return "", err
	}
	pinID := readString(payload, "id")
	if pinID == "" {
		return "", platforms.NewError(
			PlatformID, "publish", "pin response missing id", 0, false, nil,
		)
	}
	return pinID, nil
}

func (a *Adapter) apiGet(ctx context.Context, op string, path string, accessToken string) (map[string]any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiURL+path, nil)
	if err != nil {
		return nil, err
	}
	return a.doAPI(op, httpReq, accessToken)
}

func (a *Adapter) apiPost(
	ctx context.Context,
	op string,
	path string,
	accessToken string,
	body map[string]any,
) (map[string]any, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("pinterest: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, a.apiURL+path, bytes.NewReader(encoded),
	)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return a.doAPI(op, httpReq, accessToken)
}

func (a *Adapter) doAPI(op string, httpReq *http.Request, accessToken string) (map[string]any, error) {
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	response, err := a.endpoint.HTTPClient().Do(httpReq)
	if err != nil {
		return nil, platforms.TransportError(PlatformID, op, err)
	}
	defer response.Body.Close()

	body, err := platforms.ReadBody(response)
	if err != nil {
		return nil, platforms.TransportError(PlatformID, op, err)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		message := apiErrorMessage(body)
		if message == "" {
			return nil, platforms.StatusError(PlatformID, op, response.StatusCode, body)
		}
		return nil, platforms.NewError(
			PlatformID, op,
			fmt.Sprintf("api error (%d): %s", response.StatusCode, message),
			response.StatusCode,
			platforms.RetryableStatus(response.StatusCode),
			nil,
		)
	}

	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, platforms.NewError(PlatformID, op, "undecodable response", response.StatusCode, false, err)
	}
	return payload, nil
}

func apiErrorMessage(body []byte) string {
	wrapper := struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}{}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return ""
	}
	return strings.TrimSpace(wrapper.Message)
}

func readString(payload map[string]any, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

var _ core.Platform = (*Adapter)(nil)
