// Package facebook publishes to a Facebook feed through the Graph API.
package facebook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-social/core"
	"github.com/goliatone/go-social/platforms"
)

const (
	PlatformID = "facebook"

	defaultAuthURL  = "https://www.facebook.com/v19.0/dialog/oauth"
	defaultTokenURL = "https://graph.facebook.com/v19.0/oauth/access_token"
	defaultGraphURL = "https://graph.facebook.com/v19.0"

	// The Graph API accepts at most ten attachments on a feed post; extras
	// are dropped silently rather than failing the whole publish.
	maxImages = 10
)

type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	GraphURL     string
	Scopes       []string
	HTTPClient   platforms.HTTPDoer
	Now          func() time.Time
}

type Adapter struct {
	endpoint *platforms.Endpoint
	graphURL string
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
	graphURL := strings.TrimSpace(cfg.GraphURL)
	if graphURL == "" {
		graphURL = defaultGraphURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"public_profile", "pages_manage_posts"}
	}

	endpoint, err := platforms.NewEndpoint(platforms.EndpointConfig{
		Platform:           PlatformID,
		AuthURL:            authURL,
		TokenURL:           tokenURL,
		ClientID:           cfg.ClientID,
		ClientSecret:       cfg.ClientSecret,
		ClientSecretInBody: true,
		DefaultScopes:      scopes,
		Now:                cfg.Now,
		HTTPClient:         cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{
		endpoint: endpoint,
		graphURL: strings.TrimRight(graphURL, "/"),
	}, nil
}

func (a *Adapter) ID() string {
	return PlatformID
}

func (a *Adapter) BuildAuthURL(_ context.Context, req core.AuthURLRequest) (string, error) {
	if a == nil {
		return "", fmt.Errorf("facebook: adapter is nil")
	}
	return a.endpoint.AuthCodeURL(req, nil)
}

// ExchangeCode trades the authorization code and keeps the access token as
// the refresh secret. Facebook has no refresh_token grant; renewal trades
// the current token for a fresh long-lived one.
func (a *Adapter) ExchangeCode(ctx context.Context, code string, redirectURI string) (core.Credential, error) {
	if a == nil {
		return core.Credential{}, fmt.Errorf("facebook: adapter is nil")
	}
	credential, err := a.endpoint.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return core.Credential{}, err
	}
	credential.RefreshToken = credential.AccessToken
	return credential, nil
}

func (a *Adapter) FetchIdentity(ctx context.Context, accessToken string) (core.Identity, error) {
	if a == nil {
		return core.Identity{}, fmt.Errorf("facebook: adapter is nil")
	}
	query := url.Values{}
	query.Set("fields", "id,name")
	query.Set("access_token", accessToken)

	payload, err := a.graphGet(ctx, "fetch_identity", "/me", query)
	if err != nil {
		return core.Identity{}, err
	}
	identity := core.Identity{
		ExternalID:  readString(payload, "id"),
		DisplayName: readString(payload, "name"),
	}
	if identity.ExternalID == "" {
		return core.Identity{}, platforms.NewError(
			PlatformID, "fetch_identity", "identity response missing id", 0, false, nil,
		)
	}
	return identity, nil
}

// Refresh performs the fb_exchange_token grant against the current token.
func (a *Adapter) Refresh(ctx context.Context, refreshToken string) (core.Credential, error) {
	if a == nil {
		return core.Credential{}, fmt.Errorf("facebook: adapter is nil")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.Credential{}, fmt.Errorf("facebook: refresh token is required")
	}
	form := url.Values{}
	form.Set("grant_type", "fb_exchange_token")
	form.Set("fb_exchange_token", refreshToken)

	payload, err := a.endpoint.FetchToken(ctx, "refresh", form)
	if err != nil {
		return core.Credential{}, err
	}
	credential := core.Credential{
		AccessToken: strings.TrimSpace(payload.AccessToken),
	}
	credential.RefreshToken = credential.AccessToken
	if payload.ExpiresIn > 0 {
		expiresAt := a.endpoint.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
		credential.ExpiresAt = &expiresAt
	}
	return credential, nil
}

func (a *Adapter) Publish(ctx context.Context, accessToken string, content core.PublishContent) (string, error) {
	if a == nil {
		return "", fmt.Errorf("facebook: adapter is nil")
	}
	images := platforms.CapImages(content.ImageURLs, maxImages)

	mediaIDs := make([]string, 0, len(images))
	for _, imageURL := range images {
		form := url.Values{}
		form.Set("url", imageURL)
		form.Set("published", "false")
		form.Set("access_token", accessToken)
		payload, err := a.graphPost(ctx, "publish", "/me/photos", form)
		if err != nil {
			return "", err
		}
		mediaID := readString(payload, "id")
		if mediaID == "" {
			return "", platforms.NewError(
				PlatformID, "publish", "photo upload response missing id", 0, false, nil,
			)
		}
		mediaIDs = append(mediaIDs, mediaID)
	}

	form := url.Values{}
	if body := strings.TrimSpace(content.Body); body != "" {
		form.Set("message", body)
	}
	if link := strings.TrimSpace(content.Link); link != "" {
		form.Set("link", link)
	}
	for index, mediaID := range mediaIDs {
		form.Set(
			fmt.Sprintf("attached_media[%d]", index),
			fmt.Sprintf(`{"media_fbid":%q}`, mediaID),
		)
	}
	form.Set("access_token", accessToken)

	payload, err := a.graphPost(ctx, "publish", "/me/feed", form)
	if err != nil {
		return "", err
	}
	postID := readString(payload, "id")
	if postID == "" {
		return "", platforms.NewError(
			PlatformID, "publish", "publish response missing id", 0, false, nil,
		)
	}
	return postID, nil
}

func (a *Adapter) graphGet(ctx context.Context, op string, path string, query url.Values) (map[string]any, error) {
	endpoint := a.graphURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return a.doGraph(op, httpReq)
}

func (a *Adapter) graphPost(ctx context.Context, op string, path string, form url.Values) (map[string]any, error) {
	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, a.graphURL+path, strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return a.doGraph(op, httpReq)
}

func (a *Adapter) doGraph(op string, httpReq *http.Request) (map[string]any, error) {
	httpReq.Header.Set("Accept", "application/json")
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
		message := graphErrorMessage(body)
		if message == "" {
			return nil, platforms.StatusError(PlatformID, op, response.StatusCode, body)
		}
		return nil, platforms.NewError(
			PlatformID, op,
			fmt.Sprintf("graph api error (%d): %s", response.StatusCode, message),
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

func graphErrorMessage(body []byte) string {
	wrapper := struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    int    `json:"code"`
		} `json:"error"`
	}{}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return ""
	}
	return strings.TrimSpace(wrapper.Error.Message)
}

func readString(payload map[string]any, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

var _ core.Platform = (*Adapter)(nil)
