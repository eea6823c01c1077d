// Package x posts to X through the v2 tweets API, with media staged through
// the v1.1 upload endpoint.
package x

import (
	"bytes"
	"context"
	"encoding/base64"
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
	PlatformID = "x"

	defaultAuthURL   = "https://x.com/i/oauth2/authorize"
	defaultTokenURL  = "https://api.x.com/2/oauth2/token"
	defaultAPIURL    = "https://api.x.com/2"
	defaultUploadURL = "https://upload.twitter.com/1.1/media/upload.json"

	// A post carries at most four images; extras are dropped silently.
	maxImages = 4

	maxBodyLength = 280
)

type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	APIURL       string
	UploadURL    string
	Scopes       []string
	HTTPClient   platforms.HTTPDoer
	Now          func() time.Time
}

type Adapter struct {
	endpoint  *platforms.Endpoint
	apiURL    string
	uploadURL string
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
	uploadURL := strings.TrimSpace(cfg.UploadURL)
	if uploadURL == "" {
		uploadURL = defaultUploadURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		// offline.access keeps the refresh token flowing on every renewal.
		scopes = []string{"tweet.read", "tweet.write", "users.read", "offline.access"}
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
		endpoint:  endpoint,
		apiURL:    strings.TrimRight(apiURL, "/"),
		uploadURL: uploadURL,
	}, nil
}

func (a *Adapter) ID() string {
	return PlatformID
}

func (a *Adapter) BuildAuthURL(_ context.Context, req core.AuthURLRequest) (string, error) {
	if a == nil {
		return "", fmt.Errorf("x: adapter is nil")
	}
	return a.endpoint.AuthCodeURL(req, nil)
}

func (a *Adapter) ExchangeCode(ctx context.Context, code string, redirectURI string) (core.Credential, error) {
	if a == nil {
		return core.Credential{}, fmt.Errorf("x: adapter is nil")
	}
	return a.endpoint.ExchangeCode(ctx, code, redirectURI)
}

func (a *Adapter) FetchIdentity(ctx context.Context, accessToken string) (core.Identity, error) {
	if a == nil {
		return core.Identity{}, fmt.Errorf("x: adapter is nil")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiURL+"/users/me", nil)
	if err != nil {
		return core.Identity{}, err
	}
	payload, err := a.doAPI("fetch_identity", httpReq, accessToken)
	if err != nil {
		return core.Identity{}, err
	}

	data, _ := payload["data"].(map[string]any)
	identity := core.Identity{
		ExternalID:  readString(data, "id"),
		DisplayName: readString(data, "username"),
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
		return core.Credential{}, fmt.Errorf("x: adapter is nil")
	}
	return a.endpoint.RefreshToken(ctx, refreshToken)
}

// Publish posts the body, truncated to the 280-character limit at a sentence
// or word boundary, with up to four images staged through the upload
// endpoint first.
func (a *Adapter) Publish(ctx context.Context, accessToken string, content core.PublishContent) (string, error) {
	if a == nil {
		return "", fmt.Errorf("x: adapter is nil")
	}
	text := strings.TrimSpace(content.Body)
	if link := strings.TrimSpace(content.Link); link != "" {
		if text != "" {
			text += " "
		}
		text += link
	}
	text = platforms.TruncateBody(text, maxBodyLength)
	if text == "" && len(platforms.CapImages(content.ImageURLs, 0)) == 0 {
		return "", platforms.NewError(PlatformID, "publish", "content is empty", 0, false, nil)
	}

	images := platforms.CapImages(content.ImageURLs, maxImages)
	mediaIDs := make([]string, 0, len(images))
	for _, imageURL := range images {
		mediaID, err := a.uploadImage(ctx, accessToken, imageURL)
		if err != nil {
			return "", err
		}
		mediaIDs = append(mediaIDs, mediaID)
	}

	tweet := map[string]any{}
	if text != "" {
		tweet["text"] = text
	}
	if len(mediaIDs) > 0 {
		tweet["media"] = map[string]any{"media_ids": mediaIDs}
	}
	encoded, err := json.Marshal(tweet)
	if err != nil {
		return "", fmt.Errorf("x: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, a.apiURL+"/tweets", bytes.NewReader(encoded),
	)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	payload, err := a.doAPI("publish", httpReq, accessToken)
	if err != nil {
		return "", err
	}

	data, _ := payload["data"].(map[string]any)
	postID := readString(data, "id")
	if postID == "" {
		return "", platforms.NewError(
			PlatformID, "publish", "publish response missing id", 0, false, nil,
		)
	}
	return postID, nil
}

// uploadImage fetches the image bytes and stages them as base64 form data.
func (a *Adapter) uploadImage(ctx context.Context, accessToken string, imageURL string) (string, error) {
	fetchReq, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", err
	}
	fetchResp, err := a.endpoint.HTTPClient().Do(fetchReq)
	if err != nil {
		return "", platforms.TransportError(PlatformID, "publish", err)
	}
	defer fetchResp.Body.Close()

	imageBytes, err := platforms.ReadBody(fetchResp)
	if err != nil {
		return "", platforms.TransportError(PlatformID, "publish", err)
	}
	if fetchResp.StatusCode < http.StatusOK || fetchResp.StatusCode >= http.StatusMultipleChoices {
		return "", platforms.NewError(
			PlatformID, "publish",
			fmt.Sprintf("image fetch failed (%d): %s", fetchResp.StatusCode, imageURL),
			fetchResp.StatusCode,
			platforms.RetryableStatus(fetchResp.StatusCode),
			nil,
		)
	}

	form := url.Values{}
	form.Set("media_data", base64.StdEncoding.EncodeToString(imageBytes))
	uploadReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, a.uploadURL, strings.NewReader(form.Encode()),
	)
	if err != nil {
		return "", err
	}
	uploadReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	payload, err := a.doAPI("publish", uploadReq, accessToken)
	if err != nil {
		return "", err
	}
	mediaID := readString(payload, "media_id_string")
	if mediaID == "" {
		return "", platforms.NewError(
			PlatformID, "publish", "media upload response missing id", 0, false, nil,
		)
	}
	return mediaID, nil
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
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}{}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return ""
	}
	if strings.TrimSpace(wrapper.Detail) != "" {
		return strings.TrimSpace(wrapper.Detail)
	}
	return strings.TrimSpace(wrapper.Title)
}

func readString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

var _ core.Platform = (*Adapter)(nil)
