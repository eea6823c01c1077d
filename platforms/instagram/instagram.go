// Package instagram publishes images through the Instagram content
// publishing flow: media containers first, then a publish call.
package instagram

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
	PlatformID = "instagram"

	defaultAuthURL  = "https://www.facebook.com/v19.0/dialog/oauth"
	defaultTokenURL = "https://graph.facebook.com/v19.0/oauth/access_token"
	defaultGraphURL = "https://graph.facebook.com/v19.0"

	// A carousel holds at most ten children.
	maxImages = 10

	maxCaptionLength = 2200
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
		scopes = []string{"instagram_basic", "instagram_content_publish"}
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
		return "", fmt.Errorf("instagram: adapter is nil")
	}
	return a.endpoint.AuthCodeURL(req, nil)
}

func (a *Adapter) ExchangeCode(ctx context.Context, code string, redirectURI string) (core.Credential, error) {
	if a == nil {
		return core.Credential{}, fmt.Errorf("instagram: adapter is nil")
	}
	credential, err := a.endpoint.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return core.Credential{}, err
	}
	// Tokens here have no refresh path; expiry routes straight to
	// re-authorization.
	credential.RefreshToken = ""
	return credential, nil
}

func (a *Adapter) FetchIdentity(ctx context.Context, accessToken string) (core.Identity, error) {
	if a == nil {
		return core.Identity{}, fmt.Errorf("instagram: adapter is nil")
	}
	query := url.Values{}
	query.Set("fields", "id,username")
	query.Set("access_token", accessToken)

	payload, err := a.graphGet(ctx, "fetch_identity", "/me", query)
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

func (a *Adapter) Refresh(context.Context, string) (core.Credential, error) {
	return core.Credential{}, core.ErrRefreshNotSupported
}

// Publish requires at least one image and rejects image-less content before
// touching the network. A single image publishes directly; several become a
// carousel container.
func (a *Adapter) Publish(ctx context.Context, accessToken string, content core.PublishContent) (string, error) {
	if a == nil {
		return "", fmt.Errorf("instagram: adapter is nil")
	}
	if rejection := platforms.RequireImages(PlatformID, content); rejection != nil {
		return "", rejection
	}
	images := platforms.CapImages(content.ImageURLs, maxImages)
	caption := platforms.TruncateBody(strings.TrimSpace(content.Body), maxCaptionLength)

	var containerID string
	var err error
	if len(images) == 1 {
		containerID, err = a.createImageContainer(ctx, accessToken, images[0], caption, false)
	} else {
		containerID, err = a.createCarouselContainer(ctx, accessToken, images, caption)
	}
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("creation_id", containerID)
	form.Set("access_token", accessToken)
	payload, err := a.graphPost(ctx, "publish", "/me/media_publish", form)
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

func (a *Adapter) createImageContainer(
	ctx context.Context,
	accessToken string,
	imageURL string,
	caption string,
	carouselItem bool,
) (string, error) {
	form := url.Values{}
	form.Set("image_url", imageURL)
	if carouselItem {
		form.Set("is_carousel_item", "true")
	} else if caption != "" {
		form.Set("caption", caption)
	}
	form.Set("access_token", accessToken)

	payload, err := a.graphPost(ctx, "publish", "/me/media", form)
	if err != nil {
		return "", err
	}
	containerID := readString(payload, "id")
	if containerID == "" {
		return "", platforms.NewError(
			PlatformID, "publish", "media container response missing id", 0, false, nil,
		)
	}
	return containerID, nil
}

func (a *Adapter) createCarouselContainer(
	ctx context.Context,
	accessToken string,
	images []string,
	caption string,
) (string, error) {
	children := make([]string, 0, len(images))
	for _, imageURL := range images {
		childID, err := a.createImageContainer(ctx, accessToken, imageURL, "", true)
		if err != nil {
			return "", err
		}
		children = append(children, childID)
	}

	form := url.Values{}
	form.Set("media_type", "CAROUSEL")
	form.Set("children", strings.Join(children, ","))
	if caption != "" {
		form.Set("caption", caption)
	}
	form.Set("access_token", accessToken)

	payload, err := a.graphPost(ctx, "publish", "/me/media", form)
	if err != nil {
		return "", err
	}
	containerID := readString(payload, "id")
	if containerID == "" {
		return "", platforms.NewError(
			PlatformID, "publish", "carousel container response missing id", 0, false, nil,
		)
	}
	return containerID, nil
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
		return nil, platforms.StatusError(PlatformID, op, response.StatusCode, body)
	}

	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, platforms.NewError(PlatformID, op, "undecodable response", response.StatusCode, false, err)
	}
	return payload, nil
}

func readString(payload map[string]any, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

var _ core.Platform = (*Adapter)(nil)
