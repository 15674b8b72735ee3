package marketplace

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"brassradar/models"
)

var (
	ErrMissingCredentials = errors.New("marketplace: missing client credentials")
	ErrAuth               = errors.New("marketplace: authentication failed")
)

const (
	DefaultScope         = "https://api.ebay.com/oauth/api_scope"
	DefaultRefreshMargin = 5 * time.Minute
	tokenPath            = "/identity/v1/oauth2/token"
)

// TokenSource mints a fresh application credential.
type TokenSource interface {
	FetchToken(ctx context.Context, now time.Time) (*models.Credential, error)
}

// CredentialStore persists the single cached credential slot.
type CredentialStore interface {
	LoadCredential(ctx context.Context) (*models.Credential, error)
	SaveCredential(ctx context.Context, cred *models.Credential) error
}

// ClientCredentials exchanges an application id and secret for a bearer token.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	Scope        string
	BaseURL      string
	HTTPClient   *http.Client
}

func (c *ClientCredentials) FetchToken(ctx context.Context, now time.Time) (*models.Credential, error) {
	if c.ClientID == "" || c.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	scope := c.Scope
	if scope == "" {
		scope = DefaultScope
	}

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("scope", scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+tokenPath, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.ClientID + ":" + c.ClientSecret))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: token request: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: token exchange failed %d: %s", ErrAuth, resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("%w: decode token: %v", ErrAuth, err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrAuth)
	}

	return &models.Credential{
		AccessToken: tr.AccessToken,
		ExpiresAt:   now.Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// TokenCache holds the process-wide credential. Refresh is lazy and
// serialized so concurrent callers share one token.
type TokenCache struct {
	mu     sync.Mutex
	source TokenSource
	store  CredentialStore
	margin time.Duration
	cred   *models.Credential
	loaded bool
	log    *logrus.Entry
}

// NewTokenCache builds a cache over source. store may be nil.
func NewTokenCache(source TokenSource, store CredentialStore, margin time.Duration) *TokenCache {
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	return &TokenCache{
		source: source,
		store:  store,
		margin: margin,
		log:    logrus.WithField("component", "marketplace"),
	}
}

func (c *TokenCache) valid(now time.Time) bool {
	return c.cred != nil && c.cred.AccessToken != "" && now.Add(c.margin).Before(c.cred.ExpiresAt)
}

// Get returns a bearer token valid for at least the refresh margin.
func (c *TokenCache) Get(ctx context.Context, now time.Time) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded && c.store != nil {
		c.loaded = true
		cred, err := c.store.LoadCredential(ctx)
		if err != nil {
			c.log.Warnf("load cached credential: %v", err)
		} else if cred != nil {
			c.cred = cred
		}
	}

	if c.valid(now) {
		return c.cred.AccessToken, nil
	}

	cred, err := c.source.FetchToken(ctx, now)
	if err != nil {
		return "", err
	}
	c.cred = cred
	c.loaded = true

	if c.store != nil {
		if err := c.store.SaveCredential(ctx, cred); err != nil {
			c.log.Warnf("persist credential: %v", err)
		}
	}
	c.log.Debugf("refreshed access token, expires %s", cred.ExpiresAt.Format(time.RFC3339))
	return cred.AccessToken, nil
}

// Invalidate drops the cached token so the next Get mints a new one.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cred = nil
	c.loaded = true
}
