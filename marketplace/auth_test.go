package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brassradar/models"
)

type countingSource struct {
	calls atomic.Int32
	ttl   time.Duration
	delay time.Duration
	err   error
}

func (s *countingSource) FetchToken(ctx context.Context, now time.Time) (*models.Credential, error) {
	n := s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &models.Credential{AccessToken: "tok-" + string(rune('0'+n)), ExpiresAt: now.Add(s.ttl)}, nil
}

type memoryCredStore struct {
	mu    sync.Mutex
	cred  *models.Credential
	saves int
}

func (m *memoryCredStore) LoadCredential(ctx context.Context) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred, nil
}

func (m *memoryCredStore) SaveCredential(ctx context.Context, cred *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = cred
	m.saves++
	return nil
}

func TestTokenCacheReusesUntilMargin(t *testing.T) {
	src := &countingSource{ttl: time.Hour}
	cache := NewTokenCache(src, nil, 5*time.Minute)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tok1, err := cache.Get(ctx, now)
	require.NoError(t, err)
	tok2, err := cache.Get(ctx, now.Add(50*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, tok1, tok2)
	assert.EqualValues(t, 1, src.calls.Load())

	// inside the refresh margin
	tok3, err := cache.Get(ctx, now.Add(56*time.Minute))
	require.NoError(t, err)
	assert.NotEqual(t, tok1, tok3)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestTokenCacheInvalidate(t *testing.T) {
	src := &countingSource{ttl: time.Hour}
	cache := NewTokenCache(src, nil, 0)
	ctx := context.Background()
	now := time.Now()

	_, err := cache.Get(ctx, now)
	require.NoError(t, err)
	cache.Invalidate()
	_, err = cache.Get(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestTokenCacheConcurrentCallersShareToken(t *testing.T) {
	src := &countingSource{ttl: time.Hour, delay: 20 * time.Millisecond}
	cache := NewTokenCache(src, nil, time.Minute)
	now := time.Now()

	var wg sync.WaitGroup
	tokens := make([]string, 16)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := cache.Get(context.Background(), now)
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, src.calls.Load())
	for _, tok := range tokens {
		assert.Equal(t, tokens[0], tok)
	}
}

func TestTokenCacheUsesPersistedCredential(t *testing.T) {
	now := time.Now()
	store := &memoryCredStore{cred: &models.Credential{AccessToken: "persisted", ExpiresAt: now.Add(time.Hour)}}
	src := &countingSource{ttl: time.Hour}
	cache := NewTokenCache(src, store, time.Minute)

	tok, err := cache.Get(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, "persisted", tok)
	assert.EqualValues(t, 0, src.calls.Load())

	// expired persisted credential is replaced and saved back
	tok, err = cache.Get(context.Background(), now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, "persisted", tok)
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, tok, store.cred.AccessToken)
}

func TestTokenCachePropagatesAuthError(t *testing.T) {
	src := &countingSource{err: ErrAuth}
	cache := NewTokenCache(src, nil, time.Minute)
	_, err := cache.Get(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrAuth)
}

func TestClientCredentialsFetchToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, tokenPath, r.URL.Path)
		id, secret, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "app-id", id)
		assert.Equal(t, "app-secret", secret)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, DefaultScope, r.PostForm.Get("scope"))
		json.NewEncoder(w).Encode(map[string]any{"access_token": "v^1.1#abc", "expires_in": 7200, "token_type": "Application Access Token"})
	}))
	defer srv.Close()

	src := &ClientCredentials{ClientID: "app-id", ClientSecret: "app-secret", BaseURL: srv.URL}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cred, err := src.FetchToken(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, "v^1.1#abc", cred.AccessToken)
	assert.Equal(t, now.Add(2*time.Hour), cred.ExpiresAt)
}

func TestClientCredentialsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := (&ClientCredentials{BaseURL: srv.URL}).FetchToken(context.Background(), time.Now())
	assert.True(t, errors.Is(err, ErrMissingCredentials))

	_, err = (&ClientCredentials{ClientID: "a", ClientSecret: "b", BaseURL: srv.URL}).FetchToken(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrAuth)
	assert.Contains(t, err.Error(), "invalid_client")
}
