package httputil

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brassradar/config"
)

func TestNewClientsProxyAndTimeouts(t *testing.T) {
	c := NewClients(&config.ProxyConfig{URL: "http://proxy.local:3128"})
	assert.Equal(t, 30*time.Second, c.API.Timeout)
	assert.Equal(t, 10*time.Second, c.Notify.Timeout)
	assert.Equal(t, 60*time.Second, c.Media.Timeout)

	tr, ok := c.API.Transport.(*http.Transport)
	require.True(t, ok)
	assert.True(t, tr.DisableCompression)

	req, _ := http.NewRequest(http.MethodGet, "https://api.ebay.com/", nil)
	u, err := tr.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, "proxy.local:3128", u.Host)
}

func TestNewClientsWithoutProxy(t *testing.T) {
	c := NewClients(nil)
	require.NotNil(t, c.API.Transport)
}
