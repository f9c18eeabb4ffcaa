package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"remote addr", nil, "192.0.2.7:5555", "192.0.2.7"},
		{"remote without port", nil, "192.0.2.8", "192.0.2.8"},
		{"ipv6", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"forwarded header ignored", map[string]string{"X-Forwarded-For": "198.51.100.1"}, "10.0.0.2:1234", "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func TestTrustedProxies_Wrap(t *testing.T) {
	proxies, err := ParseTrustedProxies("10.0.0.0/8, 192.0.2.10")
	require.NoError(t, err)

	tests := []struct {
		name   string
		remote string
		xff    []string
		xri    string
		want   string
	}{
		{"untrusted peer keeps its address", "203.0.113.5:1000", []string{"198.51.100.1"}, "", "203.0.113.5"},
		{"trusted peer forwards client", "10.0.0.2:1000", []string{"198.51.100.1"}, "", "198.51.100.1"},
		{"bare trusted address", "192.0.2.10:1000", []string{"198.51.100.1"}, "", "198.51.100.1"},
		{"chain of trusted proxies", "10.0.0.2:1000", []string{"198.51.100.1, 10.1.1.1"}, "", "198.51.100.1"},
		{"spoofed leftmost entry skipped", "10.0.0.2:1000", []string{"1.2.3.4, 198.51.100.1"}, "", "198.51.100.1"},
		{"repeated headers", "10.0.0.2:1000", []string{"1.2.3.4", "198.51.100.1"}, "", "198.51.100.1"},
		{"only proxies listed", "10.0.0.2:1000", []string{"10.9.9.9"}, "", "10.9.9.9"},
		{"garbage header", "10.0.0.2:1000", []string{"not-an-ip"}, "", "10.0.0.2"},
		{"real ip from trusted peer", "10.0.0.2:1000", nil, " 198.51.100.2 ", "198.51.100.2"},
		{"real ip from untrusted peer", "203.0.113.5:1000", nil, "198.51.100.2", "203.0.113.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := proxies.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClientIP(r)
			}))
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for _, v := range tt.xff {
				r.Header.Add("X-Forwarded-For", v)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			h.ServeHTTP(httptest.NewRecorder(), r)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTrustedProxies_EmptyTrustsNobody(t *testing.T) {
	var got string
	h := TrustedProxies(nil).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIP(r)
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "127.0.0.1:999"
	r.Header.Set("X-Forwarded-For", "198.51.100.1")
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "127.0.0.1", got)
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies(" 10.1.2.3/8 ,, ::ffff:192.0.2.1, 2001:db8::/32")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "10.0.0.0/8", got[0].String())
	assert.Equal(t, "192.0.2.1/32", got[1].String())
	assert.Equal(t, "2001:db8::/32", got[2].String())

	empty, err := ParseTrustedProxies("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseTrustedProxies("10.0.0.0/99")
	assert.Error(t, err)
	_, err = ParseTrustedProxies("proxy.internal")
	assert.Error(t, err)
}
