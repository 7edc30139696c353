package ingestion

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html><head><title>Field notes</title></head><body><nav>menu</nav><p>Wells were dug.</p></body></html>"))
		case "/notes.txt":
			_, _ = w.Write([]byte("plain body"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := newFetcher(time.Second, func(net.IP) bool { return false })

	st, ex, err := f.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, SourceHTML, st)
	assert.Equal(t, "Field notes", ex.Title)
	assert.Equal(t, "Wells were dug.", ex.Text)

	st, ex, err = f.Fetch(context.Background(), srv.URL+"/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, SourceText, st)
	assert.Equal(t, "plain body", ex.Text)
	assert.Equal(t, srv.URL+"/notes.txt", ex.Title)

	_, _, err = f.Fetch(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)

	_, _, err = f.Fetch(context.Background(), "file:///etc/passwd")
	assert.Error(t, err)
}

func TestFetcher_RefusesInternalAddresses(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("internal-only secret token=abc123."))
	}))
	defer srv.Close()

	f := NewFetcher(time.Second)

	_, ex, err := f.Fetch(context.Background(), srv.URL+"/admin")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlockedAddress)
	assert.Nil(t, ex)
	assert.Zero(t, hits)
}

func TestFetcher_RefusesRedirectToInternalAddress(t *testing.T) {
	internalHits := 0
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		internalHits++
		_, _ = w.Write([]byte("metadata"))
	}))
	defer internal.Close()

	_, internalPort, err := net.SplitHostPort(internal.Listener.Addr().String())
	require.NoError(t, err)

	public := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://127.0.0.2:"+internalPort+"/latest", http.StatusFound)
	}))
	defer public.Close()

	_, publicPort, err := net.SplitHostPort(public.Listener.Addr().String())
	require.NoError(t, err)

	// Only 127.0.0.1 counts as public here, so the redirect target is refused.
	f := newFetcher(time.Second, func(ip net.IP) bool { return !ip.Equal(net.IPv4(127, 0, 0, 1)) })

	_, _, err = f.Fetch(context.Background(), "http://127.0.0.1:"+publicPort+"/go")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlockedAddress)
	assert.Zero(t, internalHits)
}

func TestBlockedIP(t *testing.T) {
	tests := []struct {
		ip      string
		blocked bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"10.1.2.3", true},
		{"172.16.0.9", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"fe80::1", true},
		{"0.0.0.0", true},
		{"100.64.0.1", true},
		{"::ffff:127.0.0.1", true},
		{"93.184.216.34", false},
		{"2606:4700:4700::1111", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.blocked, blockedIP(net.ParseIP(tt.ip)))
		})
	}
}
