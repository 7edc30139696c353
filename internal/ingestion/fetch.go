package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/draftwise/backend/pkg/logger"
)

const (
	maxFetchBytes = 25 << 20
	maxRedirects  = 5
)

// ErrBlockedAddress is returned when a reference URL resolves to an address
// that is not publicly routable.
var ErrBlockedAddress = errors.New("address not allowed")

var sharedAddressSpace = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// Fetcher downloads a reference from a URL and extracts its text. Every
// connection, including those made for redirects, is checked at dial time
// against the resolved IP.
type Fetcher struct {
	httpClient *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return newFetcher(timeout, blockedIP)
}

func newFetcher(timeout time.Duration, blocked func(net.IP) bool) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip := net.ParseIP(host)
			if ip == nil || blocked(ip) {
				return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
			}
			return nil
		},
	}

	// No proxy: the dial check must see the target address.
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Fetcher{httpClient: &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("redirect to unsupported scheme %q", req.URL.Scheme)
			}
			return nil
		},
	}}
}

func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified() ||
		sharedAddressSpace.Contains(ip)
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (SourceType, *Extracted, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", nil, fmt.Errorf("invalid reference url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "draftwise-ingest/1.0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("failed to fetch %s: status %d", u, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read %s: %w", u, err)
	}

	sourceType := DetectSourceType(path.Base(u.Path), resp.Header.Get("Content-Type"))
	extracted, err := Extract(sourceType, data)
	if err != nil {
		return "", nil, err
	}
	if extracted.Title == "" {
		extracted.Title = u.String()
	}

	logger.Info("Reference fetched",
		zap.String("url", u.String()),
		zap.String("source_type", string(sourceType)),
		zap.Int("bytes", len(data)),
	)
	return sourceType, extracted, nil
}
