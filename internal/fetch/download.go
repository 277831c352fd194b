// Package fetch downloads result images referenced by URL.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrBlockedAddress is returned when a URL resolves to a private, loopback or
// link-local address and private downloads are not allowed.
var ErrBlockedAddress = errors.New("restricted network address")

// Image is a downloaded image.
type Image struct {
	Data     []byte
	MIMEType string
	URL      string
}

// Downloader fetches http(s) URLs with a size cap. Unless AllowPrivate is set,
// connections to non-public addresses are refused at dial time, which also
// covers redirects and DNS answers that change between lookups, and
// HTTP(S)_PROXY is ignored.
type Downloader struct {
	client   *http.Client
	maxBytes int64
}

// Options configures a Downloader.
type Options struct {
	AllowPrivate bool
	MaxBytes     int64
	// ConnectTimeout bounds dialing; the overall deadline comes from ctx.
	ConnectTimeout time.Duration
}

// NewDownloader creates a Downloader.
func NewDownloader(opts Options) *Downloader {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	// Through a proxy the dialer only sees the proxy's address, so the
	// address guard and environment proxies are mutually exclusive.
	proxy := http.ProxyFromEnvironment
	if !opts.AllowPrivate {
		dialer.Control = refusePrivate
		proxy = nil
	}
	transport := &http.Transport{
		Proxy:                 proxy,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: 60 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Downloader{
		client:   &http.Client{Transport: transport},
		maxBytes: opts.MaxBytes,
	}
}

// Download fetches rawURL.
func (d *Downloader) Download(ctx context.Context, rawURL string) (*Image, error) {
	if err := checkScheme(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", redact(rawURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", redact(rawURL), resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if d.maxBytes > 0 {
		body = io.LimitReader(resp.Body, d.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("download %s: read body: %w", redact(rawURL), err)
	}
	if d.maxBytes > 0 && int64(len(data)) > d.maxBytes {
		return nil, fmt.Errorf("download %s: larger than %d bytes", redact(rawURL), d.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("download %s: empty body", redact(rawURL))
	}

	mimeType := ""
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && strings.HasPrefix(mt, "image/") {
		mimeType = mt
	}

	log.Debug().
		Str("url", redact(rawURL)).
		Int("bytes", len(data)).
		Str("mime_type", mimeType).
		Dur("duration", time.Since(start)).
		Msg("Image downloaded")

	return &Image{Data: data, MIMEType: mimeType, URL: rawURL}, nil
}

func checkScheme(rawURL string) error {
	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}

// refusePrivate runs after DNS resolution for every connection attempt.
func refusePrivate(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("%w: unparseable address %s", ErrBlockedAddress, host)
	}
	if !IsPublicIP(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, ip)
	}
	return nil
}

// IsPublicIP reports whether ip is routable on the public internet.
func IsPublicIP(ip net.IP) bool {
	return !(ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast())
}

// redact drops the query string, which often carries signatures.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i] + "?..."
	}
	return rawURL
}
