package statusfeed

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/model"
)

// maxBody caps how much of the status page is read.
const maxBody = 8 << 20

// FetchOptions configures a Fetcher.
type FetchOptions struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
	// Insecure skips certificate verification. Otherwise CABundle, when
	// set, replaces the system roots.
	Insecure bool
	CABundle string
}

// Fetcher downloads and parses the status page.
type Fetcher struct {
	url       string
	userAgent string
	client    *http.Client
	now       func() time.Time
}

// NewFetcher builds a Fetcher. It fails only when the CA bundle can't be
// loaded.
func NewFetcher(opts FetchOptions) (*Fetcher, error) {
	tlsCfg, err := tlsConfig(opts.Insecure, opts.CABundle)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg

	return &Fetcher{
		url:       opts.URL,
		userAgent: opts.UserAgent,
		client:    &http.Client{Timeout: opts.Timeout, Transport: transport},
		now:       time.Now,
	}, nil
}

// URL returns the page being scraped.
func (f *Fetcher) URL() string { return f.url }

// Fetch GETs the page and parses its first table. Rows carry the fetch
// time as observed_at.
func (f *Fetcher) Fetch(ctx context.Context) ([]model.SystemRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrFeed,
			fmt.Sprintf("Invalid feed URL %q", f.url), "Check feed.url in your config")
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrFeed,
			fmt.Sprintf("Couldn't fetch %s", f.url),
			"Check network access to the status page, or set feed.insecure / feed.ca_bundle for TLS errors")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.ErrFeed,
			fmt.Sprintf("Status page returned %s", resp.Status), "")
	}

	observed := f.now()
	return ParseTable(io.LimitReader(resp.Body, maxBody), observed)
}

func tlsConfig(insecure bool, caBundle string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if insecure {
		cfg.InsecureSkipVerify = true //nolint:gosec // opt-in via feed.insecure
		return cfg, nil
	}
	if caBundle == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(caBundle)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Couldn't read CA bundle %s", caBundle), "Check feed.ca_bundle")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("No certificates found in %s", caBundle),
			"feed.ca_bundle must be a PEM file")
	}
	cfg.RootCAs = pool
	return cfg, nil
}
