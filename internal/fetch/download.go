package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/danmuck/toolbox/internal/logging"
	"github.com/danmuck/toolbox/internal/observability"
)

// MaxRedirects bounds how many redirect hops a download follows.
const MaxRedirects = 10

var (
	ErrRedirectLimit = errors.New("fetch: too many redirects")
	ErrBadStatus     = errors.New("fetch: unexpected http status")
)

// FetchError reports a failed download. Err is ErrRedirectLimit, ErrBadStatus,
// or the underlying transport or filesystem error.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %v (status %d)", e.URL, e.Err, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Downloader streams HTTP(S) resources to disk, following redirects itself.
type Downloader struct {
	client    *http.Client
	userAgent string
}

// NewDownloader returns a downloader using client. The client's own redirect
// handling is disabled so hops can be counted here.
func NewDownloader(client *http.Client) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	c := *client
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Downloader{client: &c, userAgent: "toolbox/1"}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Download fetches rawURL into dest. On any failure dest is removed.
func (d *Downloader) Download(ctx context.Context, rawURL, dest string) error {
	log := logging.For("fetch")
	start := time.Now()
	host := hostOf(rawURL)

	written, err := d.download(ctx, rawURL, dest)
	observability.RecordDownload(host, written, time.Since(start), err == nil)
	if err != nil {
		_ = os.Remove(dest)
		log.Error().Err(err).Str("url", rawURL).Msg("download failed")
		return err
	}
	log.Info().Str("url", rawURL).Int64("bytes", written).Dur("duration", time.Since(start)).Msg("download complete")
	return nil
}

func (d *Downloader) download(ctx context.Context, rawURL, dest string) (int64, error) {
	current := rawURL
	for hops := 0; ; hops++ {
		if hops > MaxRedirects {
			return 0, &FetchError{URL: rawURL, Err: ErrRedirectLimit}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return 0, &FetchError{URL: current, Err: err}
		}
		req.Header.Set("User-Agent", d.userAgent)
		resp, err := d.client.Do(req)
		if err != nil {
			return 0, &FetchError{URL: current, Err: err}
		}

		if isRedirect(resp.StatusCode) {
			location := resp.Header.Get("Location")
			drain(resp.Body)
			if location == "" {
				return 0, &FetchError{URL: current, StatusCode: resp.StatusCode, Err: ErrBadStatus}
			}
			next, err := resolveLocation(current, location)
			if err != nil {
				return 0, &FetchError{URL: current, Err: err}
			}
			current = next
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			drain(resp.Body)
			return 0, &FetchError{URL: current, StatusCode: resp.StatusCode, Err: ErrBadStatus}
		}
		written, err := writeBody(resp.Body, dest)
		resp.Body.Close()
		if err != nil {
			return written, &FetchError{URL: current, Err: err}
		}
		return written, nil
	}
}

func writeBody(body io.Reader, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return written, err
}

func resolveLocation(current, location string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	body.Close()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Hostname()
}
