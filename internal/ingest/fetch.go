// Package ingest loads outcome ground truth from HR exports: CSV, XLSX or
// XML files delivered over HTTP, FTP or the local filesystem.
package ingest

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hirelens/calibration-cli/internal/config"
)

// Fetcher opens an outcome source by URL or local path.
type Fetcher interface {
	Open(ctx context.Context, src string) (io.ReadCloser, error)
}

// hrFetcher talks to HR systems, which tend to be fragile: every request is
// rate limited, and transient failures are retried with jittered backoff.
type hrFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	cfg     config.IngestConfig
}

// NewFetcher builds the default fetcher from config.
func NewFetcher(cfg config.IngestConfig) Fetcher {
	if cfg.TimeoutSecs <= 0 {
		cfg.TimeoutSecs = 60
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "calibration-cli outcome importer"
	}
	return &hrFetcher{
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), int(math.Ceil(cfg.RatePerSec))),
		cfg:     cfg,
	}
}

// Open dispatches on the source scheme: http(s) and ftp URLs are fetched
// remotely, anything else is treated as a local file path.
func (f *hrFetcher) Open(ctx context.Context, src string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return f.openHTTP(ctx, src)
	case strings.HasPrefix(src, "ftp://"):
		return f.openFTP(ctx, src)
	default:
		file, err := os.Open(src)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", src)
		}
		return file, nil
	}
}

func (f *hrFetcher) openHTTP(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	retries := f.cfg.MaxRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "ingest: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: create request")
		}
		req.Header.Set("User-Agent", f.cfg.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			zap.L().Warn("ingest: request failed, retrying",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("ingest: http %d from %s", resp.StatusCode, rawURL)
			zap.L().Warn("ingest: retryable status",
				zap.String("url", rawURL),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			backoff(ctx, attempt)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, eris.Errorf("ingest: unexpected status %d from %s", resp.StatusCode, rawURL)
		}
		return resp.Body, nil
	}
	return nil, eris.Wrap(lastErr, "ingest: all retries exhausted")
}

func backoff(ctx context.Context, attempt int) {
	d := time.Duration(float64(time.Second) * math.Pow(2, float64(attempt)))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	d += time.Duration(rand.Int64N(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// ftpConnReader ties the FTP response to its connection so closing the
// reader also releases the server connection.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) { return r.resp.Read(p) }

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "ingest: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "ingest: quit ftp connection")
	}
	return nil
}

func (f *hrFetcher) openFTP(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	u, err := url.Parse(ftpURL)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: parse ftp url")
	}
	host := u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}
	if u.Path == "" {
		return nil, eris.New("ingest: empty path in ftp url")
	}

	zap.L().Debug("ingest: ftp connect", zap.String("host", host), zap.String("path", u.Path))

	timeout := time.Duration(f.cfg.TimeoutSecs) * time.Second
	conn, err := ftp.Dial(host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "ingest: ftp dial")
	}

	user, pass := "anonymous", "anonymous@"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "ingest: ftp login")
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "ingest: ftp retrieve")
	}
	return &ftpConnReader{resp: resp, conn: conn}, nil
}

// fetchToFile spools a source to a temp file, for parsers that need random
// access (XLSX). The caller removes the file.
func fetchToFile(ctx context.Context, f Fetcher, src string) (string, error) {
	if !strings.Contains(src, "://") {
		return src, nil
	}

	rc, err := f.Open(ctx, src)
	if err != nil {
		return "", err
	}
	defer rc.Close() //nolint:errcheck

	tmp, err := os.CreateTemp("", "outcomes-*.xlsx")
	if err != nil {
		return "", eris.Wrap(err, "ingest: create temp file")
	}
	defer tmp.Close() //nolint:errcheck

	if _, err := io.Copy(tmp, rc); err != nil {
		_ = os.Remove(tmp.Name())
		return "", eris.Wrap(err, "ingest: spool to temp file")
	}
	return tmp.Name(), nil
}
