// Package fetch retrieves raw asset bytes by locator.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Errors
var (
	ErrUnsupportedScheme = errors.New("unsupported locator scheme")
	ErrEmptyLocator      = errors.New("locator is empty")
	ErrLocalDisabled     = errors.New("local file access is disabled")
	ErrOutsideRoot       = errors.New("local path is outside the allowed root")
)

const defaultUserAgent = "cuebox/1.0"

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// Store is an optional persistent cache for remote bytes.
type Store interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte) error
}

// Config represents fetcher configuration.
type Config struct {
	Timeout time.Duration
	// RequestsPerMinute limits remote requests. Zero disables the limit.
	RequestsPerMinute int
	Burst             int
	// BearerToken is sent as an Authorization header on remote requests.
	BearerToken string
	UserAgent   string
	// Store caches remote responses across restarts. Optional.
	Store Store
	// DisableLocal rejects file:// URLs and plain paths.
	DisableLocal bool
	// LocalRoot confines local reads to a directory. Relative paths resolve
	// against it. Empty allows any path.
	LocalRoot string
}

// Client fetches http(s) URLs, file:// URLs and plain file paths.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	store      Store

	disableLocal bool
	localRoot    string
}

// New creates a new fetch client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.BearerToken != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.BearerToken, TokenType: "Bearer"})
		httpClient = oauth2.NewClient(context.Background(), src)
		httpClient.Timeout = timeout
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), burst)
	}

	root := cfg.LocalRoot
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}

	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return &Client{
		httpClient: httpClient,
		limiter:    limiter,
		userAgent:  ua,
		store:      cfg.Store,

		disableLocal: cfg.DisableLocal,
		localRoot:    root,
	}
}

// Fetch returns the bytes behind locator.
func (c *Client) Fetch(ctx context.Context, locator string) ([]byte, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, ErrEmptyLocator
	}

	u, err := url.Parse(locator)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid locator %q", locator)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return c.fetchRemote(ctx, locator)
	case "file":
		return c.readLocal(u.Path)
	case "":
		return c.readLocal(locator)
	default:
		if len(u.Scheme) == 1 {
			// Windows drive letter
			return c.readLocal(locator)
		}
		return nil, errors.Wrapf(ErrUnsupportedScheme, "%s", u.Scheme)
	}
}

func (c *Client) fetchRemote(ctx context.Context, locator string) ([]byte, error) {
	if c.store != nil {
		if data, ok := c.store.Get(locator); ok {
			zlog.Debug().Msgf("fetch: cache hit: %s", locator)
			return data, nil
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "rate limiter wait failed")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: locator, Code: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}
	zlog.Debug().Msgf("fetch: %s (%d bytes in %v)", locator, len(data), time.Since(start))

	if c.store != nil {
		if err := c.store.Put(locator, data); err != nil {
			zlog.Warn().Err(err).Msgf("fetch: failed to cache %s", locator)
		}
	}
	return data, nil
}

func (c *Client) readLocal(path string) ([]byte, error) {
	if c.disableLocal {
		return nil, ErrLocalDisabled
	}
	if c.localRoot == "" {
		return readFile(path)
	}

	name := filepath.Clean(path)
	if filepath.IsAbs(name) {
		rel, err := filepath.Rel(c.localRoot, name)
		if err != nil {
			return nil, ErrOutsideRoot
		}
		name = rel
	}
	if !filepath.IsLocal(name) {
		return nil, ErrOutsideRoot
	}

	// os.Root also refuses symlinks that leave the directory.
	root, err := os.OpenRoot(c.localRoot)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open local root")
	}
	defer root.Close()

	data, err := root.ReadFile(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(os.ErrNotExist, "%s", name)
		}
		return nil, errors.Wrapf(err, "failed to read %s", name)
	}
	return data, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return data, nil
}
