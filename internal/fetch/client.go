package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrAuthRequired signals that the forum wants a login before serving the
// page. Acquiring a session is an operator step (import cookies via
// `settings set --cookies-file`); the core only detects and reports it.
var ErrAuthRequired = errors.New("authentication required")

type Options struct {
	UserAgent   string
	Proxy       string
	Timeout     time.Duration
	SessionsDir string
	Logger      *slog.Logger
}

// Client is the default Page Fetcher: plain HTTP with persisted per-domain
// cookie sessions. No JavaScript rendering; pages come back as served.
type Client struct {
	pages    *resty.Client
	assets   *resty.Client
	sessions *SessionStore
	log      *slog.Logger
}

func NewClient(opts Options) *Client {
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "thread-archiver"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	newHTTP := func() *resty.Client {
		c := resty.New().
			SetHeader("User-Agent", ua).
			SetTimeout(timeout).
			SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
		if strings.TrimSpace(opts.Proxy) != "" {
			c.SetProxy(strings.TrimSpace(opts.Proxy))
		}
		return c
	}

	pages := newHTTP()
	assets := newHTTP().
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)

	return &Client{
		pages:    pages,
		assets:   assets,
		sessions: NewSessionStore(opts.SessionsDir),
		log:      logger,
	}
}

// FetchPage retrieves a rendered thread page. A 401/403 or a redirect onto
// the login route maps to ErrAuthRequired; any other non-2xx status is a
// fetch failure the caller treats as fatal for the run.
func (c *Client) FetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	host := hostOf(pageURL)
	cookies, err := c.sessions.Load(host)
	if err != nil {
		return nil, err
	}

	res, err := c.pages.R().
		SetContext(ctx).
		SetCookies(cookies).
		Get(pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch page %s: %w", pageURL, err)
	}

	c.log.Debug("page fetched", "url", pageURL, "status", res.StatusCode(), "bytes", len(res.Body()))

	if res.StatusCode() == 401 || res.StatusCode() == 403 {
		return nil, fmt.Errorf("fetch page %s: %w", pageURL, ErrAuthRequired)
	}
	if landedOnLogin(res) {
		return nil, fmt.Errorf("fetch page %s: %w", pageURL, ErrAuthRequired)
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("fetch page %s: unexpected status %d", pageURL, res.StatusCode())
	}

	if err := c.sessions.Merge(host, res.Cookies()); err != nil {
		c.log.Debug("session save failed", "domain", host, "error", err)
	}
	return res.Body(), nil
}

// FetchAsset retrieves one asset with bounded retries. Errors here degrade
// to a placeholder upstream, they never abort the run.
func (c *Client) FetchAsset(ctx context.Context, assetURL string) ([]byte, error) {
	host := hostOf(assetURL)
	cookies, err := c.sessions.Load(host)
	if err != nil {
		return nil, err
	}

	res, err := c.assets.R().
		SetContext(ctx).
		SetCookies(cookies).
		Get(assetURL)
	if err != nil {
		return nil, fmt.Errorf("fetch asset %s: %w", assetURL, err)
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("fetch asset %s: status %d", assetURL, res.StatusCode())
	}
	return res.Body(), nil
}

func landedOnLogin(res *resty.Response) bool {
	raw := res.RawResponse
	if raw == nil || raw.Request == nil || raw.Request.URL == nil {
		return false
	}
	p := raw.Request.URL.Path
	return p == "/login" || strings.HasPrefix(p, "/login/")
}

func hostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return strings.ToLower(u.Host)
}
