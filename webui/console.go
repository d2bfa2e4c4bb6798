package webui

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"printmaster/telemetry/common/logger"
)

const (
	defaultUsername     = "service"
	defaultPassword     = "service"
	defaultLoginPath    = "/login.cgi"
	defaultCountersPath = "/settings/counters.html"
	defaultTimeout      = 10 * time.Second
	maxPageBytes        = 2 << 20
)

// Config describes how to reach and authenticate against a management console.
type Config struct {
	Scheme        string        `toml:"scheme"`
	Port          int           `toml:"port"` // 0 = scheme default
	Username      string        `toml:"username"`
	Password      string        `toml:"password"`
	UsernameField string        `toml:"username_field"`
	PasswordField string        `toml:"password_field"`
	LoginPath     string        `toml:"login_path"`
	CountersPath  string        `toml:"counters_path"`
	InfoPaths     []string      `toml:"info_paths"` // pages that may carry the serial number
	Timeout       time.Duration `toml:"-"`
}

// DefaultConfig returns the default maintenance account and console layout.
func DefaultConfig() Config {
	return Config{
		Scheme:        "http",
		Username:      defaultUsername,
		Password:      defaultPassword,
		UsernameField: "username",
		PasswordField: "password",
		LoginPath:     defaultLoginPath,
		CountersPath:  defaultCountersPath,
		InfoPaths:     []string{"/info/device.html", "/status/config.html"},
		Timeout:       defaultTimeout,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Scheme == "" {
		c.Scheme = def.Scheme
	}
	if c.Username == "" {
		c.Username = def.Username
	}
	if c.Password == "" {
		c.Password = def.Password
	}
	if c.UsernameField == "" {
		c.UsernameField = def.UsernameField
	}
	if c.PasswordField == "" {
		c.PasswordField = def.PasswordField
	}
	if c.LoginPath == "" {
		c.LoginPath = def.LoginPath
	}
	if c.CountersPath == "" {
		c.CountersPath = def.CountersPath
	}
	if len(c.InfoPaths) == 0 {
		c.InfoPaths = def.InfoPaths
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// BaseURL builds the console root URL for a device address.
func (c Config) BaseURL(host string) string {
	c = c.withDefaults()
	if c.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(c.Port))
	}
	return (&url.URL{Scheme: c.Scheme, Host: host}).String()
}

// Session is one authenticated console conversation. Its cookie jar belongs
// to a single scrape operation and is discarded with it.
type Session struct {
	baseURL string
	client  *http.Client
}

// Login opens a session against baseURL by posting the maintenance
// credentials to the login endpoint.
func Login(ctx context.Context, baseURL string, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	s := &Session{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					// #nosec G402 -- printer consoles ship self-signed certificates on local networks.
					InsecureSkipVerify: true,
				},
			},
		},
	}

	form := url.Values{}
	form.Set(cfg.UsernameField, cfg.Username)
	form.Set(cfg.PasswordField, cfg.Password)

	if logger.Global != nil {
		logger.Global.Debug("Console login attempt", "base_url", s.baseURL, "username", cfg.Username)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+cfg.LoginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, offline(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrAuthenticationFailed, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrAuthenticationFailed, resp.StatusCode)
	case hasPasswordInput(string(body)):
		// Consoles re-render the login form on bad credentials.
		return nil, fmt.Errorf("%w: login form returned again", ErrAuthenticationFailed)
	}

	if logger.Global != nil {
		logger.Global.Debug("Console login succeeded", "base_url", s.baseURL, "status", resp.StatusCode)
	}
	return s, nil
}

// Fetch GETs a page relative to the console root and returns its body.
func (s *Session) Fetch(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", offline(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: %s returned %d", ErrAuthenticationFailed, path, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(body), nil
}

func offline(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrOffline, err)
}
