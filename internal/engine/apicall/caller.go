package apicall

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/schemaflow/platform/internal/engine/expr"
	"github.com/schemaflow/platform/internal/engine/path"
	"github.com/schemaflow/platform/pkg/logger"
)

// Cache stores successful GET responses. Implementations must be safe for
// concurrent use; a nil cache disables caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Config bounds the caller's resource usage. Zero values take defaults.
type Config struct {
	DefaultTimeout   time.Duration
	MaxTimeout       time.Duration
	MaxAttempts      int
	MaxBodyBytes     int64
	AllowedHosts     []string
	DenyPrivateHosts bool
}

const (
	defaultTimeout   = 10 * time.Second
	defaultMaxPause  = 120 * time.Second
	defaultAttempts  = 5
	defaultBodyLimit = 4 << 20
	maxBackoff       = 30 * time.Second
)

// Caller executes API mappings. It is safe for concurrent use.
type Caller struct {
	client *http.Client
	cache  Cache
	log    *logger.Logger
	cfg    Config
}

// Option customises a Caller.
type Option func(*Caller)

// WithHTTPClient overrides the transport, primarily for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Caller) { c.client = client }
}

// WithCache enables GET response caching.
func WithCache(cache Cache) Option {
	return func(c *Caller) { c.cache = cache }
}

// WithLogger overrides the default logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Caller) { c.log = log }
}

// New creates a Caller with cfg and options applied.
func New(cfg Config, opts ...Option) *Caller {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = defaultMaxPause
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultAttempts
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultBodyLimit
	}
	c := &Caller{cfg: cfg, log: logger.NewDefault("apicall")}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	return c
}

// Result is the outcome of one mapping call. Raw holds the (possibly
// truncated) response body before redaction; callers persisting results must
// pass them through the mapping's Redactor first.
type Result struct {
	Status    int
	URL       string
	Headers   http.Header
	Body      interface{}
	Raw       []byte
	Mapped    map[string]interface{}
	Attempts  int
	Duration  time.Duration
	Truncated bool
	FromCache bool
}

// OK reports whether the upstream answered with a 2xx status.
func (r *Result) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Preview is a rendered request that was not executed. Sensitive headers are
// masked.
type Preview struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    interface{}       `json:"body,omitempty"`
}

// builtRequest is a fully rendered request ready for (repeated) execution.
type builtRequest struct {
	method string
	url    string
	header http.Header
	body   []byte
}

// Call renders and executes mapping m against doc. Secret values available
// under doc["secrets"] are redacted from every error and log line this
// method produces. Non-2xx responses are returned as results, not errors;
// only transport failures, denied hosts, rendering problems and error-path
// hits fail the call.
func (c *Caller) Call(ctx context.Context, tenantID string, m Mapping, doc expr.Context) (*Result, error) {
	red := NewRedactor(doc)

	req, err := c.buildRequest(m, doc)
	if err != nil {
		return nil, red.ApplyError(err)
	}

	var cacheKey string
	var ttl time.Duration
	if c.cache != nil && m.CacheTTLMs > 0 && req.method == http.MethodGet {
		cacheKey = cacheKeyFor(tenantID, m.Key, req.url)
		ttl = time.Duration(m.CacheTTLMs) * time.Millisecond
		if blob, ok := c.cache.Get(ctx, cacheKey); ok {
			if res, derr := decodeCached(blob); derr == nil {
				res.URL = req.url
				res.FromCache = true
				if perr := c.postProcess(m, res, red); perr != nil {
					return nil, perr
				}
				return res, nil
			}
		}
	}

	res, err := c.execute(ctx, req, m, red)
	if err != nil {
		return nil, err
	}
	res.URL = req.url

	if cacheKey != "" && res.OK() && !res.Truncated {
		if blob := encodeCached(res); blob != nil {
			c.cache.Set(ctx, cacheKey, blob, ttl)
		}
	}
	if err := c.postProcess(m, res, red); err != nil {
		return nil, err
	}
	return res, nil
}

// Preview renders mapping m without executing it, for dry-run endpoints.
func (c *Caller) Preview(ctx context.Context, m Mapping, doc expr.Context) (*Preview, error) {
	_ = ctx
	red := NewRedactor(doc)
	req, err := c.buildRequest(m, doc)
	if err != nil {
		return nil, red.ApplyError(err)
	}
	p := &Preview{
		Method:  req.method,
		URL:     red.Apply(req.url),
		Headers: red.RedactHeaders(req.header),
	}
	if len(req.body) > 0 {
		masked := red.ApplyBytes(req.body)
		var decoded interface{}
		if json.Unmarshal(masked, &decoded) == nil {
			p.Body = decoded
		} else {
			p.Body = string(masked)
		}
	}
	return p, nil
}

func (c *Caller) buildRequest(m Mapping, doc expr.Context) (*builtRequest, error) {
	method := strings.ToUpper(m.Method)
	if method == "" {
		method = http.MethodGet
	}
	if _, ok := knownMethods[method]; !ok {
		return nil, fmt.Errorf("apicall: unsupported method %q", m.Method)
	}

	rendered, err := expr.Render(m.URL, doc)
	if err != nil {
		return nil, fmt.Errorf("apicall: url: %w", err)
	}
	if strings.Contains(rendered, "{{") {
		return nil, fmt.Errorf("apicall: url still contains an unrendered template")
	}
	u, err := url.Parse(rendered)
	if err != nil {
		return nil, fmt.Errorf("apicall: url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("apicall: scheme %q not allowed", u.Scheme)
	}
	if err := c.checkHost(u.Hostname(), m.AllowedHosts); err != nil {
		return nil, err
	}

	if len(m.Query) > 0 {
		q := u.Query()
		for key, tmpl := range m.Query {
			v, err := expr.Render(tmpl, doc)
			if err != nil {
				return nil, fmt.Errorf("apicall: query %q: %w", key, err)
			}
			q.Set(key, v)
		}
		u.RawQuery = q.Encode()
	}

	header := make(http.Header, len(m.Headers)+2)
	for name, tmpl := range m.Headers {
		v, err := expr.Render(tmpl, doc)
		if err != nil {
			return nil, fmt.Errorf("apicall: header %q: %w", name, err)
		}
		header.Set(name, v)
	}
	if err := applyAuth(m.Auth, doc, header); err != nil {
		return nil, err
	}

	var body []byte
	if m.Body != nil {
		if method == http.MethodGet || method == http.MethodHead {
			return nil, fmt.Errorf("apicall: %s mappings cannot carry a body", method)
		}
		v, err := expr.RenderValue(m.Body, doc)
		if err != nil {
			return nil, fmt.Errorf("apicall: body: %w", err)
		}
		if s, ok := v.(string); ok {
			body = []byte(s)
			if header.Get("Content-Type") == "" {
				header.Set("Content-Type", "text/plain; charset=utf-8")
			}
		} else {
			body, err = json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("apicall: body: %w", err)
			}
			if header.Get("Content-Type") == "" {
				header.Set("Content-Type", "application/json")
			}
		}
	}

	return &builtRequest{method: method, url: u.String(), header: header, body: body}, nil
}

func applyAuth(a *Auth, doc expr.Context, header http.Header) error {
	if a == nil || a.Kind == "" || a.Kind == AuthNone {
		return nil
	}
	secret, err := secretValue(doc, a.Secret)
	if err != nil {
		return err
	}
	switch a.Kind {
	case AuthBearer:
		header.Set("Authorization", "Bearer "+secret)
	case AuthBasic:
		user, rerr := expr.Render(a.User, doc)
		if rerr != nil {
			return fmt.Errorf("apicall: basic auth user: %w", rerr)
		}
		cred := base64.StdEncoding.EncodeToString([]byte(user + ":" + secret))
		header.Set("Authorization", "Basic "+cred)
	case AuthHeader:
		header.Set(a.Header, secret)
	default:
		return fmt.Errorf("apicall: unknown auth kind %q", a.Kind)
	}
	return nil
}

func secretValue(doc expr.Context, name string) (string, error) {
	secrets, _ := doc["secrets"].(map[string]interface{})
	v, ok := secrets[name].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("apicall: secret %q not resolved", name)
	}
	return v, nil
}

// checkHost enforces the mapping allowlist, falling back to the caller-level
// list. An explicitly listed host is always allowed; otherwise private and
// loopback addresses are refused when DenyPrivateHosts is set.
func (c *Caller) checkHost(host string, mappingHosts []string) error {
	allow := mappingHosts
	if len(allow) == 0 {
		allow = c.cfg.AllowedHosts
	}
	if len(allow) > 0 {
		for _, entry := range allow {
			if hostMatches(host, entry) {
				return nil
			}
		}
		return fmt.Errorf("apicall: host %q not in allowlist", host)
	}
	if c.cfg.DenyPrivateHosts && isPrivateHost(host) {
		return fmt.Errorf("apicall: host %q is private", host)
	}
	return nil
}

func hostMatches(host, pattern string) bool {
	host = strings.ToLower(host)
	pattern = strings.ToLower(pattern)
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:]) && host != pattern[1:]
	}
	return host == pattern
}

func isPrivateHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

func (c *Caller) execute(ctx context.Context, req *builtRequest, m Mapping, red *Redactor) (*Result, error) {
	maxAttempts := 1
	backoff := time.Duration(0)
	if m.Retry != nil {
		maxAttempts = m.Retry.Max + 1
		backoff = time.Duration(m.Retry.BackoffMs) * time.Millisecond
	}
	if maxAttempts > c.cfg.MaxAttempts {
		maxAttempts = c.cfg.MaxAttempts
	}
	timeout := c.cfg.DefaultTimeout
	if m.TimeoutMs > 0 {
		timeout = time.Duration(m.TimeoutMs) * time.Millisecond
	}
	if timeout > c.cfg.MaxTimeout {
		timeout = c.cfg.MaxTimeout
	}

	start := time.Now()
	var res *Result
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			pause := backoff * time.Duration(attempt-1)
			if pause > maxBackoff {
				pause = maxBackoff
			}
			if pause > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(pause):
				}
			}
		}

		res, lastErr = c.attempt(ctx, req, timeout)
		if lastErr != nil {
			c.log.WithError(red.ApplyError(lastErr)).
				WithField("mapping", m.Key).
				Warnf("mapping attempt %d/%d failed", attempt, maxAttempts)
			res = nil
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if !retryableStatus(m.Retry, res.Status) {
			res.Attempts = attempt
			res.Duration = time.Since(start)
			return res, nil
		}
		c.log.WithField("mapping", m.Key).
			WithField("status", res.Status).
			Warnf("mapping attempt %d/%d got retryable status", attempt, maxAttempts)
	}

	if lastErr != nil {
		return nil, red.ApplyError(fmt.Errorf("apicall: %d attempts failed: %w", maxAttempts, lastErr))
	}
	res.Attempts = maxAttempts
	res.Duration = time.Since(start)
	return res, nil
}

func (c *Caller) attempt(ctx context.Context, req *builtRequest, timeout time.Duration) (*Result, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if len(req.body) > 0 {
		reader = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(actx, req.method, req.url, reader)
	if err != nil {
		return nil, err
	}
	for name, vals := range req.header {
		httpReq.Header[name] = vals
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	truncated := false
	if int64(len(raw)) > c.cfg.MaxBodyBytes {
		raw = raw[:c.cfg.MaxBodyBytes]
		truncated = true
	}

	return &Result{
		Status:    resp.StatusCode,
		Headers:   resp.Header.Clone(),
		Raw:       raw,
		Truncated: truncated,
	}, nil
}

// retryableStatus reports whether a response status should be retried. With
// no retry config nothing retries; with retry but no RetryOn list, 5xx and
// 429 retry.
func retryableStatus(r *Retry, status int) bool {
	if r == nil || r.Max <= 0 {
		return false
	}
	if len(r.RetryOn) == 0 {
		return status >= 500 || status == http.StatusTooManyRequests
	}
	for _, code := range r.RetryOn {
		if code >= 1 && code <= 5 {
			if status/100 == code {
				return true
			}
			continue
		}
		if status == code {
			return true
		}
	}
	return false
}

// postProcess decodes the body, applies the mapping's error path and runs
// field extraction into Result.Mapped.
func (c *Caller) postProcess(m Mapping, res *Result, red *Redactor) error {
	contentType := res.Headers.Get("Content-Type")
	if strings.Contains(strings.ToLower(contentType), "json") && len(res.Raw) > 0 {
		var decoded interface{}
		if err := json.Unmarshal(res.Raw, &decoded); err == nil {
			res.Body = decoded
		} else {
			res.Body = string(res.Raw)
		}
	} else {
		res.Body = string(res.Raw)
	}

	if m.Response == nil {
		return nil
	}
	if m.Response.ErrorPath != "" {
		if v, ok := resolveSelector(m.Response.ErrorPath, res.Status, res.Headers, res.Body, res.Raw); ok && truthy(v) {
			return fmt.Errorf("apicall: mapping error: %s", red.Apply(expr.Stringify(v)))
		}
	}
	if len(m.Response.Extract) > 0 {
		res.Mapped = make(map[string]interface{})
		targets := make([]string, 0, len(m.Response.Extract))
		for target := range m.Response.Extract {
			targets = append(targets, target)
		}
		sort.Strings(targets)
		for _, target := range targets {
			v, ok := resolveSelector(m.Response.Extract[target], res.Status, res.Headers, res.Body, res.Raw)
			if !ok {
				continue
			}
			if err := path.Set(res.Mapped, target, v); err != nil {
				return fmt.Errorf("apicall: extract %q: %w", target, err)
			}
		}
	}
	return nil
}

type cachedResponse struct {
	Status  int         `json:"status"`
	Headers http.Header `json:"headers"`
	Raw     []byte      `json:"raw"`
}

func cacheKeyFor(tenantID, mappingKey, finalURL string) string {
	sum := sha256.Sum256([]byte(tenantID + "|" + mappingKey + "|" + finalURL))
	return "apicall:" + hex.EncodeToString(sum[:])
}

func encodeCached(res *Result) []byte {
	blob, err := json.Marshal(cachedResponse{Status: res.Status, Headers: res.Headers, Raw: res.Raw})
	if err != nil {
		return nil
	}
	return blob
}

func decodeCached(blob []byte) (*Result, error) {
	var cr cachedResponse
	if err := json.Unmarshal(blob, &cr); err != nil {
		return nil, err
	}
	return &Result{Status: cr.Status, Headers: cr.Headers, Raw: cr.Raw, Attempts: 0}, nil
}
