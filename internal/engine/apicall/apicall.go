// Package apicall executes declarative API mappings: outbound HTTP requests
// whose URL, headers, query and body are templates rendered against a
// document, with retries, host allow-listing, JSON/text content negotiation,
// secret redaction and response field extraction.
package apicall

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/schemaflow/platform/internal/engine/path"
)

// Auth kinds.
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthBasic  = "basic"
	AuthHeader = "header"
)

// Mapping is the declarative request/response configuration for one outbound
// call. String fields are templates evaluated against the call document;
// secret values are exposed to templates under "secrets.".
type Mapping struct {
	Key          string            `json:"key,omitempty"`
	Method       string            `json:"method,omitempty"`
	URL          string            `json:"url"`
	Headers      map[string]string `json:"headers,omitempty"`
	Query        map[string]string `json:"query,omitempty"`
	Body         interface{}       `json:"body,omitempty"`
	Auth         *Auth             `json:"auth,omitempty"`
	TimeoutMs    int               `json:"timeout_ms,omitempty"`
	Retry        *Retry            `json:"retry,omitempty"`
	Response     *Response         `json:"response,omitempty"`
	AllowedHosts []string          `json:"allowed_hosts,omitempty"`
	CacheTTLMs   int               `json:"cache_ttl_ms,omitempty"`
	TransformKey string            `json:"transform,omitempty"`
	Secrets      []string          `json:"secrets,omitempty"`
}

// Auth attaches credentials to the request. Secret names reference the
// tenant secret store; values are resolved into the call document by the
// caller's owner and never leave redaction.
type Auth struct {
	Kind   string `json:"kind"`
	Secret string `json:"secret,omitempty"`
	User   string `json:"user,omitempty"`
	Header string `json:"header,omitempty"`
}

// Retry controls re-execution on failure. RetryOn lists HTTP status codes;
// a single digit is a class (5 retries any 5xx). Empty defaults to 5xx plus
// 429. Transport errors always retry.
type Retry struct {
	Max       int   `json:"max,omitempty"`
	BackoffMs int   `json:"backoff_ms,omitempty"`
	RetryOn   []int `json:"retry_on,omitempty"`
}

// Response describes post-processing of the HTTP response. ErrorPath is a
// selector that, when it resolves to a truthy value, fails the call. Extract
// maps document target paths to selectors evaluated against the response.
//
// Selector forms: "$.." JSONPath expressions, dotted gjson paths against the
// raw body, and the pseudo-selectors "status" and "headers.<Name>".
type Response struct {
	ErrorPath string            `json:"error_path,omitempty"`
	Extract   map[string]string `json:"extract,omitempty"`
}

var knownMethods = map[string]struct{}{
	http.MethodGet: {}, http.MethodPost: {}, http.MethodPut: {},
	http.MethodPatch: {}, http.MethodDelete: {}, http.MethodHead: {},
}

// Validate checks a mapping structurally without rendering or executing it.
func Validate(m Mapping) error {
	if strings.TrimSpace(m.URL) == "" {
		return fmt.Errorf("apicall: mapping has no url")
	}
	if m.Method != "" {
		if _, ok := knownMethods[strings.ToUpper(m.Method)]; !ok {
			return fmt.Errorf("apicall: unsupported method %q", m.Method)
		}
	}
	if m.Auth != nil {
		switch m.Auth.Kind {
		case AuthNone:
		case AuthBearer, AuthBasic:
			if m.Auth.Secret == "" {
				return fmt.Errorf("apicall: %s auth requires a secret name", m.Auth.Kind)
			}
		case AuthHeader:
			if m.Auth.Secret == "" || m.Auth.Header == "" {
				return fmt.Errorf("apicall: header auth requires a secret name and header")
			}
		default:
			return fmt.Errorf("apicall: unknown auth kind %q", m.Auth.Kind)
		}
	}
	if m.Retry != nil {
		if m.Retry.Max < 0 || m.Retry.Max > 10 {
			return fmt.Errorf("apicall: retry max %d out of range [0,10]", m.Retry.Max)
		}
		if m.Retry.BackoffMs < 0 {
			return fmt.Errorf("apicall: negative retry backoff")
		}
		for _, code := range m.Retry.RetryOn {
			if !(code >= 1 && code <= 5) && !(code >= 100 && code <= 599) {
				return fmt.Errorf("apicall: retry_on entry %d is neither a class nor a status", code)
			}
		}
	}
	if m.TimeoutMs < 0 {
		return fmt.Errorf("apicall: negative timeout")
	}
	if m.CacheTTLMs < 0 {
		return fmt.Errorf("apicall: negative cache ttl")
	}
	if m.CacheTTLMs > 0 && m.Method != "" && !strings.EqualFold(m.Method, http.MethodGet) {
		return fmt.Errorf("apicall: cache is limited to GET mappings")
	}
	method := strings.ToUpper(m.Method)
	if method == "" {
		method = http.MethodGet
	}
	if m.Body != nil && (method == http.MethodGet || method == http.MethodHead) {
		return fmt.Errorf("apicall: %s mappings cannot carry a body", method)
	}
	if m.Response != nil {
		for target := range m.Response.Extract {
			if _, err := path.Split(target); err != nil {
				return fmt.Errorf("apicall: extract target: %w", err)
			}
		}
	}
	for _, name := range m.Secrets {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("apicall: blank secret name")
		}
	}
	if m.Auth != nil && m.Auth.Secret != "" && !containsName(m.Secrets, m.Auth.Secret) {
		return fmt.Errorf("apicall: auth secret %q is not declared in secrets", m.Auth.Secret)
	}
	return nil
}

func containsName(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
