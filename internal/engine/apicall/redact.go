package apicall

import (
	"net/http"
	"strings"

	"github.com/schemaflow/platform/internal/engine/expr"
)

// redactedPlaceholder replaces secret material wherever it would otherwise
// surface in errors, logs or persisted execution records.
const redactedPlaceholder = "***"

// sensitiveHeaders are always masked in logs and previews regardless of the
// secrets that produced them.
var sensitiveHeaders = map[string]struct{}{
	"Authorization":       {},
	"Cookie":              {},
	"Set-Cookie":          {},
	"X-Api-Key":           {},
	"Proxy-Authorization": {},
}

// Redactor removes known secret values from text. Build one from the call
// document so every rendered secret is covered, then apply it to anything
// that leaves the orchestrator.
type Redactor struct {
	values []string
}

// NewRedactor collects the secret values of doc (everything under the
// "secrets" key). Values shorter than four characters are ignored since
// masking them would mangle unrelated text.
func NewRedactor(doc expr.Context) *Redactor {
	r := &Redactor{}
	secrets, ok := doc["secrets"].(map[string]interface{})
	if !ok {
		return r
	}
	for _, v := range secrets {
		s, ok := v.(string)
		if !ok || len(s) < 4 {
			continue
		}
		r.values = append(r.values, s)
	}
	return r
}

// Apply masks every known secret value in s.
func (r *Redactor) Apply(s string) string {
	for _, v := range r.values {
		s = strings.ReplaceAll(s, v, redactedPlaceholder)
	}
	return s
}

// ApplyBytes masks secrets in a byte slice, returning a copy when anything
// changed.
func (r *Redactor) ApplyBytes(b []byte) []byte {
	if len(r.values) == 0 {
		return b
	}
	return []byte(r.Apply(string(b)))
}

// ApplyError masks secrets inside an error message. The error identity is
// not preserved; redacted errors are for reporting, not matching.
func (r *Redactor) ApplyError(err error) error {
	if err == nil {
		return nil
	}
	masked := r.Apply(err.Error())
	if masked == err.Error() {
		return err
	}
	return redactedError{msg: masked}
}

type redactedError struct{ msg string }

func (e redactedError) Error() string { return e.msg }

// RedactHeaders returns a flat copy of headers with sensitive entries masked
// and secret values removed everywhere else.
func (r *Redactor) RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, vals := range h {
		if _, sensitive := sensitiveHeaders[http.CanonicalHeaderKey(name)]; sensitive {
			out[name] = redactedPlaceholder
			continue
		}
		out[name] = r.Apply(strings.Join(vals, ", "))
	}
	return out
}
