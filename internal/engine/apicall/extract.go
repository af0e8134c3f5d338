package apicall

import (
	"net/http"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"
)

// resolveSelector evaluates one response selector. JSONPath selectors start
// with "$" and run against the decoded body; "status" and "headers.<Name>"
// read the response envelope; anything else is a gjson path over the raw
// body. A selector that matches nothing returns (nil, false) rather than an
// error, mirroring how absent fields behave in templates.
func resolveSelector(selector string, status int, headers http.Header, body interface{}, raw []byte) (interface{}, bool) {
	switch {
	case selector == "status":
		return float64(status), true
	case strings.HasPrefix(selector, "headers."):
		name := strings.TrimPrefix(selector, "headers.")
		v := headers.Get(name)
		if v == "" {
			return nil, false
		}
		return v, true
	case strings.HasPrefix(selector, "$"):
		v, err := jsonpath.Get(selector, body)
		if err != nil {
			return nil, false
		}
		return v, true
	default:
		res := gjson.GetBytes(raw, selector)
		if !res.Exists() {
			return nil, false
		}
		return res.Value(), true
	}
}

// truthy reports whether an extracted value should be treated as present for
// error-path purposes: anything but nil, false, zero and empty string/list.
func truthy(v interface{}) bool {
	switch tv := v.(type) {
	case nil:
		return false
	case bool:
		return tv
	case string:
		return tv != ""
	case float64:
		return tv != 0
	case []interface{}:
		return len(tv) > 0
	case map[string]interface{}:
		return len(tv) > 0
	default:
		return true
	}
}
