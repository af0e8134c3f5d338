package expr

import (
	"reflect"
	"strings"
	"testing"
)

func testCtx() Context {
	return Context{
		"user": map[string]interface{}{
			"name":  "ada lovelace",
			"email": "ada@example.com",
		},
		"order": map[string]interface{}{
			"total": float64(42.5),
			"items": []interface{}{
				map[string]interface{}{"sku": "X-1"},
				map[string]interface{}{"sku": "Y-2"},
			},
		},
		"flag": true,
	}
}

func TestEvalPathsAndLiterals(t *testing.T) {
	ctx := testCtx()
	cases := []struct {
		expr string
		want interface{}
	}{
		{"user.name", "ada lovelace"},
		{"order.items[1].sku", "Y-2"},
		{"order.total", float64(42.5)},
		{"'hello'", "hello"},
		{`"wor\"ld"`, `wor"ld`},
		{"12.25", float64(12.25)},
		{"-3", float64(-3)},
		{"true", true},
		{"false", false},
		{"null", nil},
		{"missing.path", nil},
	}
	for _, tc := range cases {
		got, err := Eval(tc.expr, ctx)
		if err != nil {
			t.Fatalf("Eval(%q): %v", tc.expr, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Eval(%q) = %#v, want %#v", tc.expr, got, tc.want)
		}
	}
}

func TestEvalBuiltins(t *testing.T) {
	ctx := testCtx()
	cases := []struct {
		expr string
		want interface{}
	}{
		{"upper(user.name)", "ADA LOVELACE"},
		{"lower('AbC')", "abc"},
		{"concat(user.name, ' <', user.email, '>')", "ada lovelace <ada@example.com>"},
		{"concat('n=', order.total)", "n=42.5"},
		{"number('17.5')", float64(17.5)},
		{"number(flag)", float64(1)},
		{"trim('  x  ')", "x"},
		{"default(missing.path, 'fallback')", "fallback"},
		{"default(user.name, 'fallback')", "ada lovelace"},
		{"len(order.items)", float64(2)},
		{"upper(concat('a', 'b'))", "AB"},
		{"json(order.items[0])", `{"sku":"X-1"}`},
	}
	for _, tc := range cases {
		got, err := Eval(tc.expr, ctx)
		if err != nil {
			t.Fatalf("Eval(%q): %v", tc.expr, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Eval(%q) = %#v, want %#v", tc.expr, got, tc.want)
		}
	}
}

func TestEvalErrors(t *testing.T) {
	ctx := testCtx()
	cases := []struct {
		expr    string
		wantSub string
	}{
		{"nope(1)", "unknown function"},
		{"upper()", "upper expects"},
		{"upper('a', 'b')", "upper expects"},
		{"number(order.items)", "unsupported type"},
		{"number(null)", "unsupported type"},
		{"concat('a'", "expected ',' or ')'"},
		{"'unterminated", "unterminated string"},
		{"user.name extra", "unexpected"},
		{"user.__proto__.x", "reserved segment"},
	}
	for _, tc := range cases {
		_, err := Eval(tc.expr, ctx)
		if err == nil {
			t.Fatalf("Eval(%q): expected error", tc.expr)
		}
		if !strings.Contains(err.Error(), tc.wantSub) {
			t.Fatalf("Eval(%q) error = %q, want substring %q", tc.expr, err, tc.wantSub)
		}
	}
}

func TestRender(t *testing.T) {
	ctx := testCtx()
	cases := []struct {
		tmpl string
		want string
	}{
		{"Hello {{ upper(user.name) }}!", "Hello ADA LOVELACE!"},
		{"{{ order.total }}", "42.5"},
		{"total={{order.total}} flag={{flag}}", "total=42.5 flag=true"},
		{"missing: [{{ nothing.here }}]", "missing: []"},
		{"plain text", "plain text"},
		{"", ""},
		{"{{ concat('}}', 'ok') }}", "}}ok"},
	}
	for _, tc := range cases {
		got, err := Render(tc.tmpl, ctx)
		if err != nil {
			t.Fatalf("Render(%q): %v", tc.tmpl, err)
		}
		if got != tc.want {
			t.Fatalf("Render(%q) = %q, want %q", tc.tmpl, got, tc.want)
		}
	}
}

func TestRenderUnterminatedRegion(t *testing.T) {
	if _, err := Render("x {{ user.name", testCtx()); err == nil {
		t.Fatal("expected unterminated region error")
	}
}

func TestRenderValueKeepsTypes(t *testing.T) {
	ctx := testCtx()
	in := map[string]interface{}{
		"label": "total: {{ order.total }}",
		"value": "{{ order.total }}",
		"items": "{{ order.items }}",
		"tags":  []interface{}{"{{ upper('a') }}", "literal"},
		"count": float64(3),
	}
	out, err := RenderValue(in, ctx)
	if err != nil {
		t.Fatalf("RenderValue: %v", err)
	}
	m := out.(map[string]interface{})
	if m["label"] != "total: 42.5" {
		t.Fatalf("label = %v", m["label"])
	}
	if m["value"] != float64(42.5) {
		t.Fatalf("value not typed: %#v", m["value"])
	}
	if _, ok := m["items"].([]interface{}); !ok {
		t.Fatalf("items not a slice: %#v", m["items"])
	}
	tags := m["tags"].([]interface{})
	if tags[0] != "A" || tags[1] != "literal" {
		t.Fatalf("tags = %#v", tags)
	}
	if m["count"] != float64(3) {
		t.Fatalf("count = %v", m["count"])
	}
	// Input map untouched.
	if in["value"] != "{{ order.total }}" {
		t.Fatal("input mutated")
	}
}

func TestStringify(t *testing.T) {
	cases := []struct {
		in   interface{}
		want string
	}{
		{nil, ""},
		{"s", "s"},
		{true, "true"},
		{float64(3), "3"},
		{float64(3.10), "3.1"},
		{map[string]interface{}{"a": float64(1)}, `{"a":1}`},
	}
	for _, tc := range cases {
		if got := Stringify(tc.in); got != tc.want {
			t.Fatalf("Stringify(%#v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
