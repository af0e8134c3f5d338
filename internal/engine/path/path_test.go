package path

import (
	"reflect"
	"testing"
)

func doc() map[string]interface{} {
	return map[string]interface{}{
		"user": map[string]interface{}{
			"name": "Ada",
			"tags": []interface{}{"admin", "ops"},
		},
		"items": []interface{}{
			map[string]interface{}{"id": "a1", "qty": float64(3)},
			map[string]interface{}{"id": "b2", "qty": float64(7)},
		},
		"matrix": []interface{}{
			[]interface{}{float64(1), float64(2)},
		},
	}
}

func TestGet(t *testing.T) {
	d := doc()
	cases := []struct {
		path string
		want interface{}
		ok   bool
	}{
		{"user.name", "Ada", true},
		{"user.tags[1]", "ops", true},
		{"items[0].id", "a1", true},
		{"matrix[0][1]", float64(2), true},
		{"items[5].id", nil, false},
		{"user.missing", nil, false},
		{"user.name.deeper", nil, false},
		{"items[0].qty", float64(3), true},
	}
	for _, tc := range cases {
		got, ok := Get(d, tc.path)
		if ok != tc.ok {
			t.Fatalf("Get(%q) ok = %v, want %v", tc.path, ok, tc.ok)
		}
		if ok && !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Get(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestGetNeverMutates(t *testing.T) {
	d := doc()
	Get(d, "items[1].qty")
	Get(d, "nope[3].x")
	if len(d) != 3 {
		t.Fatalf("document grew to %d keys", len(d))
	}
}

func TestSetCreatesIntermediates(t *testing.T) {
	d := map[string]interface{}{}
	if err := Set(d, "order.customer.name", "Grace"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := Get(d, "order.customer.name")
	if !ok || got != "Grace" {
		t.Fatalf("round trip failed: %v %v", got, ok)
	}
}

func TestSetExtendsSlices(t *testing.T) {
	d := map[string]interface{}{}
	if err := Set(d, "rows[2].id", "r3"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	rows, ok := d["rows"].([]interface{})
	if !ok || len(rows) != 3 {
		t.Fatalf("rows = %#v", d["rows"])
	}
	if rows[0] != nil || rows[1] != nil {
		t.Fatalf("padding not nil: %#v", rows)
	}
	if got, _ := Get(d, "rows[2].id"); got != "r3" {
		t.Fatalf("rows[2].id = %v", got)
	}
}

func TestSetOverwritesInPlace(t *testing.T) {
	d := doc()
	if err := Set(d, "items[1].qty", float64(9)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := Get(d, "items[1].qty"); got != float64(9) {
		t.Fatalf("qty = %v", got)
	}
	// Sibling untouched.
	if got, _ := Get(d, "items[0].qty"); got != float64(3) {
		t.Fatalf("sibling changed: %v", got)
	}
}

func TestSetRejectsScalarTraversal(t *testing.T) {
	d := doc()
	if err := Set(d, "user.name.first", "x"); err == nil {
		t.Fatal("expected error traversing string")
	}
	if err := Set(d, "user.name[0]", "x"); err == nil {
		t.Fatal("expected error indexing string")
	}
}

func TestSplitRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		".",
		"a..b",
		"a.",
		"a[x]",
		"a[]",
		"a[1",
		"[0].a",
		"a[0]b",
		"a]b",
		"a[9999999]",
	}
	for _, p := range bad {
		if _, err := Split(p); err == nil {
			t.Fatalf("Split(%q) accepted malformed path", p)
		}
	}
}

func TestReservedSegmentsRejected(t *testing.T) {
	for _, p := range []string{"__proto__.x", "a.constructor", "a.prototype.b"} {
		if _, err := Split(p); err == nil {
			t.Fatalf("Split(%q) accepted reserved segment", p)
		}
		d := doc()
		if err := Set(d, p, "poison"); err == nil {
			t.Fatalf("Set(%q) accepted reserved segment", p)
		}
		if _, ok := Get(d, p); ok {
			t.Fatalf("Get(%q) resolved reserved segment", p)
		}
	}
}

func TestDelete(t *testing.T) {
	d := doc()
	if !Delete(d, "user.name") {
		t.Fatal("Delete user.name = false")
	}
	if _, ok := Get(d, "user.name"); ok {
		t.Fatal("user.name still present")
	}
	if Delete(d, "user.name") {
		t.Fatal("second delete reported true")
	}

	// Slice elements are nilled so positions hold.
	if !Delete(d, "items[0]") {
		t.Fatal("Delete items[0] = false")
	}
	items := d["items"].([]interface{})
	if len(items) != 2 || items[0] != nil {
		t.Fatalf("items = %#v", items)
	}
	if got, _ := Get(d, "items[1].id"); got != "b2" {
		t.Fatalf("items[1].id = %v", got)
	}
}
