package ressync

import (
	"encoding/json"
	"reflect"
	"testing"
)

// ============================================================================
// patchDiff
// ============================================================================

// applyDiff replays the diff against a and returns the result: removals in
// emitted order (each index valid at removal time), then insertions at
// their final indices.
func applyDiff(t *testing.T, a, b []string) []string {
	t.Helper()
	keeps, removes, adds := patchDiff(a, b)

	for _, k := range keeps {
		if a[k.ai] != b[k.bi] {
			t.Fatalf("keep pairs mismatched elements: a[%d]=%s b[%d]=%s", k.ai, a[k.ai], k.bi, b[k.bi])
		}
	}

	out := append([]string(nil), a...)
	for _, idx := range removes {
		if idx < 0 || idx >= len(out) {
			t.Fatalf("remove index %d out of range (len %d)", idx, len(out))
		}
		out = append(out[:idx], out[idx+1:]...)
	}
	for _, bi := range adds {
		if bi < 0 || bi > len(out) {
			t.Fatalf("add index %d out of range (len %d)", bi, len(out))
		}
		out = append(out, "")
		copy(out[bi+1:], out[bi:])
		out[bi] = b[bi]
	}
	return out
}

func TestPatchDiff(t *testing.T) {
	cases := []struct {
		name string
		a, b []string
	}{
		{name: "no-op", a: []string{"a", "b", "c"}, b: []string{"a", "b", "c"}},
		{name: "both empty", a: nil, b: nil},
		{name: "pure insert", a: nil, b: []string{"x", "y"}},
		{name: "pure remove", a: []string{"x", "y"}, b: nil},
		{name: "insert middle", a: []string{"a", "c"}, b: []string{"a", "b", "c"}},
		{name: "remove middle", a: []string{"a", "b", "c"}, b: []string{"a", "c"}},
		{name: "swap", a: []string{"a", "b"}, b: []string{"b", "a"}},
		{name: "rotate", a: []string{"a", "b", "c"}, b: []string{"c", "a", "b"}},
		{name: "replace all", a: []string{"a", "b"}, b: []string{"x", "y"}},
		{name: "mixed", a: []string{"a", "b", "c"}, b: []string{"a", "c", "d"}},
		{name: "long tail", a: []string{"a", "b", "c", "d", "e"}, b: []string{"a", "x", "c", "d", "e"}},
		{name: "duplicates", a: []string{"a", "a", "b"}, b: []string{"a", "b", "a"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := applyDiff(t, tc.a, tc.b)
			want := tc.b
			if want == nil {
				want = []string{}
			}
			if len(got) == 0 && len(want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("applied diff = %v, want %v", got, want)
			}
		})
	}
}

func TestPatchDiffNoOpEmitsNothing(t *testing.T) {
	keeps, removes, adds := patchDiff([]string{"a", "b"}, []string{"a", "b"})
	if len(removes) != 0 || len(adds) != 0 {
		t.Fatalf("unexpected ops: removes=%v adds=%v", removes, adds)
	}
	if len(keeps) != 2 {
		t.Fatalf("expected 2 keeps, got %v", keeps)
	}
}

func TestPatchDiffRemoveBeforeAdd(t *testing.T) {
	// A remove and an add meeting at one index delete before inserting.
	_, removes, adds := patchDiff([]string{"a", "b", "c"}, []string{"a", "c", "d"})
	if !reflect.DeepEqual(removes, []int{1}) {
		t.Fatalf("removes = %v, want [1]", removes)
	}
	if !reflect.DeepEqual(adds, []int{2}) {
		t.Fatalf("adds = %v, want [2]", adds)
	}
}

func TestPatchDiffRemovesDescend(t *testing.T) {
	_, removes, _ := patchDiff([]string{"a", "b", "c", "d"}, nil)
	want := []int{3, 2, 1, 0}
	if !reflect.DeepEqual(removes, want) {
		t.Fatalf("removes = %v, want %v", removes, want)
	}
}

// ============================================================================
// Change delta translation
// ============================================================================

func TestTranslateChangeDelta(t *testing.T) {
	t.Run("primitives pass through", func(t *testing.T) {
		delta, err := translateChangeDelta(json.RawMessage(`{"a": 1, "b": "x", "c": true, "d": null}`))
		if err != nil {
			t.Fatalf("translate: %v", err)
		}
		want := map[string]any{"a": float64(1), "b": "x", "c": true, "d": nil}
		if !reflect.DeepEqual(delta, want) {
			t.Fatalf("delta = %v, want %v", delta, want)
		}
	})

	t.Run("delete sentinel", func(t *testing.T) {
		delta, err := translateChangeDelta(json.RawMessage(`{"a": {"action": "delete"}}`))
		if err != nil {
			t.Fatalf("translate: %v", err)
		}
		if delta["a"] != any(Deleted) {
			t.Fatalf("expected Deleted, got %v", delta["a"])
		}
	})

	t.Run("other objects rejected", func(t *testing.T) {
		for _, payload := range []string{
			`{"a": {"action": "rename"}}`,
			`{"a": {"nested": 1}}`,
			`{"a": [1, 2]}`,
		} {
			if _, err := translateChangeDelta(json.RawMessage(payload)); err == nil {
				t.Errorf("expected error for %s", payload)
			}
		}
	})

	t.Run("malformed", func(t *testing.T) {
		if _, err := translateChangeDelta(json.RawMessage(`[1]`)); err == nil {
			t.Error("expected error for array payload")
		}
	})
}
