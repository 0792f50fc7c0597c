package ressync

import (
	"reflect"
	"testing"
)

func TestModelUpdate(t *testing.T) {
	t.Run("changed key reports old value", func(t *testing.T) {
		m := NewModel(nil, "api.user.1", map[string]any{"name": "A", "age": float64(30)})
		old := m.update(map[string]any{"name": "B"})
		if !reflect.DeepEqual(old, map[string]any{"name": "A"}) {
			t.Fatalf("old = %v", old)
		}
		if v, _ := m.Get("name"); v != "B" {
			t.Fatalf("name = %v", v)
		}
		if v, _ := m.Get("age"); v != float64(30) {
			t.Fatalf("age = %v", v)
		}
	})

	t.Run("unchanged key omitted", func(t *testing.T) {
		m := NewModel(nil, "api.user.1", map[string]any{"name": "A"})
		if old := m.update(map[string]any{"name": "A"}); old != nil {
			t.Fatalf("expected nil, got %v", old)
		}
	})

	t.Run("new key reports Deleted as old", func(t *testing.T) {
		m := NewModel(nil, "api.user.1", map[string]any{})
		old := m.update(map[string]any{"name": "A"})
		if old["name"] != any(Deleted) {
			t.Fatalf("old = %v", old)
		}
	})

	t.Run("deleted key removed", func(t *testing.T) {
		m := NewModel(nil, "api.user.1", map[string]any{"name": "A"})
		old := m.update(map[string]any{"name": Deleted})
		if !reflect.DeepEqual(old, map[string]any{"name": "A"}) {
			t.Fatalf("old = %v", old)
		}
		if _, ok := m.Get("name"); ok {
			t.Fatal("key not removed")
		}
	})

	t.Run("deleting absent key is a no-op", func(t *testing.T) {
		m := NewModel(nil, "api.user.1", map[string]any{})
		if old := m.update(map[string]any{"name": Deleted}); old != nil {
			t.Fatalf("expected nil, got %v", old)
		}
	})

	t.Run("null value is a value", func(t *testing.T) {
		m := NewModel(nil, "api.user.1", map[string]any{"name": "A"})
		old := m.update(map[string]any{"name": nil})
		if !reflect.DeepEqual(old, map[string]any{"name": "A"}) {
			t.Fatalf("old = %v", old)
		}
		if v, ok := m.Get("name"); !ok || v != nil {
			t.Fatal("expected null value to be stored")
		}
	})
}

// TestModelMergeRoundTrip checks that ingesting a snapshot and applying a
// delta yields the key-wise merge of the two, with deletes removing keys.
func TestModelMergeRoundTrip(t *testing.T) {
	snapshot := map[string]any{"a": float64(1), "b": "x", "c": true}
	delta := map[string]any{"a": float64(2), "b": Deleted, "d": "new"}

	m := NewModel(nil, "api.user.1", snapshot)
	m.update(delta)

	want := map[string]any{"a": float64(2), "c": true, "d": "new"}
	if got := m.Props(); !reflect.DeepEqual(got, want) {
		t.Fatalf("merged = %v, want %v", got, want)
	}
}

func TestModelProps(t *testing.T) {
	m := NewModel(nil, "api.user.1", map[string]any{"name": "A"})
	props := m.Props()
	props["name"] = "mutated"
	if v, _ := m.Get("name"); v != "A" {
		t.Fatal("Props must return a copy")
	}
}
