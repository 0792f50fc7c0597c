package ressync

import (
	"testing"
)

func testModels(rids ...string) []*Model {
	out := make([]*Model, len(rids))
	for i, rid := range rids {
		out[i] = NewModel(nil, rid, map[string]any{"rid": rid})
	}
	return out
}

func TestCollectionAccess(t *testing.T) {
	col := newCollection(nil, "chat.rooms")
	items := testModels("chat.room.1", "chat.room.2", "chat.room.3")
	if err := col.init(items); err != nil {
		t.Fatalf("init: %v", err)
	}

	if col.Len() != 3 {
		t.Fatalf("Len = %d", col.Len())
	}
	if col.Get(1) != items[1] {
		t.Fatal("Get(1) wrong item")
	}
	if col.Get(-1) != nil || col.Get(3) != nil {
		t.Fatal("out-of-range Get must return nil")
	}
	if idx := col.IndexOf(items[2]); idx != 2 {
		t.Fatalf("IndexOf = %d", idx)
	}
	if idx := col.IndexOf(NewModel(nil, "chat.room.9", nil)); idx != -1 {
		t.Fatalf("IndexOf(absent) = %d", idx)
	}
}

func TestCollectionMutation(t *testing.T) {
	col := newCollection(nil, "chat.rooms")
	if err := col.init(testModels("chat.room.1", "chat.room.3")); err != nil {
		t.Fatalf("init: %v", err)
	}

	mid := NewModel(nil, "chat.room.2", nil)
	if err := col.insert(1, mid); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if col.Get(1) != mid || col.Len() != 3 {
		t.Fatal("insert misplaced item")
	}

	if err := col.insert(7, NewModel(nil, "chat.room.9", nil)); err == nil {
		t.Fatal("expected error for out-of-range insert")
	}

	removed := col.removeAt(1)
	if removed != mid || col.Len() != 2 {
		t.Fatal("removeAt wrong item")
	}
	if col.removeAt(5) != nil {
		t.Fatal("out-of-range removeAt must return nil")
	}
}

func TestCollectionIDCallback(t *testing.T) {
	byRID := func(m *Model) string {
		v, _ := m.Get("rid")
		return v.(string)
	}

	t.Run("lookup", func(t *testing.T) {
		col := newCollection(nil, "chat.rooms")
		if err := col.init(testModels("chat.room.1", "chat.room.2")); err != nil {
			t.Fatalf("init: %v", err)
		}
		if err := col.SetIDCallback(byRID); err != nil {
			t.Fatalf("SetIDCallback: %v", err)
		}
		if m := col.GetID("chat.room.2"); m == nil || m.rid != "chat.room.2" {
			t.Fatal("GetID lookup failed")
		}
		if col.GetID("chat.room.9") != nil {
			t.Fatal("GetID for unknown id must return nil")
		}
	})

	t.Run("duplicate on set", func(t *testing.T) {
		col := newCollection(nil, "chat.rooms")
		items := testModels("chat.room.1", "chat.room.1")
		if err := col.init(items); err != nil {
			t.Fatalf("init: %v", err)
		}
		if err := col.SetIDCallback(byRID); err == nil {
			t.Fatal("expected duplicate id error")
		}
	})

	t.Run("duplicate on insert", func(t *testing.T) {
		col := newCollection(nil, "chat.rooms")
		if err := col.init(testModels("chat.room.1")); err != nil {
			t.Fatalf("init: %v", err)
		}
		if err := col.SetIDCallback(byRID); err != nil {
			t.Fatalf("SetIDCallback: %v", err)
		}
		dup := NewModel(nil, "chat.room.1b", map[string]any{"rid": "chat.room.1"})
		if err := col.insert(1, dup); err == nil {
			t.Fatal("expected duplicate id error on insert")
		}
		if col.Len() != 1 {
			t.Fatal("failed insert must not modify the collection")
		}
	})

	t.Run("id index uses inserted item", func(t *testing.T) {
		col := newCollection(nil, "chat.rooms")
		if err := col.init(nil); err != nil {
			t.Fatalf("init: %v", err)
		}
		if err := col.SetIDCallback(byRID); err != nil {
			t.Fatalf("SetIDCallback: %v", err)
		}
		m := NewModel(nil, "chat.room.5", map[string]any{"rid": "chat.room.5"})
		if err := col.insert(0, m); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if col.GetID("chat.room.5") != m {
			t.Fatal("inserted item missing from id index")
		}
		if col.removeAt(0) != m {
			t.Fatal("removeAt wrong item")
		}
		if col.GetID("chat.room.5") != nil {
			t.Fatal("removed item still in id index")
		}
	})
}

func TestCollectionModelsIsCopy(t *testing.T) {
	col := newCollection(nil, "chat.rooms")
	if err := col.init(testModels("chat.room.1")); err != nil {
		t.Fatalf("init: %v", err)
	}
	list := col.Models()
	list[0] = nil
	if col.Get(0) == nil {
		t.Fatal("Models must return a copy")
	}
}
