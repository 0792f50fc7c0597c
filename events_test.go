package ressync

import (
	"testing"
)

func TestEventBus(t *testing.T) {
	t.Run("dispatch order", func(t *testing.T) {
		bus := newEventBus()
		target := &struct{}{}
		var order []int
		bus.on(target, "change", func(string, any) { order = append(order, 1) })
		bus.on(target, "change", func(string, any) { order = append(order, 2) })
		bus.emit(target, "change", "change", nil)
		if len(order) != 2 || order[0] != 1 || order[1] != 2 {
			t.Fatalf("dispatch order = %v", order)
		}
	})

	t.Run("multiple event names", func(t *testing.T) {
		bus := newEventBus()
		target := &struct{}{}
		var count int
		h := func(string, any) { count++ }
		bus.on(target, "add remove", h)
		bus.emit(target, "add", "add", nil)
		bus.emit(target, "remove", "remove", nil)
		bus.emit(target, "change", "change", nil)
		if count != 2 {
			t.Fatalf("count = %d", count)
		}
	})

	t.Run("off detaches", func(t *testing.T) {
		bus := newEventBus()
		target := &struct{}{}
		var count int
		h := func(string, any) { count++ }
		bus.on(target, "change", h)
		bus.off(target, "change", h)
		bus.emit(target, "change", "change", nil)
		if count != 0 {
			t.Fatalf("handler fired after off")
		}
	})

	t.Run("off removes one attachment", func(t *testing.T) {
		bus := newEventBus()
		target := &struct{}{}
		var count int
		h := func(string, any) { count++ }
		bus.on(target, "change", h)
		bus.on(target, "change", h)
		bus.off(target, "change", h)
		bus.emit(target, "change", "change", nil)
		if count != 1 {
			t.Fatalf("count = %d, want 1", count)
		}
	})

	t.Run("targets are independent", func(t *testing.T) {
		bus := newEventBus()
		t1, t2 := new(int), new(int)
		var count int
		bus.on(t1, "change", func(string, any) { count++ })
		bus.emit(t2, "change", "change", nil)
		if count != 0 {
			t.Fatal("handler fired for wrong target")
		}
	})

	t.Run("panicking handler is contained", func(t *testing.T) {
		bus := newEventBus()
		target := &struct{}{}
		var reached bool
		bus.on(target, "change", func(string, any) { panic("boom") })
		bus.on(target, "change", func(string, any) { reached = true })
		bus.emit(target, "change", "change", nil)
		if !reached {
			t.Fatal("panic stopped dispatch")
		}
	})

	t.Run("display name reaches handler", func(t *testing.T) {
		bus := newEventBus()
		target := &struct{}{}
		var got string
		bus.on(target, "goal", func(event string, _ any) { got = event })
		bus.emit(target, "goal", "ressync.resource.match.1.goal", nil)
		if got != "ressync.resource.match.1.goal" {
			t.Fatalf("event = %q", got)
		}
	})
}
