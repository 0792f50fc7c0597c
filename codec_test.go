package ressync

import (
	"testing"
)

func TestDecodeMessage(t *testing.T) {
	t.Run("response", func(t *testing.T) {
		msg, err := decodeMessage([]byte(`{"id": 3, "result": {"data": {}}}`))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.ID == nil || *msg.ID != 3 || msg.Event != "" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	})

	t.Run("error response", func(t *testing.T) {
		msg, err := decodeMessage([]byte(`{"id": 4, "error": {"code": "system.notFound", "message": "Not found"}}`))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Error == nil || msg.Error.Code != "system.notFound" {
			t.Fatalf("unexpected error field: %+v", msg.Error)
		}
	})

	t.Run("event", func(t *testing.T) {
		msg, err := decodeMessage([]byte(`{"event": "api.user.1.change", "data": {"name": "B"}}`))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.ID != nil || msg.Event != "api.user.1.change" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		for _, payload := range []string{`not json`, `{"neither": true}`, `[]`} {
			if _, err := decodeMessage([]byte(payload)); err == nil {
				t.Errorf("expected error for %s", payload)
			}
		}
	})
}

func TestSplitEvent(t *testing.T) {
	cases := []struct {
		in        string
		rid, name string
		fails     bool
	}{
		{in: "api.user.1.change", rid: "api.user.1", name: "change"},
		{in: "a.b", rid: "a", name: "b"},
		{in: "api.user.1.custom", rid: "api.user.1", name: "custom"},
		{in: "noseparator", fails: true},
		{in: "trailing.", fails: true},
		{in: ".leading", fails: true},
		{in: "", fails: true},
	}
	for _, tc := range cases {
		rid, name, err := splitEvent(tc.in)
		if tc.fails {
			if err == nil {
				t.Errorf("splitEvent(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || rid != tc.rid || name != tc.name {
			t.Errorf("splitEvent(%q) = %q, %q, %v; want %q, %q", tc.in, rid, name, err, tc.rid, tc.name)
		}
	}
}

func TestTypePrefix(t *testing.T) {
	cases := []struct{ in, want string }{
		{in: "api.user.42", want: "api.user"},
		{in: "api.user", want: "api.user"},
		{in: "api", want: "api"},
		{in: "a.b.c.d", want: "a.b"},
		{in: "", want: ""},
	}
	for _, tc := range cases {
		if got := typePrefix(tc.in); got != tc.want {
			t.Errorf("typePrefix(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
