package command

import (
	"testing"
)

func TestDispatch(t *testing.T) {
	t.Run("longest prefix wins", func(t *testing.T) {
		d := New(nil)
		d.Register("h", func(string) string { return "short" })
		d.Register("heizung", func(string) string { return "long" })

		if got := d.Dispatch("heizung küche 21"); got != "long" {
			t.Errorf("Dispatch() = %q, want %q", got, "long")
		}
		if got := d.Dispatch("hallo"); got != "short" {
			t.Errorf("Dispatch() = %q, want %q", got, "short")
		}
	})

	t.Run("case insensitive", func(t *testing.T) {
		d := New(nil)
		d.Register("help", func(string) string { return "usage" })

		if got := d.Dispatch("HELP"); got != "usage" {
			t.Errorf("Dispatch(HELP) = %q, want %q", got, "usage")
		}
		if got := d.Dispatch("Help me"); got != "usage" {
			t.Errorf("Dispatch(Help me) = %q, want %q", got, "usage")
		}
	})

	t.Run("no match returns fallback", func(t *testing.T) {
		d := New(nil)
		d.Register("help", func(string) string { return "usage" })

		if got := d.Dispatch("frobnicate"); got != FallbackReply {
			t.Errorf("Dispatch() = %q, want fallback %q", got, FallbackReply)
		}
	})

	t.Run("empty registry returns fallback", func(t *testing.T) {
		d := New(nil)
		if got := d.Dispatch("anything"); got != FallbackReply {
			t.Errorf("Dispatch() = %q, want fallback %q", got, FallbackReply)
		}
	})

	t.Run("equal length keeps first registration", func(t *testing.T) {
		d := New(nil)
		d.Register("auto", func(string) string { return "first" })
		d.Register("auto", func(string) string { return "second" })

		if got := d.Dispatch("auto"); got != "first" {
			t.Errorf("Dispatch() = %q, want %q", got, "first")
		}
	})

	t.Run("handler receives lowercased message", func(t *testing.T) {
		d := New(nil)
		var seen string
		d.Register("heizung", func(message string) string {
			seen = message
			return "ok"
		})

		d.Dispatch("HEIZUNG Küche 21,5")
		if seen != "heizung küche 21,5" {
			t.Errorf("handler message = %q, want lowercased", seen)
		}
	})
}

func TestVerbs(t *testing.T) {
	d := New(nil)
	d.Register("Help", nil)
	d.Register("hallo", nil)

	verbs := d.Verbs()
	want := []string{"help", "hallo"}
	if len(verbs) != len(want) {
		t.Fatalf("Verbs() = %v, want %v", verbs, want)
	}
	for i := range want {
		if verbs[i] != want[i] {
			t.Errorf("Verbs()[%d] = %q, want %q", i, verbs[i], want[i])
		}
	}
}
