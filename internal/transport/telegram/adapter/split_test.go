package adapter

import (
	"strings"
	"testing"
)

func TestSplitShortTextUnchanged(t *testing.T) {
	got := splitTelegramText("hello", 100, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("unexpected split: %v", got)
	}
}

func TestSplitPrefersNewlines(t *testing.T) {
	text := strings.Repeat("x", 60) + "\n" + strings.Repeat("y", 60)
	got := splitTelegramText(text, 100, "")
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(got), got)
	}
	if !strings.HasSuffix(got[0], "x") || !strings.HasPrefix(got[1], "y") {
		t.Fatalf("split should land on the newline: %v", got)
	}
}

func TestSplitAvoidsDanglingHTMLTag(t *testing.T) {
	head := strings.Repeat("a", 95)
	text := head + "<b>bold content</b>" + strings.Repeat("z", 50)
	got := splitTelegramText(text, 100, "HTML")
	if len(got) < 2 {
		t.Fatalf("expected a split, got %v", got)
	}
	if strings.Count(got[0], "<") != strings.Count(got[0], ">") {
		t.Fatalf("first chunk ends inside a tag: %q", got[0])
	}
}

func TestSplitCoversAllRunes(t *testing.T) {
	text := strings.Repeat("日本語テキスト\n", 100)
	got := splitTelegramText(text, 50, "")
	var total int
	for _, c := range got {
		if c == "" {
			t.Fatal("empty chunk produced")
		}
		if n := len([]rune(c)); n > 50 {
			t.Fatalf("chunk exceeds limit: %d runes", n)
		}
		total += len([]rune(strings.ReplaceAll(c, "\n", "")))
	}
	want := len([]rune(strings.ReplaceAll(text, "\n", "")))
	if total != want {
		t.Fatalf("content lost in split: got %d runes, want %d", total, want)
	}
}
