package diffcache

import (
	"testing"

	"github.com/ushironoko/rallytui/internal/diffmodel"
	"github.com/ushironoko/rallytui/internal/highlight"
)

func TestBuildPlainZeroHunkPatch(t *testing.T) {
	b := NewBuilder(nil, nil)
	cache := b.BuildPlain(0, "")
	if len(cache.Lines) != 0 {
		t.Errorf("BuildPlain(empty) lines = %d, want 0", len(cache.Lines))
	}
}

func TestBuildPlainMatchesIdentity(t *testing.T) {
	patch := "@@ -1,1 +1,2 @@\n context\n+added\n"
	b := NewBuilder(nil, nil)
	cache := b.BuildPlain(3, patch)

	if !cache.Matches(3, diffmodel.PatchHash(patch)) {
		t.Error("cache does not match its own (fileIndex, patchHash)")
	}
	if cache.Matches(4, diffmodel.PatchHash(patch)) {
		t.Error("cache matched a different fileIndex")
	}
	if cache.Matches(3, diffmodel.PatchHash(patch+"x")) {
		t.Error("cache matched a different patchHash")
	}
}

func TestBuildPlainContentPreserved(t *testing.T) {
	patch := "@@ -1,1 +1,2 @@\n context line\n+added line\n"
	b := NewBuilder(nil, nil)
	cache := b.BuildPlain(0, patch)

	// line 0 is the header, line 1 context, line 2 added
	if len(cache.Lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(cache.Lines))
	}
	got := cache.Interner.Lookup(cache.Lines[1].Spans[0].Content)
	if got != "context line" {
		t.Errorf("context line content = %q, want %q", got, "context line")
	}
	got = cache.Interner.Lookup(cache.Lines[2].Spans[0].Content)
	if got != "added line" {
		t.Errorf("added line content = %q, want %q", got, "added line")
	}
}

func TestBuildPlainNeverEmbedsCommentMarker(t *testing.T) {
	patch := "@@ -1,1 +1,1 @@\n context\n"
	b := NewBuilder(nil, nil)
	cache := b.BuildPlain(0, patch)
	for _, line := range cache.Lines {
		for _, span := range line.Spans {
			content := cache.Interner.Lookup(span.Content)
			if containsMarker(content) {
				t.Errorf("cache line content %q embeds a comment marker", content)
			}
		}
	}
}

func containsMarker(s string) bool {
	for _, r := range s {
		if r == '●' {
			return true
		}
	}
	return false
}

func TestReconstructSourceDropsRemovedLines(t *testing.T) {
	patch := "@@ -1,2 +1,2 @@\n context\n-removed\n+added\n"
	src := ReconstructSource(patch)
	want := "context\nadded\n"
	if src != want {
		t.Errorf("ReconstructSource() = %q, want %q", src, want)
	}
}

func TestInternerReusesIds(t *testing.T) {
	n := NewInterner()
	a := n.Intern("func")
	b := n.Intern("func")
	c := n.Intern("return")
	if a != b {
		t.Errorf("Intern(\"func\") twice returned different ids: %d vs %d", a, b)
	}
	if a == c {
		t.Errorf("distinct tokens got the same id")
	}
	if n.Lookup(a) != "func" || n.Lookup(c) != "return" {
		t.Errorf("Lookup round-trip failed")
	}
}

// TestOverlayResolvesForegroundFromTheme confirms overlay routes each
// capture's foreground through the supplied ThemeStyleCache rather than
// echoing the raw capture name, while still preserving the line's
// diff-colour role.
func TestOverlayResolvesForegroundFromTheme(t *testing.T) {
	theme := highlight.NewThemeStyleCache(map[string]highlight.Style{
		"default":  {Foreground: "#abb2bf"},
		"keyword":  {Foreground: "#c678dd", Bold: true},
	})

	patch := "@@ -1,1 +1,1 @@\n+func main() {}\n"
	b := NewBuilder(nil, nil)
	cache := b.BuildPlain(0, patch)

	lineHighlights := highlight.LineHighlights{
		{{StartCol: 0, EndCol: 4, Name: "keyword.function"}},
	}
	overlay(cache, lineHighlights, 0, theme)

	addedLine := cache.Lines[1]
	if len(addedLine.Spans) < 1 {
		t.Fatalf("expected at least one span on the added line, got %+v", addedLine.Spans)
	}
	first := addedLine.Spans[0]
	if first.Style.Foreground != "#c678dd" || !first.Style.Bold {
		t.Errorf("Spans[0].Style = %+v, want the theme's resolved \"keyword\" style (prefix-matched from \"keyword.function\")", first.Style)
	}
	if first.Style.DiffRole != RoleAdded {
		t.Errorf("Spans[0].Style.DiffRole = %v, want RoleAdded: overlay must preserve the diff tint alongside the theme foreground", first.Style.DiffRole)
	}
}

func TestDetectLanguage(t *testing.T) {
	if got := DetectLanguage("main.go"); got != "go" {
		t.Errorf("DetectLanguage(main.go) = %q, want go", got)
	}
	if got := DetectLanguage("README"); got != "" {
		t.Errorf("DetectLanguage(README) = %q, want empty", got)
	}
}
