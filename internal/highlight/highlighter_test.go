package highlight

import "testing"

func TestThemeStyleCacheResolve(t *testing.T) {
	theme := map[string]Style{
		"default":  {Foreground: "#ffffff"},
		"keyword":  {Foreground: "#ff00ff", Bold: true},
		"function": {Foreground: "#00ffff"},
	}
	cache := NewThemeStyleCache(theme)

	tests := []struct {
		name    string
		capture string
		want    Style
	}{
		{"exact keyword", "keyword", theme["keyword"]},
		{"prefix falls back", "function.call", theme["function"]},
		{"unknown falls back to default", "totally.unknown", theme["default"]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cache.Resolve(tt.capture)
			if got != tt.want {
				t.Errorf("Resolve(%q) = %+v, want %+v", tt.capture, got, tt.want)
			}
		})
	}
}

func TestResolveConflictsIdenticalRangeLastWins(t *testing.T) {
	caps := []Capture{
		{StartCol: 0, EndCol: 5, Name: "variable"},
		{StartCol: 0, EndCol: 5, Name: "function"},
	}
	got := resolveConflicts(caps)
	if len(got) != 1 || got[0].Name != "function" {
		t.Errorf("resolveConflicts() = %+v, want single function capture", got)
	}
}

func TestResolveConflictsNestedInnermostWins(t *testing.T) {
	caps := []Capture{
		{StartCol: 0, EndCol: 10, Name: "string"},
		{StartCol: 3, EndCol: 6, Name: "escape"},
	}
	got := resolveConflicts(caps)

	var sawEscape, sawStringBefore, sawStringAfter bool
	for _, c := range got {
		switch {
		case c.Name == "escape" && c.StartCol == 3 && c.EndCol == 6:
			sawEscape = true
		case c.Name == "string" && c.StartCol == 0 && c.EndCol == 3:
			sawStringBefore = true
		case c.Name == "string" && c.StartCol == 6 && c.EndCol == 10:
			sawStringAfter = true
		}
	}
	if !sawEscape || !sawStringBefore || !sawStringAfter {
		t.Errorf("resolveConflicts() = %+v, want string split around nested escape", got)
	}
}

func TestComputeLineStartsAndLineOf(t *testing.T) {
	src := []byte("abc\ndef\nghi")
	starts := computeLineStarts(src)
	want := []uint{0, 4, 8}
	if len(starts) != len(want) {
		t.Fatalf("computeLineStarts() = %v, want %v", starts, want)
	}
	for i := range want {
		if starts[i] != want[i] {
			t.Errorf("computeLineStarts()[%d] = %d, want %d", i, starts[i], want[i])
		}
	}

	if l := lineOf(starts, 5); l != 1 {
		t.Errorf("lineOf(5) = %d, want 1", l)
	}
	if l := lineOf(starts, 0); l != 0 {
		t.Errorf("lineOf(0) = %d, want 0", l)
	}
	if l := lineOf(starts, 10); l != 2 {
		t.Errorf("lineOf(10) = %d, want 2", l)
	}
}

func TestAppendCaptureSplitByLineCrossLine(t *testing.T) {
	src := []byte("aaa\nbbb\nccc")
	starts := computeLineStarts(src)
	result := make(LineHighlights, 3)

	// Capture spans from byte 1 ("aaa"[1]) through byte 6 ("bbb"[2]),
	// crossing the newline between line 0 and line 1.
	appendCaptureSplitByLine(result, starts, 1, 6, "string")

	if len(result[0]) != 1 || result[0][0].StartCol != 1 || result[0][0].EndCol != 3 {
		t.Errorf("line 0 captures = %+v", result[0])
	}
	if len(result[1]) != 1 || result[1][0].StartCol != 0 || result[1][0].EndCol != 2 {
		t.Errorf("line 1 captures = %+v", result[1])
	}
	if len(result[2]) != 0 {
		t.Errorf("line 2 captures = %+v, want none (capture must not leak past its range)", result[2])
	}
}

func TestDetectLang(t *testing.T) {
	tests := []struct {
		path string
		want Lang
		ok   bool
	}{
		{"main.go", LangGo, true},
		{"app.tsx", LangTSX, true},
		{"app.ts", LangTypeScript, true},
		{"index.js", LangJavaScript, true},
		{"script.py", LangPython, true},
		{"App.svelte", LangSvelte, true},
		{"README.md", "", false},
	}
	for _, tt := range tests {
		got, ok := DetectLang(tt.path)
		if ok != tt.ok || got != tt.want {
			t.Errorf("DetectLang(%q) = (%q, %v), want (%q, %v)", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}
