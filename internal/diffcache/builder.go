// Package diffcache builds the rendered representation of one file's diff
// (spec component C4): interned spans per line, either plain diff-colour
// styling or overlaid with tree-sitter highlighting.
package diffcache

import (
	"strings"

	"github.com/ushironoko/rallytui/internal/diffmodel"
	"github.com/ushironoko/rallytui/internal/highlight"
)

// Style mirrors highlight.Style but also carries the diff-colour role so
// the overlay step can preserve the add/remove tint while swapping in a
// capture's foreground colour.
type Style struct {
	Foreground string
	Bold       bool
	Italic     bool
	DiffRole   DiffRole
}

// DiffRole is the diff-colour background role of a span, independent of
// any syntax-highlight foreground it may also carry.
type DiffRole int

const (
	RoleNone DiffRole = iota
	RoleAdded
	RoleRemoved
	RoleHeader
)

// Span is one interned, styled run of a cached line.
type Span struct {
	Content uint32 // interner id
	Style   Style
}

// CachedLine is one rendered line of a DiffCache.
type CachedLine struct {
	Kind      diffmodel.LineKind
	NewLineno int
	OldLineno int
	Spans     []Span
}

// DiffCache is the rendered representation of one file's diff. It never
// embeds the comment marker; markers are composed at render time from the
// live comment set so the cache stays valid across comment arrivals.
type DiffCache struct {
	FileIndex   int
	PatchHash   uint64
	Lines       []CachedLine
	Interner    *Interner
	Highlighted bool
}

// Matches reports whether this cache is still valid for the given
// (fileIndex, patchHash) identity — the three-tier lookup's core check.
func (c *DiffCache) Matches(fileIndex int, patchHash uint64) bool {
	return c != nil && c.FileIndex == fileIndex && c.PatchHash == patchHash
}

// Builder produces DiffCache values from a patch string and, optionally, a
// highlighter plus a resolved theme for the highlighted build mode.
type Builder struct {
	highlighter *highlight.Highlighter
	theme       *highlight.ThemeStyleCache
}

// NewBuilder constructs a Builder. highlighter may be nil if only plain
// builds will ever be requested; when non-nil, theme resolves each capture
// name to its rendering Style and defaults to highlight.DefaultTheme if nil.
func NewBuilder(highlighter *highlight.Highlighter, theme *highlight.ThemeStyleCache) *Builder {
	if highlighter != nil && theme == nil {
		theme = highlight.NewThemeStyleCache(highlight.DefaultTheme())
	}
	return &Builder{highlighter: highlighter, theme: theme}
}

var (
	styleAdded   = Style{Foreground: "", DiffRole: RoleAdded}
	styleRemoved = Style{Foreground: "", DiffRole: RoleRemoved}
	styleHeader  = Style{Bold: true, DiffRole: RoleHeader}
	styleContext = Style{DiffRole: RoleNone}
)

// BuildPlain parses patch and emits lines with only diff-colour styling.
// This is the sub-millisecond fast path installed immediately on file
// transition, before a highlighted build can complete.
func (b *Builder) BuildPlain(fileIndex int, patch string) *DiffCache {
	parsed := diffmodel.ParsePatch(patch)
	interner := NewInterner()
	cache := &DiffCache{
		FileIndex: fileIndex,
		PatchHash: diffmodel.PatchHash(patch),
		Interner:  interner,
		Lines:     make([]CachedLine, 0),
	}

	for _, hunk := range parsed.Hunks {
		for _, line := range hunk.Lines {
			style := diffStyleFor(line.Kind)
			cache.Lines = append(cache.Lines, CachedLine{
				Kind:      line.Kind,
				NewLineno: line.NewLineno,
				OldLineno: line.OldLineno,
				Spans:     []Span{{Content: interner.Intern(line.Content), Style: style}},
			})
		}
	}

	return cache
}

func diffStyleFor(kind diffmodel.LineKind) Style {
	switch kind {
	case diffmodel.Added:
		return styleAdded
	case diffmodel.Removed:
		return styleRemoved
	case diffmodel.HunkHeader:
		return styleHeader
	default:
		return styleContext
	}
}

// BuildHighlighted builds a plain cache and overlays it with
// highlight.LineHighlights derived from source (a buffer reconstructed
// from added+context lines, optionally preceded by a priming tag). Removed
// lines are never represented in source and always keep their plain
// diff-colour style. primingLines is the number of source lines a priming
// tag prepended to source occupies; BuildHighlighted passes those bytes to
// the highlighter as a virtual region, so their captures are discarded, and
// skips those lines when walking LineHighlights.
func (b *Builder) BuildHighlighted(fileIndex int, patch string, source string, lang highlight.Lang, primingLines int) (*DiffCache, error) {
	cache := b.BuildPlain(fileIndex, patch)
	if b.highlighter == nil {
		return cache, nil
	}

	var virtual []highlight.Region
	if primingLines > 0 {
		end := nthLineStart(source, primingLines)
		virtual = []highlight.Region{{Start: 0, End: end}}
	}

	lineHighlights, err := b.highlighter.Highlight(source, lang, virtual)
	if err != nil {
		// Highlighting failure degrades to the plain build; it is not fatal.
		return cache, nil
	}

	overlay(cache, lineHighlights, primingLines, b.theme)
	cache.Highlighted = true
	return cache, nil
}

func nthLineStart(s string, n int) uint {
	count := 0
	for i, b := range []byte(s) {
		if count == n {
			return uint(i)
		}
		if b == '\n' {
			count++
		}
	}
	return uint(len(s))
}

// overlay walks each non-removed cached line's source-buffer counterpart
// and splits/merges its diff-colour span with the capture spans for that
// line, preserving the background diff tint while the foreground takes the
// capture's colour, resolved per capture name via theme. sourceLineOffset
// accounts for any priming lines prepended to the highlighted buffer that
// don't correspond to a cached line.
func overlay(cache *DiffCache, lineHighlights highlight.LineHighlights, sourceLineOffset int, theme *highlight.ThemeStyleCache) {
	sourceLine := sourceLineOffset
	for i := range cache.Lines {
		line := &cache.Lines[i]
		if line.Kind == diffmodel.Removed || line.Kind == diffmodel.HunkHeader {
			continue // removed/header lines are never part of the reconstructed source
		}
		if sourceLine >= len(lineHighlights) {
			sourceLine++
			continue
		}
		captures := lineHighlights[sourceLine]
		sourceLine++

		if len(captures) == 0 {
			continue
		}

		content := cache.Interner.Lookup(line.Spans[0].Content)
		role := line.Spans[0].Style.DiffRole

		newSpans := make([]Span, 0, len(captures)*2+1)
		cursor := 0
		for _, cap := range captures {
			if cap.StartCol > cursor {
				newSpans = append(newSpans, Span{
					Content: cache.Interner.Intern(content[cursor:cap.StartCol]),
					Style:   Style{DiffRole: role},
				})
			}
			end := cap.EndCol
			if end > len(content) {
				end = len(content)
			}
			if end <= cap.StartCol {
				continue
			}
			resolved := theme.Resolve(cap.Name)
			newSpans = append(newSpans, Span{
				Content: cache.Interner.Intern(content[cap.StartCol:end]),
				Style:   Style{Foreground: resolved.Foreground, Bold: resolved.Bold, Italic: resolved.Italic, DiffRole: role},
			})
			cursor = end
		}
		if cursor < len(content) {
			newSpans = append(newSpans, Span{
				Content: cache.Interner.Intern(content[cursor:]),
				Style:   Style{DiffRole: role},
			})
		}
		line.Spans = newSpans
	}
}

// ReconstructSource builds the partial source buffer the highlighter
// consumes: added+context lines only, in order, joined by newlines.
// Removed lines are dropped because they would make the buffer
// syntactically invalid.
func ReconstructSource(patch string) string {
	parsed := diffmodel.ParsePatch(patch)
	var b strings.Builder
	for _, hunk := range parsed.Hunks {
		for _, line := range hunk.Lines {
			if line.Kind == diffmodel.Added || line.Kind == diffmodel.Context {
				b.WriteString(line.Content)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// DetectLanguage guesses a language hint from a file path extension.
func DetectLanguage(path string) string {
	lang, ok := highlight.DetectLang(path)
	if !ok {
		return ""
	}
	return string(lang)
}
