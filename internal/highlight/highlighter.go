package highlight

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// Capture is one highlight span on a single line: a half-open byte range
// [StartCol, EndCol) within that line's content, tagged with the capture
// name that produced it (e.g. "keyword", "string", "function").
type Capture struct {
	StartCol int
	EndCol   int
	Name     string
}

// LineHighlights is the per-line capture result of highlighting a whole
// source buffer: index i holds the captures for source line i (0-based).
type LineHighlights [][]Capture

// Style is a fully resolved rendering style for a capture name.
type Style struct {
	Foreground string
	Bold       bool
	Italic     bool
}

// ThemeStyleCache maps capture names to their resolved Style, computed once
// per file so the hot span-emission loop in the diff cache builder does a
// single map lookup instead of re-deriving a style from a theme table.
type ThemeStyleCache struct {
	theme  map[string]Style
	cache  map[string]Style
}

// NewThemeStyleCache builds a style cache backed by theme, which maps
// capture names (or capture-name prefixes, matched longest-prefix-first) to
// styles.
func NewThemeStyleCache(theme map[string]Style) *ThemeStyleCache {
	return &ThemeStyleCache{theme: theme, cache: make(map[string]Style)}
}

// Resolve returns the style for a capture name, memoising prefix matches.
func (t *ThemeStyleCache) Resolve(captureName string) Style {
	if s, ok := t.cache[captureName]; ok {
		return s
	}
	s := t.lookup(captureName)
	t.cache[captureName] = s
	return s
}

func (t *ThemeStyleCache) lookup(captureName string) Style {
	name := captureName
	for {
		if s, ok := t.theme[name]; ok {
			return s
		}
		idx := strings.LastIndexByte(name, '.')
		if idx < 0 {
			return t.theme["default"]
		}
		name = name[:idx]
	}
}

// DefaultTheme is the built-in capture-name-to-Style table that
// diffcache.NewBuilder installs when it is given a nil theme: 256-colour
// ANSI-ish hex foregrounds chosen to stay legible on both light and dark
// terminal backgrounds, one entry per tree-sitter highlight query's
// standard capture names (keyword, string, comment, function, type,
// number, variable, constant, property, punctuation) plus "default" as the
// longest-prefix-match fallback Resolve falls back to.
func DefaultTheme() map[string]Style {
	return map[string]Style{
		"keyword":     {Foreground: "#c678dd", Bold: true},
		"string":      {Foreground: "#98c379"},
		"comment":     {Foreground: "#5c6370", Italic: true},
		"function":    {Foreground: "#61afef"},
		"type":        {Foreground: "#e5c07b"},
		"number":      {Foreground: "#d19a66"},
		"variable":    {Foreground: "#e06c75"},
		"constant":    {Foreground: "#d19a66", Bold: true},
		"property":    {Foreground: "#e06c75"},
		"punctuation": {Foreground: "#abb2bf"},
		"default":     {Foreground: "#abb2bf"},
	}
}

// Region marks a byte range of the source buffer that does not correspond
// to a real output line — e.g. a priming tag prepended ahead of the real
// content. Captures overlapping a virtual region are discarded.
type Region struct {
	Start, End uint
}

// Highlighter parses a whole source buffer with a Pool-provided parser and
// query and produces LineHighlights: for each source line, a slice of
// Captures sorted by StartCol and free of overlaps (last-match-wins on
// identical ranges, innermost-wins on nesting).
type Highlighter struct {
	pool *Pool
}

// NewHighlighter builds a Highlighter backed by pool.
func NewHighlighter(pool *Pool) *Highlighter {
	return &Highlighter{pool: pool}
}

// Highlight parses source as lang and returns per-line captures. virtual
// marks byte ranges (such as a prepended priming tag) whose captures must
// be discarded because they do not map to a real output line.
func (h *Highlighter) Highlight(source string, lang Lang, virtual []Region) (LineHighlights, error) {
	parser, err := h.pool.GetParser(lang)
	if err != nil {
		return nil, err
	}
	query, err := h.pool.GetQuery(lang)
	if err != nil {
		return nil, err
	}

	srcBytes := []byte(source)
	tree := parser.Parse(srcBytes, nil)
	if tree == nil {
		return nil, nil
	}
	defer tree.Close()

	lineStarts := computeLineStarts(srcBytes)
	result := make(LineHighlights, len(lineStarts))

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()

	matches := cursor.Matches(query, tree.RootNode(), srcBytes)
	for {
		match := matches.Next()
		if match == nil {
			break
		}
		for _, cap := range match.Captures {
			name := query.CaptureNames()[cap.Index]
			startByte := uint(cap.Node.StartByte())
			endByte := uint(cap.Node.EndByte())
			if overlapsVirtual(startByte, endByte, virtual) {
				continue
			}
			appendCaptureSplitByLine(result, lineStarts, startByte, endByte, name)
		}
	}

	for i := range result {
		result[i] = resolveConflicts(result[i])
	}

	return result, nil
}

// HighlightWithInjections is Highlight plus a second pass over
// injection-capable nodes: for each byte range tagged with an injected
// language, the inner content is re-highlighted with that language and the
// resulting captures are merged into the parent's LineHighlights at the
// correct line offsets.
//
// injections maps a byte range of the host source to the language its
// content should be parsed as (e.g. the inner text of a component file's
// <script lang="ts"> block).
func (h *Highlighter) HighlightWithInjections(source string, lang Lang, virtual []Region, injections map[Region]Lang) (LineHighlights, error) {
	base, err := h.Highlight(source, lang, virtual)
	if err != nil {
		return nil, err
	}

	srcBytes := []byte(source)
	lineStarts := computeLineStarts(srcBytes)

	for region, innerLang := range injections {
		inner := source[region.Start:region.End]
		innerHighlights, err := h.Highlight(inner, innerLang, nil)
		if err != nil {
			continue // injection failures degrade to "no highlight for this block", not a hard error
		}
		innerLineOffset := lineOf(lineStarts, region.Start)
		innerColOffset := int(region.Start) - int(lineStarts[innerLineOffset])
		for li, caps := range innerHighlights {
			targetLine := innerLineOffset + li
			if targetLine >= len(base) {
				continue
			}
			colOffset := 0
			if li == 0 {
				colOffset = innerColOffset
			}
			for _, c := range caps {
				base[targetLine] = append(base[targetLine], Capture{
					StartCol: c.StartCol + colOffset,
					EndCol:   c.EndCol + colOffset,
					Name:     c.Name,
				})
			}
		}
		for i := range base {
			base[i] = resolveConflicts(base[i])
		}
	}

	return base, nil
}

func computeLineStarts(src []byte) []uint {
	starts := []uint{0}
	for i, b := range src {
		if b == '\n' {
			starts = append(starts, uint(i+1))
		}
	}
	return starts
}

func lineOf(lineStarts []uint, byteOffset uint) int {
	lo, hi := 0, len(lineStarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if lineStarts[mid] <= byteOffset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

func overlapsVirtual(start, end uint, virtual []Region) bool {
	for _, r := range virtual {
		if start < r.End && end > r.Start {
			return true
		}
	}
	return false
}

// appendCaptureSplitByLine assigns a capture to the line(s) its byte range
// falls on, splitting cross-line captures at newline boundaries so neither
// half leaks into the wrong line.
func appendCaptureSplitByLine(result LineHighlights, lineStarts []uint, start, end uint, name string) {
	startLine := lineOf(lineStarts, start)
	endLine := lineOf(lineStarts, end)

	if startLine == endLine {
		if startLine >= len(result) {
			return
		}
		result[startLine] = append(result[startLine], Capture{
			StartCol: int(start - lineStarts[startLine]),
			EndCol:   int(end - lineStarts[startLine]),
			Name:     name,
		})
		return
	}

	for line := startLine; line <= endLine && line < len(result); line++ {
		lineStart := lineStarts[line]
		var lineEnd uint
		if line+1 < len(lineStarts) {
			lineEnd = lineStarts[line+1] - 1 // exclude the newline itself
		} else {
			lineEnd = end // last line: the capture's own end is authoritative
		}

		segStart := start
		if line > startLine {
			segStart = lineStart
		}
		segEnd := end
		if line < endLine {
			segEnd = lineEnd
		}
		if segEnd < segStart {
			continue
		}
		result[line] = append(result[line], Capture{
			StartCol: int(segStart - lineStart),
			EndCol:   int(segEnd - lineStart),
			Name:     name,
		})
	}
}

// resolveConflicts sorts captures by StartCol and resolves overlaps:
// identical ranges keep the last match (query match order == last-wins),
// nested ranges keep the innermost (narrowest) capture for the overlapping
// portion.
func resolveConflicts(caps []Capture) []Capture {
	if len(caps) <= 1 {
		return caps
	}

	// Stable sort by StartCol, then by descending width so that when two
	// captures start at the same column the narrower (innermost) one sorts
	// after and therefore wins ties during the sweep below.
	sorted := make([]Capture, len(caps))
	copy(sorted, caps)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0; j-- {
			a, b := sorted[j-1], sorted[j]
			if a.StartCol > b.StartCol || (a.StartCol == b.StartCol && (a.EndCol-a.StartCol) < (b.EndCol-b.StartCol)) {
				sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
			} else {
				break
			}
		}
	}

	out := make([]Capture, 0, len(sorted))
	for _, c := range sorted {
		if len(out) > 0 {
			last := out[len(out)-1]
			if c.StartCol == last.StartCol && c.EndCol == last.EndCol {
				// identical range: last-match-wins
				out[len(out)-1] = c
				continue
			}
			if c.StartCol >= last.StartCol && c.EndCol <= last.EndCol {
				// nested inside the previous capture: innermost wins for
				// its own range; split the outer capture around it.
				out = out[:len(out)-1]
				if c.StartCol > last.StartCol {
					out = append(out, Capture{StartCol: last.StartCol, EndCol: c.StartCol, Name: last.Name})
				}
				out = append(out, c)
				if c.EndCol < last.EndCol {
					out = append(out, Capture{StartCol: c.EndCol, EndCol: last.EndCol, Name: last.Name})
				}
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

