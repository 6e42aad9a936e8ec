// Package highlight implements the tree-sitter-backed parser pool and
// line-oriented highlighter (spec components C1 and C2).
package highlight

import (
	"fmt"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// Pool lazily instantiates and memoises one parser and one compiled
// highlight query per supported language. A Pool is not safe to share
// across goroutines: each worker that needs to build caches owns one pool
// for the duration of its batch, matching the teacher's per-call,
// non-shared-state scratch objects (e.g. the one-shot strings.Builder
// instances in review/chunker.go).
type Pool struct {
	parsers map[Lang]*sitter.Parser
	queries map[Lang]*sitter.Query
}

// NewPool constructs an empty pool. Parsers and queries are compiled on
// first request, not eagerly.
func NewPool() *Pool {
	return &Pool{
		parsers: make(map[Lang]*sitter.Parser),
		queries: make(map[Lang]*sitter.Query),
	}
}

// GetParser returns the memoised parser for lang, creating it on first use.
func (p *Pool) GetParser(lang Lang) (*sitter.Parser, error) {
	if parser, ok := p.parsers[lang]; ok {
		return parser, nil
	}

	grammar := grammarForLang(lang)
	if grammar == nil {
		return nil, fmt.Errorf("highlight: no grammar registered for %q", lang)
	}

	parser := sitter.NewParser()
	if err := parser.SetLanguage(grammar); err != nil {
		return nil, fmt.Errorf("highlight: set language %q: %w", lang, err)
	}

	p.parsers[lang] = parser
	return parser, nil
}

// GetQuery returns the memoised, compiled highlight query for lang. For
// injection-heavy component formats this combines host, script, and style
// queries at construction time; today's grammar set has no component
// format whose host grammar is itself wired in, so each supported
// language's query is single-source.
func (p *Pool) GetQuery(lang Lang) (*sitter.Query, error) {
	if q, ok := p.queries[lang]; ok {
		return q, nil
	}

	grammar := grammarForLang(lang)
	if grammar == nil {
		return nil, fmt.Errorf("highlight: no grammar registered for %q", lang)
	}

	src, ok := queryForLang(lang)
	if !ok {
		return nil, fmt.Errorf("highlight: no highlight query registered for %q", lang)
	}

	query, queryErr := sitter.NewQuery(grammar, src)
	if queryErr != nil {
		return nil, fmt.Errorf("highlight: compile query for %q: %v", lang, queryErr)
	}

	p.queries[lang] = query
	return query, nil
}

// Close releases the parsers and queries held by the pool. Callers should
// call Close when a worker's batch completes.
func (p *Pool) Close() {
	for _, parser := range p.parsers {
		parser.Close()
	}
	for _, query := range p.queries {
		query.Close()
	}
	p.parsers = make(map[Lang]*sitter.Parser)
	p.queries = make(map[Lang]*sitter.Query)
}
