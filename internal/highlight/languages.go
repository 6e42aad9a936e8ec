package highlight

import (
	_ "embed"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tsgo "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tsjavascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tspython "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tstypescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// Lang identifies one of the supported grammars.
type Lang string

const (
	LangGo         Lang = "go"
	LangJavaScript Lang = "javascript"
	LangTypeScript Lang = "typescript"
	LangTSX        Lang = "tsx"
	LangPython     Lang = "python"
	// LangSvelte is a component file format: host markup with injected
	// <script> and <style> sub-languages. No Svelte grammar or query is
	// wired in, so the Pool has no parser for it. HighlightWithInjections
	// can highlight script/style ranges in a supported language, but only
	// the ranges its caller passes in; nothing in this package locates them.
	LangSvelte Lang = "svelte"
)

//go:embed queries/go.scm
var goQuery string

//go:embed queries/javascript.scm
var javascriptQuery string

//go:embed queries/typescript.scm
var typescriptQuery string

//go:embed queries/python.scm
var pythonQuery string

// queryForLang returns the embedded highlight-query source for a language.
// Returns ("", false) for languages with no dedicated query (e.g. a host
// grammar used only for injection dispatch).
func queryForLang(lang Lang) (string, bool) {
	switch lang {
	case LangGo:
		return goQuery, true
	case LangJavaScript:
		return javascriptQuery, true
	case LangTypeScript, LangTSX:
		return typescriptQuery, true
	case LangPython:
		return pythonQuery, true
	default:
		return "", false
	}
}

// grammarForLang resolves the tree-sitter grammar for a language. Returns
// nil for languages with no direct grammar package wired in.
func grammarForLang(lang Lang) *sitter.Language {
	switch lang {
	case LangGo:
		return sitter.NewLanguage(tsgo.Language())
	case LangJavaScript:
		return sitter.NewLanguage(tsjavascript.Language())
	case LangTypeScript:
		return sitter.NewLanguage(tstypescript.LanguageTypescript())
	case LangTSX:
		return sitter.NewLanguage(tstypescript.LanguageTSX())
	case LangPython:
		return sitter.NewLanguage(tspython.Language())
	default:
		return nil
	}
}

// DetectLang guesses a language from a file extension, matching the
// lightweight extension-sniffing convention used elsewhere in this
// codebase for language hints (see internal/diffcache.DetectLanguage).
func DetectLang(path string) (Lang, bool) {
	switch {
	case strings.HasSuffix(path, ".go"):
		return LangGo, true
	case strings.HasSuffix(path, ".ts"):
		return LangTypeScript, true
	case strings.HasSuffix(path, ".tsx"):
		return LangTSX, true
	case strings.HasSuffix(path, ".js"), strings.HasSuffix(path, ".jsx"), strings.HasSuffix(path, ".mjs"):
		return LangJavaScript, true
	case strings.HasSuffix(path, ".py"):
		return LangPython, true
	case strings.HasSuffix(path, ".svelte"), strings.HasSuffix(path, ".vue"):
		return LangSvelte, true
	default:
		return "", false
	}
}
