// Package parser syntax-checks TypeScript and TSX source with tree-sitter.
package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"
	"unsafe"

	ts "github.com/tree-sitter/go-tree-sitter"
	ts_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// maxReported caps how many syntax errors are reported per file.
const maxReported = 10

// SyntaxError is one error or missing node found in a parse tree.
type SyntaxError struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`   // 1-based
	Column  int    `json:"column"` // 1-based
	Message string `json:"message"`
}

func (e SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, e.Message)
}

// ParserManager owns lazily created parser pools, one per dialect.
//
// Callers own the trees returned by Parse and must Close them. The manager
// itself must be closed when no longer needed.
type ParserManager struct {
	mu     sync.RWMutex
	pools  map[Dialect]*parserPool
	logger *slog.Logger
	parses int
}

// NewParserManager returns an empty manager. Nothing is allocated until the
// first parse.
func NewParserManager(logger *slog.Logger) *ParserManager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ParserManager{
		pools:  make(map[Dialect]*parserPool),
		logger: logger.With("component", "parser"),
	}
}

// Parse builds a syntax tree for source. The tree is returned even when it
// contains errors.
func (pm *ParserManager) Parse(source []byte, dialect Dialect) (*ts.Tree, error) {
	pool, err := pm.pool(dialect)
	if err != nil {
		return nil, err
	}

	parser, err := pool.acquire()
	if err != nil {
		return nil, err
	}
	tree := parser.Parse(source, nil)
	pool.release(parser)

	if tree == nil {
		return nil, fmt.Errorf("%s parser returned no tree", dialect)
	}

	pm.mu.Lock()
	pm.parses++
	pm.mu.Unlock()
	return tree, nil
}

// Check parses source as the dialect implied by path and returns its syntax
// errors, at most maxReported of them. A nil slice means the source is clean.
func (pm *ParserManager) Check(path string, source []byte) ([]SyntaxError, error) {
	dialect := DialectFor(path)
	if dialect == DialectUnknown {
		return nil, fmt.Errorf("cannot check %s: unsupported extension", path)
	}

	tree, err := pm.Parse(source, dialect)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil, nil
	}

	found := collectErrors(root, path, source)
	pm.logger.Debug("syntax errors found", "path", path, "count", len(found))
	return found, nil
}

// CheckAll checks every checkable file and joins all syntax errors into one
// error. Files with other extensions are skipped.
func (pm *ParserManager) CheckAll(files map[string][]byte) error {
	var errs []error
	for path, source := range files {
		if !Checkable(path) {
			continue
		}
		found, err := pm.Check(path, source)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, se := range found {
			errs = append(errs, se)
		}
	}
	return errors.Join(errs...)
}

// collectErrors walks only the subtrees that contain errors, using an explicit
// stack, and returns ERROR and MISSING nodes in source order.
func collectErrors(root *ts.Node, path string, source []byte) []SyntaxError {
	var out []SyntaxError
	stack := []*ts.Node{root}

	for len(stack) > 0 && len(out) < maxReported {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch {
		case n.IsMissing():
			out = append(out, newSyntaxError(path, n, fmt.Sprintf("missing %s", n.Kind())))
			continue
		case n.IsError():
			out = append(out, newSyntaxError(path, n, fmt.Sprintf("unexpected %s", snippet(n, source))))
			continue
		}

		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			child := n.Child(uint(i))
			if child != nil && (child.HasError() || child.IsMissing()) {
				stack = append(stack, child)
			}
		}
	}
	return out
}

func newSyntaxError(path string, n *ts.Node, msg string) SyntaxError {
	pos := n.StartPosition()
	return SyntaxError{Path: path, Line: int(pos.Row) + 1, Column: int(pos.Column) + 1, Message: msg}
}

func snippet(n *ts.Node, source []byte) string {
	text := strings.TrimSpace(n.Utf8Text(source))
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	text = truncate(text, snippetLimit)
	if text == "" {
		return "input"
	}
	return fmt.Sprintf("%q", text)
}

// snippetLimit caps the bytes of source quoted in a syntax error.
const snippetLimit = 40

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// Close frees every pooled parser.
func (pm *ParserManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	closed := 0
	for _, pool := range pm.pools {
		closed += pool.close()
	}
	pm.pools = make(map[Dialect]*parserPool)
	pm.logger.Debug("parser manager closed", "parsers_closed", closed, "parses", pm.parses)
	return nil
}

// ParserStats reports pool usage.
type ParserStats struct {
	ParsersCreated int
	ParsesCalled   int
}

// GetStats returns parser usage counters.
func (pm *ParserManager) GetStats() ParserStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	s := ParserStats{ParsesCalled: pm.parses}
	for _, pool := range pm.pools {
		s.ParsersCreated += pool.createdCount()
	}
	return s
}

// pool returns the pool for dialect, creating it on first use.
func (pm *ParserManager) pool(dialect Dialect) (*parserPool, error) {
	pm.mu.RLock()
	p, ok := pm.pools[dialect]
	pm.mu.RUnlock()
	if ok {
		return p, nil
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if p, ok := pm.pools[dialect]; ok {
		return p, nil
	}

	ptr, err := languagePointer(dialect)
	if err != nil {
		return nil, err
	}
	p = newParserPool(dialect, ptr, poolSize())
	pm.pools[dialect] = p
	return p, nil
}

func languagePointer(dialect Dialect) (unsafe.Pointer, error) {
	switch dialect {
	case DialectTypeScript:
		return ts_typescript.LanguageTypescript(), nil
	case DialectTSX:
		return ts_typescript.LanguageTSX(), nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
}
