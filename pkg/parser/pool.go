package parser

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	ts "github.com/tree-sitter/go-tree-sitter"
)

// poolSize is the number of parsers kept per dialect: one per CPU, at least 2
// and at most 8. Generated files are small, so a handful is plenty.
func poolSize() int {
	return min(max(runtime.NumCPU(), 2), 8)
}

// parserPool hands out tree-sitter parsers for one dialect. Parsers are not
// safe for concurrent use, so each caller takes one exclusively.
type parserPool struct {
	dialect Dialect
	langPtr unsafe.Pointer
	free    chan *ts.Parser

	mu      sync.Mutex
	created int
	max     int
}

func newParserPool(dialect Dialect, langPtr unsafe.Pointer, size int) *parserPool {
	return &parserPool{
		dialect: dialect,
		langPtr: langPtr,
		free:    make(chan *ts.Parser, size),
		max:     size,
	}
}

// acquire returns an idle parser, creates one below the cap, or waits.
func (p *parserPool) acquire() (*ts.Parser, error) {
	select {
	case parser := <-p.free:
		return parser, nil
	default:
	}

	p.mu.Lock()
	if p.created >= p.max {
		p.mu.Unlock()
		return <-p.free, nil
	}

	parser := ts.NewParser()
	if err := parser.SetLanguage(ts.NewLanguage(p.langPtr)); err != nil {
		p.mu.Unlock()
		parser.Close()
		return nil, fmt.Errorf("set %s language: %w", p.dialect, err)
	}
	p.created++
	p.mu.Unlock()
	return parser, nil
}

func (p *parserPool) release(parser *ts.Parser) {
	if parser == nil {
		return
	}
	select {
	case p.free <- parser:
	default:
		parser.Close()
	}
}

// close drains and frees every idle parser.
func (p *parserPool) close() int {
	n := 0
	for {
		select {
		case parser := <-p.free:
			parser.Close()
			n++
		default:
			return n
		}
	}
}

func (p *parserPool) createdCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}
