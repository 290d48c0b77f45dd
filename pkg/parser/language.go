package parser

import (
	"path/filepath"
	"strings"
)

// Dialect is a grammar variant the checker can parse.
type Dialect int

const (
	// DialectTypeScript covers .ts, .mts and .cts files.
	DialectTypeScript Dialect = iota
	// DialectTSX is TypeScript with JSX enabled.
	DialectTSX
	// DialectUnknown is anything else.
	DialectUnknown
)

func (d Dialect) String() string {
	switch d {
	case DialectTypeScript:
		return "typescript"
	case DialectTSX:
		return "tsx"
	default:
		return "unknown"
	}
}

// DialectFor picks the grammar for a file path by extension.
func DialectFor(path string) Dialect {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".mts", ".cts":
		return DialectTypeScript
	case ".tsx":
		return DialectTSX
	default:
		return DialectUnknown
	}
}

// Checkable reports whether path is a file the checker understands.
func Checkable(path string) bool {
	return DialectFor(path) != DialectUnknown
}
