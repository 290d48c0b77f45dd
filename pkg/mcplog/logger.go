// Package mcplog appends one JSONL record per tool call to an audit file.
package mcplog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// maxParamLen is the longest string parameter written verbatim.
const maxParamLen = 64

// Entry is one line of the tool log.
type Entry struct {
	Ts            string         `json:"ts"`
	Tool          string         `json:"tool"`
	Params        map[string]any `json:"params"`
	DurationMs    int64          `json:"duration_ms"`
	ResponseBytes int            `json:"response_bytes"`
	Failed        bool           `json:"failed"`
	Error         *string        `json:"error"`
}

// Logger appends entries to a file. It is safe for concurrent use; a nil
// *Logger discards everything.
type Logger struct {
	mu     sync.Mutex
	f      *os.File
	enc    *json.Encoder
	closed bool
}

// Open opens path for appending, creating parent directories. An empty path
// returns a nil Logger.
func Open(path string) (*Logger, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mcplog: create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("mcplog: open %s: %w", path, err)
	}
	return &Logger{f: f, enc: json.NewEncoder(f)}, nil
}

// Record builds an entry for one finished call and writes it. Write errors are
// returned so the caller can log them; they never change the tool result.
func (l *Logger) Record(tool string, args map[string]any, start time.Time, res *mcp.CallToolResult, callErr error) error {
	if l == nil {
		return nil
	}
	e := Entry{
		Ts:            start.UTC().Format(time.RFC3339),
		Tool:          tool,
		Params:        Sanitize(args),
		DurationMs:    time.Since(start).Milliseconds(),
		ResponseBytes: ResponseBytes(res),
		Failed:        callErr != nil || (res != nil && res.IsError),
	}
	if callErr != nil {
		msg := callErr.Error()
		e.Error = &msg
	}
	return l.Write(e)
}

// Write appends e as a single line.
func (l *Logger) Write(e Entry) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return os.ErrClosed
	}
	return l.enc.Encode(e)
}

// Close closes the file. Further writes fail with os.ErrClosed.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.f.Close()
}

// Sanitize copies args, replacing strings longer than maxParamLen bytes with
// a "<key>_len" entry holding their length. Tokens and generated source never
// reach the file this way.
func Sanitize(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && len(s) > maxParamLen {
			out[k+"_len"] = len(s)
			continue
		}
		out[k] = v
	}
	return out
}

// ResponseBytes is the JSON size of a result's content, or 0.
func ResponseBytes(res *mcp.CallToolResult) int {
	if res == nil {
		return 0
	}
	b, err := json.Marshal(res.Content)
	if err != nil {
		return 0
	}
	return len(b)
}
