// Package codegen renders React components from resolved design frames.
package codegen

import (
	"bytes"
	"embed"
	"fmt"
	"math"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"text/template"
	"unicode"

	"github.com/gnana997/designflow/pkg/figma"
	"github.com/gnana997/designflow/pkg/parser"
)

// Framework is the only target currently generated.
const Framework = "react"

// Styling fallbacks used when the design yields no token for a property.
const (
	DefaultFont    = "Inter"
	DefaultRadius  = 8.0
	DefaultSpacing = 16.0
	minSpacing     = 4.0
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var identPattern = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)

// File is one generated file, relative to the output root.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Artifact is a generated component. It is not modified after Generate returns.
type Artifact struct {
	Name         string   `json:"name"`
	Path         string   `json:"path"` // directory, relative to the output root
	Source       string   `json:"source"`
	Stylesheet   string   `json:"stylesheet"`
	Index        string   `json:"index"`
	Framework    string   `json:"framework"`
	Dependencies []string `json:"dependencies"`
	Styling      Styling  `json:"styling"`
}

// Files returns the artifact's files under prefix, in a stable order.
func (a Artifact) Files(prefix string) []File {
	dir := path.Join(prefix, a.Path)
	return []File{
		{Path: path.Join(dir, a.Name+".tsx"), Content: a.Source},
		{Path: path.Join(dir, a.Name+".module.css"), Content: a.Stylesheet},
		{Path: path.Join(dir, "index.ts"), Content: a.Index},
	}
}

// Styling is the resolved set of visual properties fed to the templates.
type Styling struct {
	Background string  `json:"background"`
	Font       string  `json:"font"`
	Radius     float64 `json:"radius"`
	Spacing    float64 `json:"spacing"`
}

// ResolveStyling applies the token fallback chain:
// background is the frame's own colour when it is one of the colour tokens,
// else the first colour token, else the frame background, else white;
// font is the first font token, else Inter; radius is the smallest radius, else 8;
// spacing is the smallest spacing of at least 4, else 16.
func ResolveStyling(frame figma.Frame, tokens figma.Tokens) Styling {
	s := Styling{
		Background: figma.DefaultBackground,
		Font:       DefaultFont,
		Radius:     DefaultRadius,
		Spacing:    DefaultSpacing,
	}

	switch {
	case frame.BackgroundColor != "" && slices.Contains(tokens.Colors, frame.BackgroundColor):
		s.Background = frame.BackgroundColor
	case len(tokens.Colors) > 0:
		s.Background = tokens.Colors[0]
	case frame.BackgroundColor != "":
		s.Background = frame.BackgroundColor
	}
	if len(tokens.Fonts) > 0 {
		s.Font = tokens.Fonts[0]
	}
	if len(tokens.Radii) > 0 {
		s.Radius = minOf(tokens.Radii)
	}
	found := false
	for _, v := range tokens.Spacing {
		if v >= minSpacing && (!found || v < s.Spacing) {
			s.Spacing = v
			found = true
		}
	}
	return s
}

func minOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		m = min(m, v)
	}
	return m
}

// ComponentName turns a free-form name such as "hero button" or "hero-button"
// into a PascalCase identifier. Names already in PascalCase pass through.
func ComponentName(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if identPattern.MatchString(raw) {
		return raw, nil
	}

	var b strings.Builder
	upper := true
	for _, r := range raw {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if r > unicode.MaxASCII {
				continue
			}
			if upper {
				r = unicode.ToUpper(r)
				upper = false
			}
			b.WriteRune(r)
		default:
			upper = true
		}
	}

	name := strings.TrimLeftFunc(b.String(), unicode.IsDigit)
	if name != "" {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("%q cannot be turned into a component name", raw)
	}
	return name, nil
}

type view struct {
	Name      string
	FrameName string
	FrameID   string
	Width     float64
	Height    float64
	Styling
}

// Generator renders artifacts and syntax-checks them.
type Generator struct {
	tmpl    *template.Template
	checker *parser.ParserManager
}

// NewGenerator parses the embedded templates. checker may be nil to skip the
// syntax check.
func NewGenerator(checker *parser.ParserManager) (*Generator, error) {
	tmpl, err := template.New("codegen").Funcs(template.FuncMap{
		"px":      px,
		"comment": sanitizeComment,
		"font":    sanitizeFont,
	}).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Generator{tmpl: tmpl, checker: checker}, nil
}

// Generate renders the component, stylesheet and index for frame.
func (g *Generator) Generate(name string, frame figma.Frame, tokens figma.Tokens) (Artifact, error) {
	component, err := ComponentName(name)
	if err != nil {
		return Artifact{}, err
	}

	v := view{
		Name:      component,
		FrameName: frame.Name,
		FrameID:   frame.ID,
		Width:     frame.Width,
		Height:    frame.Height,
		Styling:   ResolveStyling(frame, tokens),
	}

	source, err := g.render("component.tsx.tmpl", v)
	if err != nil {
		return Artifact{}, err
	}
	stylesheet, err := g.render("stylesheet.css.tmpl", v)
	if err != nil {
		return Artifact{}, err
	}
	index, err := g.render("index.ts.tmpl", v)
	if err != nil {
		return Artifact{}, err
	}

	a := Artifact{
		Name:         component,
		Path:         component,
		Source:       source,
		Stylesheet:   stylesheet,
		Index:        index,
		Framework:    Framework,
		Dependencies: []string{"react"},
		Styling:      v.Styling,
	}

	if g.checker != nil {
		files := make(map[string][]byte, 3)
		for _, f := range a.Files("") {
			files[f.Path] = []byte(f.Content)
		}
		if err := g.checker.CheckAll(files); err != nil {
			return Artifact{}, fmt.Errorf("generated %s does not parse: %w", component, err)
		}
	}
	return a, nil
}

func (g *Generator) render(name string, v view) (string, error) {
	var buf bytes.Buffer
	if err := g.tmpl.ExecuteTemplate(&buf, name, v); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Usage returns an import-and-render snippet for a change request body.
func Usage(a Artifact, importRoot string) string {
	if importRoot == "" {
		importRoot = "./components"
	}
	from := path.Join(importRoot, a.Path)
	if strings.HasPrefix(importRoot, "./") {
		from = "./" + from
	}
	return fmt.Sprintf("import { %[1]s } from '%[2]s';\n\n<%[1]s>\n  Content\n</%[1]s>", a.Name, from)
}

func px(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64) + "px"
}

func sanitizeComment(s string) string {
	s = strings.ReplaceAll(s, "*/", "* /")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, `"`, "'")
}

func sanitizeFont(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\'' || r == '\\' || r == ';' || r == '\n' {
			return -1
		}
		return r
	}, s)
}
