package figma

import (
	"fmt"
	"math"
	"strconv"
)

// DefaultBackground is used when a frame has no resolvable background.
const DefaultBackground = "rgba(255, 255, 255, 1)"

// Node is one element of the raw document tree as returned by the REST API.
// Only the fields the generator and token analysis read are decoded.
type Node struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	Type                string  `json:"type"`
	Visible             *bool   `json:"visible,omitempty"`
	Children            []Node  `json:"children,omitempty"`
	AbsoluteBoundingBox *Rect   `json:"absoluteBoundingBox,omitempty"`
	BackgroundColor     *Color  `json:"backgroundColor,omitempty"`
	Fills               []Paint `json:"fills,omitempty"`
	Strokes             []Paint `json:"strokes,omitempty"`
	Style               *Style  `json:"style,omitempty"`
	CornerRadius        float64 `json:"cornerRadius,omitempty"`
	ItemSpacing         float64 `json:"itemSpacing,omitempty"`
	PaddingLeft         float64 `json:"paddingLeft,omitempty"`
	PaddingRight        float64 `json:"paddingRight,omitempty"`
	PaddingTop          float64 `json:"paddingTop,omitempty"`
	PaddingBottom       float64 `json:"paddingBottom,omitempty"`
	Characters          string  `json:"characters,omitempty"`
	Description         string  `json:"description,omitempty"`
}

// IsVisible treats a missing flag as visible, matching the API default.
func (n *Node) IsVisible() bool {
	return n.Visible == nil || *n.Visible
}

// Rect is an absolute bounding box in pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Color components are fractions in [0, 1].
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a"`
}

// Paint is a fill or stroke entry.
type Paint struct {
	Type    string   `json:"type"`
	Visible *bool    `json:"visible,omitempty"`
	Opacity *float64 `json:"opacity,omitempty"`
	Color   *Color   `json:"color,omitempty"`
}

// Style carries text styling for TEXT nodes.
type Style struct {
	FontFamily string  `json:"fontFamily,omitempty"`
	FontWeight float64 `json:"fontWeight,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`
}

// File is the fetch-file payload: metadata plus the raw document tree.
type File struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	Version      string `json:"version"`
	LastModified string `json:"lastModified"`
	Document     Node   `json:"document"`
}

// Frame is a resolved rectangular design node.
type Frame struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Type            string  `json:"type"`
	Width           float64 `json:"width"`
	Height          float64 `json:"height"`
	BackgroundColor string  `json:"background_color"`
	Children        []Node  `json:"children,omitempty"`
}

// Tokens is the de-duplicated aggregate over one design file.
type Tokens struct {
	Colors  []string  `json:"colors"`
	Fonts   []string  `json:"fonts"`
	Spacing []float64 `json:"spacing"`
	Radii   []float64 `json:"radii"`
}

// Empty reports whether no category produced a value.
func (t Tokens) Empty() bool {
	return len(t.Colors) == 0 && len(t.Fonts) == 0 && len(t.Spacing) == 0 && len(t.Radii) == 0
}

// Component is a node of type COMPONENT.
type Component struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Width       float64 `json:"width,omitempty"`
	Height      float64 `json:"height,omitempty"`
}

// CSS renders the color as "rgba(r, g, b, a)" with 0-255 integer channels.
// alpha is the paint opacity multiplier.
func (c Color) CSS(alpha float64) string {
	a := c.A * alpha
	return fmt.Sprintf("rgba(%d, %d, %d, %s)", channel(c.R), channel(c.G), channel(c.B), formatAlpha(a))
}

func channel(v float64) int {
	n := int(math.Round(v * 255))
	return max(0, min(255, n))
}

func formatAlpha(a float64) string {
	a = math.Round(max(0, min(1, a))*100) / 100
	return strconv.FormatFloat(a, 'f', -1, 64)
}

// toFrame converts a raw node into a Frame, resolving its background.
func toFrame(n *Node) Frame {
	f := Frame{
		ID:              n.ID,
		Name:            n.Name,
		Type:            n.Type,
		BackgroundColor: backgroundOf(n),
		Children:        n.Children,
	}
	if n.AbsoluteBoundingBox != nil {
		f.Width = n.AbsoluteBoundingBox.Width
		f.Height = n.AbsoluteBoundingBox.Height
	}
	return f
}

func backgroundOf(n *Node) string {
	if n.BackgroundColor != nil && n.BackgroundColor.A > 0 {
		return n.BackgroundColor.CSS(1)
	}
	for _, p := range n.Fills {
		if css, ok := solidCSS(p); ok {
			return css
		}
	}
	return DefaultBackground
}

func solidCSS(p Paint) (string, bool) {
	if p.Type != "SOLID" || p.Color == nil {
		return "", false
	}
	if p.Visible != nil && !*p.Visible {
		return "", false
	}
	opacity := 1.0
	if p.Opacity != nil {
		opacity = *p.Opacity
	}
	return p.Color.CSS(opacity), true
}
