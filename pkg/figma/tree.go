package figma

import (
	"math"
	"sort"
)

// FindNode searches the tree depth-first for id using an explicit stack, so
// arbitrarily deep documents cannot exhaust the goroutine stack.
func FindNode(root *Node, id string) (*Node, bool) {
	found, ok := (*Node)(nil), false
	Walk(root, func(n *Node) bool {
		if n.ID == id {
			found, ok = n, true
			return false
		}
		return true
	})
	return found, ok
}

// Walk visits every node in pre-order until visit returns false.
func Walk(root *Node, visit func(*Node) bool) {
	if root == nil {
		return
	}
	stack := []*Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !visit(n) {
			return
		}
		// Push in reverse so the first child is visited first.
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, &n.Children[i])
		}
	}
}

// AnalyzeTokens accumulates the four token sets over the whole tree.
// Spacing holds paddings, item gaps and node dimensions, rounded to whole pixels.
// Visit order has no effect on the result.
func AnalyzeTokens(root *Node) Tokens {
	colors := map[string]struct{}{}
	fonts := map[string]struct{}{}
	spacing := map[float64]struct{}{}
	radii := map[float64]struct{}{}

	addPx := func(set map[float64]struct{}, v float64) {
		px := math.Round(v)
		if px > 0 {
			set[px] = struct{}{}
		}
	}

	Walk(root, func(n *Node) bool {
		if !n.IsVisible() {
			return true
		}
		for _, p := range n.Fills {
			if css, ok := solidCSS(p); ok {
				colors[css] = struct{}{}
			}
		}
		for _, p := range n.Strokes {
			if css, ok := solidCSS(p); ok {
				colors[css] = struct{}{}
			}
		}
		if n.Style != nil && n.Style.FontFamily != "" {
			fonts[n.Style.FontFamily] = struct{}{}
		}
		addPx(radii, n.CornerRadius)
		addPx(spacing, n.ItemSpacing)
		addPx(spacing, n.PaddingLeft)
		addPx(spacing, n.PaddingRight)
		addPx(spacing, n.PaddingTop)
		addPx(spacing, n.PaddingBottom)
		if box := n.AbsoluteBoundingBox; box != nil {
			addPx(spacing, box.Width)
			addPx(spacing, box.Height)
		}
		return true
	})

	return Tokens{
		Colors:  sortedStrings(colors),
		Fonts:   sortedStrings(fonts),
		Spacing: sortedFloats(spacing),
		Radii:   sortedFloats(radii),
	}
}

// ExtractComponents lists every COMPONENT node in document order.
func ExtractComponents(root *Node) []Component {
	out := []Component{}
	Walk(root, func(n *Node) bool {
		if n.Type != "COMPONENT" {
			return true
		}
		c := Component{ID: n.ID, Name: n.Name, Description: n.Description}
		if n.AbsoluteBoundingBox != nil {
			c.Width = n.AbsoluteBoundingBox.Width
			c.Height = n.AbsoluteBoundingBox.Height
		}
		out = append(out, c)
		return true
	})
	return out
}

func sortedStrings(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func sortedFloats(set map[float64]struct{}) []float64 {
	out := make([]float64, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}
