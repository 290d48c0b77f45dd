package figma

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/gnana997/designflow/pkg/remote"
)

// Locator identifies a design file and, optionally, one node inside it.
type Locator struct {
	FileKey string `json:"file_key"`
	NodeID  string `json:"node_id,omitempty"`
}

var fileKeyPattern = regexp.MustCompile(`^[A-Za-z0-9]{6,64}$`)

// urlKinds are the path segments that precede a file key in share links.
var urlKinds = map[string]bool{
	"file":   true,
	"design": true,
	"proto":  true,
	"board":  true,
}

// ParseLocator accepts a bare file key or a share URL such as
// https://www.figma.com/design/<key>/<title>?node-id=1-2.
func ParseLocator(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Locator{}, remote.Errorf(remote.KindInvalidInput, "figma.parse_locator", "design locator is empty")
	}
	if fileKeyPattern.MatchString(s) {
		return Locator{FileKey: s}, nil
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return Locator{}, remote.Errorf(remote.KindInvalidInput, "figma.parse_locator",
			"%q is neither a file key nor a design URL", s)
	}
	host := strings.ToLower(u.Hostname())
	if host != "figma.com" && !strings.HasSuffix(host, ".figma.com") {
		return Locator{}, remote.Errorf(remote.KindInvalidInput, "figma.parse_locator",
			"unsupported design host %q", u.Hostname())
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	var key string
	for i := 0; i+1 < len(segments); i++ {
		if urlKinds[segments[i]] {
			key = segments[i+1]
			break
		}
	}
	if !fileKeyPattern.MatchString(key) {
		return Locator{}, remote.Errorf(remote.KindInvalidInput, "figma.parse_locator",
			"no file key found in %q", s)
	}

	loc := Locator{FileKey: key}
	// RawQuery is decoded by hand so "%3A" and "-" forms go through one path.
	for _, part := range strings.Split(u.RawQuery, "&") {
		name, value, _ := strings.Cut(part, "=")
		if name == "node-id" && value != "" {
			id, err := DecodeNodeID(value)
			if err != nil {
				return Locator{}, err
			}
			loc.NodeID = id
		}
	}
	return loc, nil
}

// WithNode returns the locator with nodeID applied when it is non-empty.
// An explicit node id wins over one embedded in a URL.
func (l Locator) WithNode(nodeID string) (Locator, error) {
	if nodeID == "" {
		return l, nil
	}
	id, err := DecodeNodeID(nodeID)
	if err != nil {
		return l, err
	}
	l.NodeID = id
	return l, nil
}

// DecodeNodeID turns a URL form ("1-2", "1%3A2") into the API form ("1:2").
func DecodeNodeID(raw string) (string, error) {
	id, err := url.QueryUnescape(raw)
	if err != nil {
		return "", remote.Errorf(remote.KindInvalidInput, "figma.decode_node_id", "malformed node id %q", raw)
	}
	if !strings.Contains(id, ":") {
		id = strings.ReplaceAll(id, "-", ":")
	}
	if id == "" {
		return "", remote.Errorf(remote.KindInvalidInput, "figma.decode_node_id", "node id is empty")
	}
	return id, nil
}

// EncodeNodeID renders a node id for a query string ("1:2" -> "1%3A2").
func EncodeNodeID(id string) string {
	return url.QueryEscape(id)
}

// URL returns a browser link to the file, focused on the node when set.
func (l Locator) URL() string {
	u := "https://www.figma.com/file/" + l.FileKey
	if l.NodeID != "" {
		u += "?node-id=" + EncodeNodeID(l.NodeID)
	}
	return u
}
