package figma

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnana997/designflow/pkg/remote"
)

func TestParseLocator(t *testing.T) {
	tests := []struct {
		in       string
		wantKey  string
		wantNode string
	}{
		{"abc123def456", "abc123def456", ""},
		{"  abc123def456 ", "abc123def456", ""},
		{"https://www.figma.com/file/abc123def456/Marketing-Site?node-id=1%3A2", "abc123def456", "1:2"},
		{"https://www.figma.com/design/abc123def456/Marketing-Site?node-id=1-2&t=xyz", "abc123def456", "1:2"},
		{"https://figma.com/proto/abc123def456/Flow?page-id=0%3A1&node-id=12-34", "abc123def456", "12:34"},
		{"https://www.figma.com/design/abc123def456", "abc123def456", ""},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			loc, err := ParseLocator(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.wantKey, loc.FileKey)
			assert.Equal(t, tc.wantNode, loc.NodeID)
		})
	}
}

func TestParseLocator_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"not a key!",
		"https://example.com/file/abc123def456",
		"https://www.figma.com/community/plugin",
		"https://www.figma.com/design/abc123def456/x?node-id=%zz",
	} {
		_, err := ParseLocator(in)
		require.Error(t, err, in)
		assert.Equal(t, remote.KindInvalidInput, remote.KindOf(err), in)
	}
}

func TestNodeID_RoundTrip(t *testing.T) {
	for _, id := range []string{"1:2", "0:1", "123:4567", "I1:2;3:4", "12:34;56:78"} {
		encoded := EncodeNodeID(id)
		assert.NotContains(t, encoded, ":")

		decoded, err := DecodeNodeID(encoded)
		require.NoError(t, err)
		assert.Equal(t, id, decoded)

		loc, err := ParseLocator("https://www.figma.com/file/abc123def456/X?node-id=" + encoded)
		require.NoError(t, err)
		assert.Equal(t, id, loc.NodeID)
	}
}

func TestDecodeNodeID_DashForm(t *testing.T) {
	id, err := DecodeNodeID("1-2")
	require.NoError(t, err)
	assert.Equal(t, "1:2", id)

	// a colon form is never rewritten
	id, err = DecodeNodeID("I1:2-3")
	require.NoError(t, err)
	assert.Equal(t, "I1:2-3", id)
}

func TestLocator_WithNodeAndURL(t *testing.T) {
	loc := Locator{FileKey: "abc123def456", NodeID: "9:9"}

	same, err := loc.WithNode("")
	require.NoError(t, err)
	assert.Equal(t, "9:9", same.NodeID)

	over, err := loc.WithNode("1-2")
	require.NoError(t, err)
	assert.Equal(t, "1:2", over.NodeID)
	assert.Equal(t, "https://www.figma.com/file/abc123def456?node-id=1%3A2", over.URL())
	assert.Equal(t, "https://www.figma.com/file/abc123def456", Locator{FileKey: "abc123def456"}.URL())
}
