package jsonx

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBalancedEqualsInput(t *testing.T) {
	cases := []string{
		`{"a": 1, "b": [2, 3]}`,
		`[{"x": "y"}, {"z": "w"}]`,
		`{"nested": {"deep": {"deeper": true}}}`,
		`{"s": "braces in strings { ] are ignored"}`,
	}
	for _, in := range cases {
		var want, got any
		require.NoError(t, json.Unmarshal([]byte(in), &want), "bad test input")
		require.NoError(t, Parse(in, &got), "Parse(%q)", in)
		assert.Equal(t, want, got, "Parse(%q)", in)
	}
}

func TestExtractFenced(t *testing.T) {
	in := "```json\n{\"thesis\": \"x\"}\n```"
	var got map[string]any
	require.NoError(t, Parse(in, &got))
	assert.Equal(t, "x", got["thesis"])
}

func TestExtractCutsTrailingProse(t *testing.T) {
	in := `{"a": 1} and here is some commentary the model added`
	assert.Equal(t, `{"a": 1}`, Extract(in))
}

func TestExtractSkipsLeadingProse(t *testing.T) {
	in := `Here is the JSON you asked for: {"ok": true}`
	var got map[string]any
	require.NoError(t, Parse(in, &got))
	assert.Equal(t, true, got["ok"])
}

func TestTruncatedPrefixParses(t *testing.T) {
	full := `{"outline": [{"point": "one", "supports": ["c1"]}, {"point": "two", "supports": ["c2"]}]}`
	// Any truncated-balanced prefix must still parse after auto-closing.
	for _, cut := range []int{len(full) - 3, len(full) - 10, len(full) - 25} {
		var got map[string]any
		assert.NoError(t, Parse(full[:cut], &got), "prefix[:%d]", cut)
	}
}

func TestDanglingQuoteSalvage(t *testing.T) {
	in := `{"thesis": "an unterminated string value`
	var got map[string]any
	require.NoError(t, Parse(in, &got))
	assert.Contains(t, got, "thesis")
}

func TestTailTrimRecovery(t *testing.T) {
	// A document followed by a long unparseable tail inside the structure:
	// dropping trailing garbage in fixed steps should eventually recover it.
	garbage := strings.Repeat("@", 70)
	in := `{"a": [1, 2, 3], "b": ` + garbage
	var got map[string]any
	require.NoError(t, Parse(in, &got))
	assert.Contains(t, got, "a")
}

func TestJSON5Tolerance(t *testing.T) {
	in := `{a: 1, b: 'two', trailing: [1, 2,],}`
	var got map[string]any
	assert.NoError(t, Parse(in, &got), "JSON5 input should parse")
}
