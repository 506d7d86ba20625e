package cas

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowMs(t *testing.T) {
	// Year 2024 in milliseconds is approximately 1704067200000
	assert.Greater(t, NowMs(), int64(1704067200000))
}

func TestCanonicalJSON_SortsKeys(t *testing.T) {
	input := map[string]any{
		"z": 1,
		"a": map[string]any{"b": 1, "a": 2},
		"m": []any{map[string]any{"y": 1, "x": 2}},
	}

	result, err := CanonicalJSON(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"a":2,"b":1},"m":[{"x":2,"y":1}],"z":1}`, string(result))
}

func TestCanonicalJSON_StructFieldOrderIrrelevant(t *testing.T) {
	type ab struct {
		A string `json:"a"`
		B int    `json:"b"`
	}
	type ba struct {
		B int    `json:"b"`
		A string `json:"a"`
	}

	left, err := CanonicalJSON(ab{A: "x", B: 2})
	require.NoError(t, err)
	right, err := CanonicalJSON(ba{B: 2, A: "x"})
	require.NoError(t, err)
	assert.Equal(t, string(left), string(right))
}

func TestCanonicalJSON_Primitives(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"number", 42, "42"},
		{"large int keeps precision", int64(9007199254740993), "9007199254740993"},
		{"float", 3.14, "3.14"},
		{"bool", true, "true"},
		{"null", nil, "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := CanonicalJSON(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestBlake3HashHex(t *testing.T) {
	a := Blake3HashHex([]byte("hello world"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, Blake3HashHex([]byte("hello world")))
	assert.NotEqual(t, a, Blake3HashHex([]byte("hello world!")))
}

func TestHashReaderMatchesHashHex(t *testing.T) {
	data := strings.Repeat("graph-record\n", 5000)
	streamed, err := HashReader(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, Blake3HashHex([]byte(data)), streamed)
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"metadata"}`), 0644))

	digest, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, Blake3HashHex([]byte(`{"type":"metadata"}`)), digest)

	_, err = HashFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

func TestKeyHex(t *testing.T) {
	k := KeyHex("class", "Acme.Billing.Invoice")
	assert.Len(t, k, KeySize*2)
	assert.Equal(t, k, KeyHex("class", "Acme.Billing.Invoice"))
	assert.NotEqual(t, k, KeyHex("interface", "Acme.Billing.Invoice"))
	assert.NotEqual(t, k, KeyHex("classAcme.Billing.Invoice"))
}

func TestCanonicalHashHex_OrderInsensitiveMaps(t *testing.T) {
	h1, err := CanonicalHashHex(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	h2, err := CanonicalHashHex(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
