package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		input Digest
		want  bool
	}{
		{
			name:  "Valid Digest",
			input: NewDigest(strings.Repeat("a", 64), 10),
			want:  true,
		},
		{
			name:  "Empty blob is valid",
			input: NewDigest(strings.Repeat("0", 64), 0),
			want:  true,
		},
		{
			name:  "Too Short",
			input: NewDigest("abc", 1),
			want:  false,
		},
		{
			name:  "Upper case",
			input: NewDigest(strings.Repeat("A", 64), 1),
			want:  false,
		},
		{
			name:  "Not hex",
			input: NewDigest(strings.Repeat("z", 64), 1),
			want:  false,
		},
		{
			name:  "Negative size",
			input: NewDigest(strings.Repeat("a", 64), -1),
			want:  false,
		},
		{
			name:  "Zero value",
			input: Digest{},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.input.IsValid())
		})
	}
}

func TestDigest_ValueSemantics(t *testing.T) {
	a := NewDigest(strings.Repeat("b", 64), 3)
	b := FromProto(a.ToProto())

	// 按值比较，可以作为 map key
	assert.Equal(t, a, b)
	seen := map[Digest]bool{a: true}
	assert.True(t, seen[b])

	// 不同 Size 就是不同的 Digest
	c := NewDigest(a.Hash, 4)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestDigest_FromNilProto(t *testing.T) {
	d := FromProto(nil)
	assert.True(t, d.IsZero())
}

func TestParseDigest(t *testing.T) {
	hash := strings.Repeat("c", 64)

	d, err := ParseDigest(hash + "/42")
	require.NoError(t, err)
	assert.Equal(t, NewDigest(hash, 42), d)
	assert.Equal(t, hash+"/42", d.String())
	assert.Equal(t, "cccccccc", d.Short())

	_, err = ParseDigest(hash)
	assert.Error(t, err)

	_, err = ParseDigest(hash + "/abc")
	assert.Error(t, err)

	_, err = ParseDigest("xyz/1")
	assert.Error(t, err)
}
