package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    Entry
		wantErr bool
	}{
		{
			name: "full variant",
			key:  "p1_red_M",
			want: Entry{ProductID: "p1", Color: "red", Size: "M"},
		},
		{
			name: "color only",
			key:  "p1_red",
			want: Entry{ProductID: "p1", Color: "red"},
		},
		{
			name: "product only",
			key:  "p1",
			want: Entry{ProductID: "p1"},
		},
		{
			name: "hex color code",
			key:  "p42_#a1b2c3_XL",
			want: Entry{ProductID: "p42", Color: "#a1b2c3", Size: "XL"},
		},
		{
			name: "empty middle segment decodes as no color",
			key:  "p1__M",
			want: Entry{ProductID: "p1", Size: "M"},
		},
		{
			name:    "empty key",
			key:     "",
			wantErr: true,
		},
		{
			name:    "empty leading segment",
			key:     "_red_M",
			wantErr: true,
		},
		{
			name:    "too many segments",
			key:     "p1_red_M_extra",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeKey(tt.key)

			if tt.wantErr {
				var mkErr *MalformedKeyError
				require.ErrorAs(t, err, &mkErr)
				assert.Equal(t, tt.key, mkErr.Key)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode(t *testing.T) {
	entries, err := Decode(map[string]int{
		"p2":       1,
		"p1_red_M": 2,
		"p1_blue":  3,
	})

	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Lexicographic key order keeps output deterministic.
	assert.Equal(t, Entry{ProductID: "p1", Color: "blue", Quantity: 3}, entries[0])
	assert.Equal(t, Entry{ProductID: "p1", Color: "red", Size: "M", Quantity: 2}, entries[1])
	assert.Equal(t, Entry{ProductID: "p2", Quantity: 1}, entries[2])
}

func TestDecode_MalformedKeyFailsWholeCart(t *testing.T) {
	_, err := Decode(map[string]int{
		"p1_red": 1,
		"_bad":   1,
	})

	var mkErr *MalformedKeyError
	require.ErrorAs(t, err, &mkErr)
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name      string
		productID string
		color     string
		size      string
		want      string
		wantErr   bool
	}{
		{name: "full variant", productID: "p1", color: "red", size: "M", want: "p1_red_M"},
		{name: "color only", productID: "p1", color: "red", want: "p1_red"},
		{name: "product only", productID: "p1", want: "p1"},
		{name: "size only collapses to ambiguous two-segment key", productID: "p1", size: "M", want: "p1_M"},
		{name: "empty product id", wantErr: true},
		{name: "delimiter in color", productID: "p1", color: "navy_blue", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.productID, tt.color, tt.size)

			if tt.wantErr {
				var mkErr *MalformedKeyError
				require.ErrorAs(t, err, &mkErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	key, err := Encode("p9", "green", "S")
	require.NoError(t, err)

	got, err := DecodeKey(key)
	require.NoError(t, err)
	assert.Equal(t, Entry{ProductID: "p9", Color: "green", Size: "S"}, got)
}

func TestTagged_SizeOnlyIsUnambiguous(t *testing.T) {
	key, err := EncodeTagged("p1", "", "M")
	require.NoError(t, err)
	assert.Equal(t, "id=p1;size=M", key)

	got, err := DecodeTaggedKey(key)
	require.NoError(t, err)
	assert.Equal(t, Entry{ProductID: "p1", Size: "M"}, got)

	// The positional form of the same variant decodes to a color, not a size.
	positional, err := Encode("p1", "", "M")
	require.NoError(t, err)
	ambiguous, err := DecodeKey(positional)
	require.NoError(t, err)
	assert.Equal(t, "M", ambiguous.Color)
	assert.Empty(t, ambiguous.Size)
}

func TestDecodeTaggedKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    Entry
		wantErr bool
	}{
		{name: "full", key: "id=p1;color=red;size=M", want: Entry{ProductID: "p1", Color: "red", Size: "M"}},
		{name: "id only", key: "id=p1", want: Entry{ProductID: "p1"}},
		{name: "missing id", key: "color=red", wantErr: true},
		{name: "unknown field", key: "id=p1;style=slim", wantErr: true},
		{name: "field without value", key: "id=p1;color=", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeTaggedKey(tt.key)

			if tt.wantErr {
				var mkErr *MalformedKeyError
				require.ErrorAs(t, err, &mkErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
