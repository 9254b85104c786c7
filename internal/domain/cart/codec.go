// Package cart encodes and decodes the compact line-item keys used to address
// a product + variant combination inside a shopping cart.
//
// The legacy wire format is positional: productId[_color][_size], joined with
// "_". The first segment is always the product ID; the second, when present,
// is the color; the third is the size. A variant that has only a size and no
// color cannot be distinguished from a color-only variant by position alone.
// New callers should prefer the tagged format produced by EncodeTagged, which
// is self-describing and has no such ambiguity.
package cart

import (
	"fmt"
	"sort"
	"strings"
)

// Delimiter separates the positional segments of a line-item key.
const Delimiter = "_"

// tagged format: id=p1;color=red;size=M
const (
	taggedSep    = ";"
	taggedAssign = "="
)

// Entry is a single decoded cart line item.
type Entry struct {
	ProductID string
	Color     string
	Size      string
	Quantity  int
}

// MalformedKeyError indicates a line-item key that cannot be decoded.
type MalformedKeyError struct {
	Key    string
	Reason string
}

func (e *MalformedKeyError) Error() string {
	return fmt.Sprintf("malformed line item key %q: %s", e.Key, e.Reason)
}

// Decode converts a cart-items mapping (line-item key -> quantity) into a
// slice of entries. Entries are returned in lexicographic key order so the
// output is deterministic; downstream consumers must not rely on any
// particular ordering. Quantities are copied as-is; quantity validation is
// the order service's responsibility.
func Decode(items map[string]int) ([]Entry, error) {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		e, err := DecodeKey(k)
		if err != nil {
			return nil, err
		}
		e.Quantity = items[k]
		entries = append(entries, e)
	}
	return entries, nil
}

// DecodeKey decodes a single positional line-item key. The returned entry has
// a zero quantity.
func DecodeKey(key string) (Entry, error) {
	segments := strings.Split(key, Delimiter)
	if segments[0] == "" {
		return Entry{}, &MalformedKeyError{Key: key, Reason: "empty product id"}
	}
	if len(segments) > 3 {
		return Entry{}, &MalformedKeyError{Key: key, Reason: "too many segments"}
	}

	e := Entry{ProductID: segments[0]}
	if len(segments) > 1 {
		e.Color = segments[1]
	}
	if len(segments) > 2 {
		e.Size = segments[2]
	}
	return e, nil
}

// Encode builds a positional line-item key from the given parts, joining only
// the present segments. Trailing empty segments are omitted, which is exactly
// where the positional ambiguity comes from: Encode("p1", "", "M") yields
// "p1_M", indistinguishable from a color-only variant. The ambiguity is
// preserved for wire compatibility rather than silently resolved; see
// EncodeTagged for the unambiguous form.
func Encode(productID, color, size string) (string, error) {
	if productID == "" {
		return "", &MalformedKeyError{Reason: "empty product id"}
	}
	if strings.Contains(productID, Delimiter) || strings.Contains(color, Delimiter) || strings.Contains(size, Delimiter) {
		return "", &MalformedKeyError{Reason: "segment contains delimiter"}
	}

	parts := []string{productID}
	if color != "" {
		parts = append(parts, color)
	}
	if size != "" {
		parts = append(parts, size)
	}
	return strings.Join(parts, Delimiter), nil
}

// EncodeTagged builds a self-describing line-item key of the form
// "id=p1;color=red;size=M". Empty fields are omitted entirely, so a size-only
// variant round-trips without ambiguity.
func EncodeTagged(productID, color, size string) (string, error) {
	if productID == "" {
		return "", &MalformedKeyError{Reason: "empty product id"}
	}
	for _, v := range []string{productID, color, size} {
		if strings.ContainsAny(v, taggedSep+taggedAssign) {
			return "", &MalformedKeyError{Reason: "field contains reserved character"}
		}
	}

	var b strings.Builder
	b.WriteString("id")
	b.WriteString(taggedAssign)
	b.WriteString(productID)
	if color != "" {
		b.WriteString(taggedSep + "color" + taggedAssign + color)
	}
	if size != "" {
		b.WriteString(taggedSep + "size" + taggedAssign + size)
	}
	return b.String(), nil
}

// DecodeTaggedKey decodes a tagged line-item key produced by EncodeTagged.
// Unknown fields are rejected. The returned entry has a zero quantity.
func DecodeTaggedKey(key string) (Entry, error) {
	var e Entry
	for _, field := range strings.Split(key, taggedSep) {
		name, value, ok := strings.Cut(field, taggedAssign)
		if !ok || value == "" {
			return Entry{}, &MalformedKeyError{Key: key, Reason: "field without value"}
		}
		switch name {
		case "id":
			e.ProductID = value
		case "color":
			e.Color = value
		case "size":
			e.Size = value
		default:
			return Entry{}, &MalformedKeyError{Key: key, Reason: fmt.Sprintf("unknown field %q", name)}
		}
	}
	if e.ProductID == "" {
		return Entry{}, &MalformedKeyError{Key: key, Reason: "empty product id"}
	}
	return e, nil
}
