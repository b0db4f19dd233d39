package bundles

import (
	"encoding/binary"

	"github.com/ar-gateway/weave-gateway/internal/errs"
)

// decodeTags parses the Avro-encoded array-of-records tag list ANS-104
// embeds in a data item: a sequence of blocks, each a zigzag-varint
// element count followed by that many (name, value) string pairs, array
// terminated by a zero-count block. Strings are themselves zigzag-varint
// length-prefixed byte arrays. This is the same framing arweave-js uses
// to encode tags before hashing/signing.
func decodeTags(b []byte) ([]Tag, error) {
	var tags []Tag
	pos := 0
	for {
		count, n, err := decodeZigzag(b, pos)
		if err != nil {
			return nil, err
		}
		pos = n
		if count == 0 {
			break
		}
		if count < 0 {
			// Avro allows a negative block count followed by a byte size
			// of the block; not used by ANS-104 tag encoding in practice,
			// treated as malformed here.
			return nil, errs.New(errs.KindMalformedInput, "bundles: negative avro block count unsupported")
		}
		for i := int64(0); i < count; i++ {
			name, next, err := decodeAvroString(b, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			value, next2, err := decodeAvroString(b, pos)
			if err != nil {
				return nil, err
			}
			pos = next2
			tags = append(tags, Tag{Name: name, Value: value})
		}
	}
	return tags, nil
}

func decodeAvroString(b []byte, pos int) (string, int, error) {
	length, next, err := decodeZigzag(b, pos)
	if err != nil {
		return "", 0, err
	}
	if length < 0 || next+int(length) > len(b) {
		return "", 0, errs.New(errs.KindMalformedInput, "bundles: avro string out of bounds")
	}
	return string(b[next : next+int(length)]), next + int(length), nil
}

func decodeZigzag(b []byte, pos int) (int64, int, error) {
	u, n := binary.Uvarint(b[pos:])
	if n <= 0 {
		return 0, 0, errs.New(errs.KindMalformedInput, "bundles: truncated avro varint")
	}
	return int64(u>>1) ^ -int64(u&1), pos + n, nil
}

// encodeTags is the inverse of decodeTags, used by tests to build
// fixtures and by the deep-hash input (tags_bytes is the raw encoded
// form, not the parsed []Tag).
func encodeTags(tags []Tag) []byte {
	var out []byte
	out = append(out, encodeZigzag(int64(len(tags)))...)
	for _, t := range tags {
		out = append(out, encodeAvroString(t.Name)...)
		out = append(out, encodeAvroString(t.Value)...)
	}
	if len(tags) > 0 {
		out = append(out, encodeZigzag(0)...)
	}
	return out
}

func encodeAvroString(s string) []byte {
	out := encodeZigzag(int64(len(s)))
	return append(out, []byte(s)...)
}

func encodeZigzag(v int64) []byte {
	u := uint64((v << 1) ^ (v >> 63))
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, u)
	return buf[:n]
}
