package bundles

import (
	"crypto/sha512"
	"io"
	"strconv"
)

// Hashable is one element of a deep-hash list: either an in-memory blob or
// a streamed blob of known size (used for the data item's "data" field,
// which may be large and is read from the temp file rather than buffered
// in memory).
type Hashable interface {
	blobHash() ([48]byte, error)
}

type blobBytes []byte

func (b blobBytes) blobHash() ([48]byte, error) {
	return hashBlob(int64(len(b)), func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	})
}

// Bytes wraps a []byte as a Hashable deep-hash blob.
func Bytes(b []byte) Hashable { return blobBytes(b) }

type streamBlob struct {
	size int64
	r    io.Reader
}

func (s streamBlob) blobHash() ([48]byte, error) {
	return hashBlob(s.size, func(w io.Writer) error {
		_, err := io.Copy(w, s.r)
		return err
	})
}

// Stream wraps a streamed blob of known size as a Hashable, so large data
// item payloads are hashed without buffering (§5's "hash update"
// suspension point).
func Stream(size int64, r io.Reader) Hashable { return streamBlob{size: size, r: r} }

func hashBlob(size int64, write func(io.Writer) error) ([48]byte, error) {
	tag := sha512.Sum384(append([]byte("blob"), []byte(strconv.FormatInt(size, 10))...))
	dataHash := sha512.New384()
	if err := write(dataHash); err != nil {
		return [48]byte{}, err
	}
	var combined [96]byte
	copy(combined[:48], tag[:])
	copy(combined[48:], dataHash.Sum(nil))
	return sha512.Sum384(combined[:]), nil
}

// DeepHash computes the ANS-104 deep hash of an ordered list of elements,
// per the streaming length-prefixed tagged hash described in the
// Glossary: the arweave-js deepHash algorithm, which this package
// reimplements directly against SHA-384 (stdlib crypto/sha512) since it is
// a closed, well-documented construction with no separate library in the
// pack.
func DeepHash(elements ...Hashable) ([48]byte, error) {
	tag := sha512.Sum384(append([]byte("list"), []byte(strconv.Itoa(len(elements)))...))
	acc := tag
	for _, el := range elements {
		h, err := el.blobHash()
		if err != nil {
			return [48]byte{}, err
		}
		var combined [96]byte
		copy(combined[:48], acc[:])
		copy(combined[48:], h[:])
		acc = sha512.Sum384(combined[:])
	}
	return acc, nil
}
