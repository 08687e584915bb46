package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// CompressThreshold is the serialized size above which values are gzipped.
	CompressThreshold = 30 * 1024

	// MaxCompressedSize is the store's per-value ceiling. Values whose gzip
	// output still exceeds this are not cached.
	MaxCompressedSize = 65300
)

// ErrOversize reports a value too large to cache even after compression.
// Callers treat it as a warning; it never fails the request.
var ErrOversize = errors.New("cache: value exceeds size limit after compression")

// Envelope is the stored form of a compressed value. Uncompressed values are
// stored as raw JSON with no wrapper.
type Envelope struct {
	Compressed bool   `json:"compressed"`
	Data       []byte `json:"data"`
}

// EncodeValue prepares payload for storage. Payloads at or below
// CompressThreshold are stored raw; larger ones are gzip-wrapped.
func EncodeValue(payload []byte) ([]byte, error) {
	if len(payload) <= CompressThreshold {
		return payload, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("cache: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("cache: compress: %w", err)
	}

	wrapped, err := json.Marshal(Envelope{Compressed: true, Data: buf.Bytes()})
	if err != nil {
		return nil, fmt.Errorf("cache: wrap envelope: %w", err)
	}
	if len(wrapped) > MaxCompressedSize {
		return nil, ErrOversize
	}
	return wrapped, nil
}

// DecodeValue reverses EncodeValue, detecting and unwrapping the gzip
// envelope. Round-trips are byte-exact.
func DecodeValue(stored []byte) ([]byte, error) {
	var envelope Envelope
	if err := json.Unmarshal(stored, &envelope); err != nil || !envelope.Compressed {
		// Raw JSON value stored without a wrapper.
		return stored, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(envelope.Data))
	if err != nil {
		return nil, fmt.Errorf("cache: decompress: %w", err)
	}
	defer zr.Close()

	payload, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("cache: decompress: %w", err)
	}
	return payload, nil
}
