// Package transport carries alerts and commands between agents and the
// central system over NATS, with zstd compression for large payloads and
// schema validation on the receiving side.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// compressThreshold is the encoded size above which payloads are
// compressed. Small alerts ship as plain JSON.
const compressThreshold = 1024

// zstdMagic prefixes every zstd frame and is how Decode tells compressed
// payloads from plain JSON.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Encode marshals v to JSON, compressing when the payload is large enough
// to benefit.
func Encode(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if len(payload) < compressThreshold {
		return payload, nil
	}
	return zstdEncoder.EncodeAll(payload, make([]byte, 0, len(payload)/2)), nil
}

// Decode unmarshals data into v, transparently decompressing zstd frames.
func Decode(data []byte, v any) error {
	payload, err := rawPayload(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// rawPayload returns the plain JSON bytes of a possibly compressed payload.
func rawPayload(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	payload, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	return payload, nil
}
