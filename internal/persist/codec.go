package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pierrec/lz4/v4"

	"towerdefense/server/internal/game"
)

// lz4Magic opens every lz4 frame.
var lz4Magic = []byte{0x04, 0x22, 0x4D, 0x18}

// Encode serializes doc as JSON, wrapped in an lz4 frame when compress is set.
func Encode(doc Document, compress bool) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("persist: encode document: %w", err)
	}
	if !compress {
		return data, nil
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("persist: compress document: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("persist: compress document: %w", err)
	}
	return buf.Bytes(), nil
}

// Compressed reports whether data starts with an lz4 frame.
func Compressed(data []byte) bool {
	return bytes.HasPrefix(data, lz4Magic)
}

// Unwrap returns the JSON payload of data, decompressing lz4 frames.
func Unwrap(data []byte) ([]byte, error) {
	if !Compressed(data) {
		return data, nil
	}
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("persist: decompress document: %w", err)
	}
	return out, nil
}

// Decode unwraps and hydrates a stored snapshot.
func Decode(data []byte, now time.Time) ([]*game.Room, Report, error) {
	payload, err := Unwrap(data)
	if err != nil {
		return nil, Report{}, err
	}
	return Hydrate(payload, now)
}
