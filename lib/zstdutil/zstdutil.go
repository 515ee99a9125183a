// Package zstdutil compresses small relay payloads with zstd.
package zstdutil

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// CompressionLevel represents the zstd compression level.
type CompressionLevel string

const (
	LevelFastest CompressionLevel = "fastest"
	LevelDefault CompressionLevel = "default"
	LevelBetter  CompressionLevel = "better"
	LevelBest    CompressionLevel = "best"
)

// ToZstdLevel converts a CompressionLevel to a zstd.EncoderLevel.
func (l CompressionLevel) ToZstdLevel() zstd.EncoderLevel {
	switch l {
	case LevelFastest:
		return zstd.SpeedFastest
	case LevelBetter:
		return zstd.SpeedBetterCompression
	case LevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// Valid reports whether l is a known level. The empty level means default.
func (l CompressionLevel) Valid() bool {
	switch l {
	case "", LevelFastest, LevelDefault, LevelBetter, LevelBest:
		return true
	}
	return false
}

// maxDecodedSize bounds a single decoded payload. Captured frames are data
// URLs, so a few megabytes is generous.
const maxDecodedSize = 32 << 20

// Codec compresses whole payloads. It is safe for concurrent use.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder

	closeOnce sync.Once
}

// NewCodec creates a Codec at the given level.
func NewCodec(level CompressionLevel) (*Codec, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(level.ToZstdLevel()),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxDecodedSize),
	)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Compress returns the zstd frame for src.
func (c *Codec) Compress(src []byte) []byte {
	return c.enc.EncodeAll(src, make([]byte, 0, len(src)/2))
}

// Decompress returns the payload held in a zstd frame.
func (c *Codec) Decompress(src []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// Close releases the encoder and decoder.
func (c *Codec) Close() {
	c.closeOnce.Do(func() {
		_ = c.enc.Close()
		c.dec.Close()
	})
}
