package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec compresses and decompresses queue snapshots. Encoder and decoder are
// created once and reused; both are safe for concurrent use via EncodeAll and
// DecodeAll.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New constructs a zstd codec tuned for small JSON snapshots.
func New() (*Codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// Compress returns the zstd-compressed form of data.
func (c *Codec) Compress(data []byte) []byte {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

// Decompress reverses Compress. Corrupt input yields an error, never a panic.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	return out, nil
}

// Close releases encoder and decoder resources.
func (c *Codec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
