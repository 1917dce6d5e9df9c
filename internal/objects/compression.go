package objects

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Objects below this size are stored raw; the zstd frame overhead is not
// worth it.
const minCompressSize = 1024

// compressor pools zstd encoders and decoders across goroutines.
type compressor struct {
	encoders sync.Pool
	decoders sync.Pool
}

func newCompressor(level int) *compressor {
	return &compressor{
		encoders: sync.Pool{
			New: func() interface{} {
				enc, _ := zstd.NewWriter(nil,
					zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
					zstd.WithEncoderConcurrency(1),
				)
				return enc
			},
		},
		decoders: sync.Pool{
			New: func() interface{} {
				dec, _ := zstd.NewReader(nil,
					zstd.WithDecoderConcurrency(1),
				)
				return dec
			},
		},
	}
}

// compress returns the encoded bytes and whether compression was applied.
// Content that grows under zstd (already-compressed media, the common case
// in image and video datasets) is kept raw.
func (c *compressor) compress(content []byte) ([]byte, bool) {
	if len(content) < minCompressSize {
		return content, false
	}

	enc := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(enc)

	out := enc.EncodeAll(content, make([]byte, 0, len(content)))
	if len(out) >= len(content) {
		return content, false
	}
	return out, true
}

// decompress decodes a zstd-encoded object. Whether an object was stored
// compressed is recorded in its metadata, never inferred from the bytes:
// stored content may legitimately be a zstd frame itself.
func (c *compressor) decompress(content []byte) ([]byte, error) {
	dec := c.decoders.Get().(*zstd.Decoder)
	defer c.decoders.Put(dec)

	out, err := dec.DecodeAll(content, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing object: %w", err)
	}
	return out, nil
}
