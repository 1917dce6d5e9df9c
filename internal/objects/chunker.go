package objects

import (
	"io"

	resticChunker "github.com/restic/chunker"
)

const (
	kiB = 1024
	miB = 1024 * kiB

	// Files at or above this size get content-defined chunking so that
	// near-duplicate large files share most of their storage.
	chunkThreshold = 4 * miB

	minChunkSize = 512 * kiB
	maxChunkSize = 8 * miB
)

// chunkerPol is a fixed irreducible polynomial. It must never change:
// chunk boundaries have to be reproducible across processes and machines
// or dedup between repositories breaks.
const chunkerPol = resticChunker.Pol(0x3DA3358B4DC173)

type chunk struct {
	hash string
	data []byte
}

// splitChunks runs the rabin chunker over rd and hands each chunk to fn.
// fn owns the data slice it receives.
func splitChunks(rd io.Reader, fn func(chunk) error) (int64, error) {
	ch := resticChunker.NewWithBoundaries(rd, chunkerPol, minChunkSize, maxChunkSize)
	buf := make([]byte, maxChunkSize)

	var total int64
	for {
		c, err := ch.Next(buf)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}

		data := append([]byte(nil), c.Data...)
		total += int64(len(data))
		if err := fn(chunk{hash: HashBytes(data), data: data}); err != nil {
			return total, err
		}
	}
}
