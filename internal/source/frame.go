package source

import (
	"bytes"
	"io"
)

// zstdMagic is the little-endian zstd frame magic number 0xFD2FB528.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// findFrame returns the offset of the first zstd frame header at or after from.
// It returns io.EOF when no further frame exists.
func findFrame(r io.ReaderAt, from int64) (int64, error) {
	const chunkSize = 64 << 10

	buf := make([]byte, chunkSize+len(zstdMagic)-1)
	pos := from
	for {
		n, err := r.ReadAt(buf, pos)
		if n > 0 {
			if i := bytes.Index(buf[:n], zstdMagic); i >= 0 {
				return pos + int64(i), nil
			}
		}
		if err == io.EOF || n < len(zstdMagic) {
			return 0, io.EOF
		}
		if err != nil {
			return 0, err
		}
		// Overlap so a magic number split across chunks is still found.
		pos += int64(n - len(zstdMagic) + 1)
	}
}
