package providers

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const hashChunkSize = 64 * 1024

// ComputeOSHash computes the OpenSubtitles file hash: file size plus the
// little-endian uint64 sum of the first and last 64 KiB. Files smaller than
// one chunk hash what they have.
func ComputeOSHash(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	size := info.Size()
	if size == 0 {
		return "", 0, fmt.Errorf("empty file %s", path)
	}

	hash := uint64(size)
	sum, err := sumChunk(f, 0)
	if err != nil {
		return "", 0, err
	}
	hash += sum

	tail := size - hashChunkSize
	if tail < 0 {
		tail = 0
	}
	sum, err = sumChunk(f, tail)
	if err != nil {
		return "", 0, err
	}
	hash += sum

	return fmt.Sprintf("%016x", hash), size, nil
}

func sumChunk(f *os.File, offset int64) (uint64, error) {
	buf := make([]byte, hashChunkSize)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return 0, err
	}
	buf = buf[:n]

	var sum uint64
	for len(buf) >= 8 {
		sum += binary.LittleEndian.Uint64(buf)
		buf = buf[8:]
	}
	if len(buf) > 0 {
		padded := make([]byte, 8)
		copy(padded, buf)
		sum += binary.LittleEndian.Uint64(padded)
	}
	return sum, nil
}
