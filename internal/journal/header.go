package journal

import (
	"encoding/binary"
	"fmt"
)

// header is the fixed file header written at offset 0 of every journal file: an 8-byte magic,
// a 4-byte format version, a 4-byte header length (so future versions can grow the header
// without breaking readers), and an 8-byte activation timestamp used to pick the active file at
// Open() -- whichever file was most recently activated wins.
type header struct {
	activatedAtMs int64
}

const (
	headerMagic   = "XACDJRNL"
	headerVersion = uint32(1)
	headerLen     = 8 + 4 + 4 + 8
)

// The header owns the whole first block of the file: direct I/O needs every file offset
// block-aligned, so the data region starts at blockSize, not headerLen.
const dataStart = blockSize

func newHeader() header {
	return header{activatedAtMs: nowMs()}
}

func writeHeader(w *directWriter, h header) error {
	block := w.alignedBlock()
	copy(block[0:8], headerMagic)
	binary.BigEndian.PutUint32(block[8:12], headerVersion)
	binary.BigEndian.PutUint32(block[12:16], headerLen)
	binary.BigEndian.PutUint64(block[16:24], uint64(h.activatedAtMs))
	if _, err := w.WriteAt(block, 0); err != nil {
		return fmt.Errorf("xacoord/journal: writing header: %w", err)
	}
	return w.Sync()
}

// readHeader reads and validates the file header. ok is false if the file is new (all zero /
// too short) or its magic does not match -- in either case the caller treats the file as never
// activated.
func readHeader(w *directWriter) (header, bool) {
	size, err := w.Size()
	if err != nil || size < headerLen {
		return header{}, false
	}
	block := w.alignedBlock()
	n, err := w.ReadAt(block, 0)
	if err != nil && n < headerLen {
		return header{}, false
	}
	if string(block[0:8]) != headerMagic {
		return header{}, false
	}
	return header{activatedAtMs: int64(binary.BigEndian.Uint64(block[16:24]))}, true
}
