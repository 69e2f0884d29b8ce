package journal

import (
	log "log/slog"
)

// scanForResumePoint walks a journal file block by block from just after the header, folding
// records forward, and returns the block index and in-block byte offset where the next Log call
// should resume appending.
//
// A block is either: fully consumed by valid records followed by a pad record (scan continues
// to the next block), partially filled with valid records followed by unwritten (zero) bytes
// (this is the resume point), or entirely unwritten (this is the resume point, at offset 0).
//
// If a record fails to parse before either of those terminating conditions, the block -- and the
// whole file -- is considered to have a corrupt tail. With skipCorrupted, the scan stops at the
// last good boundary and logs a warning; otherwise it returns an error.
func scanForResumePoint(w *directWriter, skipCorrupted bool) (blockIndex int64, blockUsed int, err error) {
	size, serr := w.Size()
	if serr != nil {
		return 0, 0, serr
	}
	if size <= dataStart {
		return 0, 0, nil
	}

	block := w.alignedBlock()
	var idx int64
	for {
		off := int64(dataStart) + idx*blockSize
		if off >= size {
			return idx, 0, nil
		}
		n, rerr := w.ReadAt(block, off)
		if rerr != nil && n == 0 {
			return idx, 0, nil
		}
		used, full, perr := foldBlock(block[:n])
		if perr != nil {
			if skipCorrupted {
				log.Warn("xacoord/journal: corrupt record, truncating to last valid boundary", "block", idx, "error", perr)
				return idx, used, nil
			}
			return 0, 0, perr
		}
		if !full {
			return idx, used, nil
		}
		idx++
	}
}

// foldBlock scans every record in a block, returning the number of bytes consumed by valid
// records before either a pad record, unwritten space, or parse error is reached. full reports
// whether the block was terminated by a pad record (i.e. fully consumed and the scan should
// continue into the next block).
func foldBlock(block []byte) (used int, full bool, err error) {
	off := 0
	for {
		if off >= len(block) {
			return off, true, nil
		}
		if isZero(block[off:minInt(off+recordHeaderLen, len(block))]) {
			return off, false, nil
		}
		rec, n, perr := unmarshalRecord(block[off:])
		if perr != nil {
			return off, false, perr
		}
		if rec.Status == statusPad {
			return len(block), true, nil
		}
		off += n
	}
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// collectFromBlocks folds every record found in rawBlocks (raw concatenated block content, no
// header) keeping only the most recent record per gtrid, and returns those that are still
// dangling (non-terminal). Records never span blocks, so the fold walks block by block: a pad
// or an unwritten (zero) tail ends the current block, and a zero tail ends the scan entirely
// since nothing is ever appended after the resume point.
func collectFromBlocks(rawBlocks []byte, skipCorrupted bool) ([]Record, error) {
	latest := make(map[string]Record)
	order := make([]string, 0)

scan:
	for base := 0; base < len(rawBlocks); base += blockSize {
		block := rawBlocks[base:minInt(base+blockSize, len(rawBlocks))]
		off := 0
		for off < len(block) {
			if isZero(block[off:minInt(off+recordHeaderLen, len(block))]) {
				break scan
			}
			rec, n, err := unmarshalRecord(block[off:])
			if err != nil {
				if skipCorrupted {
					log.Warn("xacoord/journal: skipping corrupt record during scan", "error", err)
					break scan
				}
				return nil, err
			}
			if rec.Status == statusPad {
				break
			}
			off += n
			key := rec.Gtrid.String()
			if _, seen := latest[key]; !seen {
				order = append(order, key)
			}
			latest[key] = rec
		}
	}

	dangling := make([]Record, 0, len(order))
	for _, key := range order {
		rec := latest[key]
		if rec.Status.IsDangling() {
			dangling = append(dangling, rec)
		}
	}
	return dangling, nil
}
