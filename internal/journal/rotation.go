package journal

import "fmt"

// rotateLocked switches the active file to the currently inactive one, carrying forward every
// still-dangling record (rotation must never drop an in-doubt transaction). Caller must
// hold j.mu and is responsible for continuing the append that triggered rotation afterwards.
func (j *Journal) rotateLocked() error {
	if j.rotating {
		return fmt.Errorf("xacoord/journal: dangling records exceed journal capacity, increase MaxLogSizeInMb")
	}
	j.rotating = true
	defer func() { j.rotating = false }()

	oldIdx := j.state.activeIdx
	newIdx := 1 - oldIdx

	raw, err := j.readActiveRawLocked()
	if err != nil {
		return fmt.Errorf("xacoord/journal: reading active file for rotation: %w", err)
	}
	dangling, err := collectFromBlocks(raw, j.cfg.SkipCorruptedLogs)
	if err != nil {
		return fmt.Errorf("xacoord/journal: folding dangling records for rotation: %w", err)
	}

	// Truncate away the new file's previous epoch so a scan can never walk past the fresh
	// records into stale ones that still carry valid CRCs.
	newFile := j.files[newIdx]
	if err := newFile.w.Truncate(0); err != nil {
		return fmt.Errorf("xacoord/journal: truncating %s for rotation: %w", newFile.filename, err)
	}
	if err := writeHeader(newFile.w, newHeader()); err != nil {
		return err
	}

	j.state.activeIdx = newIdx
	j.state.blockIndex = 0
	j.state.blockUsed = 0
	j.state.block = newFile.w.alignedBlock()

	for i := range j.state.block {
		j.state.block[i] = 0
	}

	for _, rec := range dangling {
		rec.Sequence = j.nextSequenceLocked()
		if err := j.appendLocked(rec); err != nil {
			return fmt.Errorf("xacoord/journal: copying dangling record forward: %w", err)
		}
	}
	if err := j.flushCurrentBlockLocked(); err != nil {
		return err
	}

	// The old file is now fully superseded; its header timestamp is left untouched so a restart
	// correctly recognizes the new file (later activatedAtMs) as active.
	return nil
}

// readActiveRawLocked returns every byte written so far to the active file's data region (i.e.
// excluding the header block), across all fully written blocks plus the partially filled current
// one. Reads go block by block through an aligned buffer so direct-I/O alignment holds.
func (j *Journal) readActiveRawLocked() ([]byte, error) {
	active := j.files[j.state.activeIdx]
	size, err := active.w.Size()
	if err != nil {
		return nil, err
	}
	dataLen := size - dataStart
	if dataLen <= 0 {
		return nil, nil
	}
	buf := make([]byte, dataLen)
	block := active.w.alignedBlock()
	for off := int64(0); off < dataLen; off += blockSize {
		n, rerr := active.w.ReadAt(block, int64(dataStart)+off)
		if n > 0 {
			copy(buf[off:], block[:n])
		}
		if rerr != nil {
			break
		}
	}
	// The in-memory block for the current (not yet fully flushed-to-its-final-form) block index
	// is authoritative over whatever is on disk at that offset.
	curOff := j.state.blockIndex * blockSize
	if curOff < int64(len(buf)) {
		copy(buf[curOff:], j.state.block)
	} else if curOff == int64(len(buf)) {
		buf = append(buf, j.state.block...)
	}
	return buf, nil
}
