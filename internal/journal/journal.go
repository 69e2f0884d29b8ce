// Package journal implements the coordinator's durable decision log: a dual-file, force-written,
// rotating append log with CRC-protected, block-aligned records and a dangling-record collector
// used by the recovery engine.
package journal

import (
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"

	"github.com/sharedcode/xacoord"
)

// Config carries the journal's externally supplied options (mirrors the relevant fields of
// xacoord.Configuration so this package does not depend on the Configuration type).
type Config struct {
	Filename1            string
	Filename2            string
	MaxLogSizeInMb       int
	ForcedWriteEnabled   bool
	ForceBatchingEnabled bool
	SkipCorruptedLogs    bool
}

// Journal is the dual-file rotating decision log. All mutable state is guarded by mu; mu is
// also what gives the journal its total write ordering.
type Journal struct {
	cfg   Config
	files [2]*fileState

	mu        sync.Mutex
	state     journalState
	appendSeq uint64
	sequence  uint32
	rotating  bool

	coalescer syncCoalescer
}

type fileState struct {
	w        *directWriter
	filename string
}

// journalState is everything mu protects: which file is active and the in-memory image of the
// block currently being appended to.
type journalState struct {
	activeIdx  int
	block      []byte
	blockIndex int64
	blockUsed  int
}

// Open opens both journal files, selects the active one by header activation timestamp, and
// positions the journal to resume appending after the last valid record.
func Open(cfg Config) (*Journal, error) {
	if cfg.MaxLogSizeInMb <= 0 {
		cfg.MaxLogSizeInMb = 4
	}
	j := &Journal{cfg: cfg}

	for i, fn := range []string{cfg.Filename1, cfg.Filename2} {
		w, err := openDirectWriter(fn, cfg.ForcedWriteEnabled)
		if err != nil {
			return nil, fmt.Errorf("xacoord/journal: opening %s: %w", fn, err)
		}
		j.files[i] = &fileState{w: w, filename: fn}
	}

	h0, ok0 := readHeader(j.files[0].w)
	h1, ok1 := readHeader(j.files[1].w)

	active := 0
	switch {
	case ok0 && ok1:
		if h1.activatedAtMs > h0.activatedAtMs {
			active = 1
		}
	case ok1 && !ok0:
		active = 1
	case !ok0 && !ok1:
		if err := writeHeader(j.files[0].w, newHeader()); err != nil {
			return nil, err
		}
		active = 0
	}
	j.state.activeIdx = active

	blockIdx, blockUsed, err := scanForResumePoint(j.files[active].w, cfg.SkipCorruptedLogs)
	if err != nil {
		return nil, fmt.Errorf("xacoord/journal: %s: %w", j.files[active].filename, err)
	}
	j.state.blockIndex = blockIdx
	j.state.blockUsed = blockUsed
	j.state.block = j.files[active].w.alignedBlock()
	if blockUsed > 0 {
		if n, err := j.files[active].w.ReadAt(j.state.block[:blockSize], dataStart+blockIdx*blockSize); err != nil && n < blockSize {
			return nil, fmt.Errorf("xacoord/journal: reloading resume block: %w", err)
		}
	}

	return j, nil
}

// maxBlocks is how many data blocks fit in MaxLogSizeInMb once the header block is paid for.
func (j *Journal) maxBlocks() int64 {
	return int64(j.cfg.MaxLogSizeInMb)*1024*1024/blockSize - 1
}

func (j *Journal) nextSequenceLocked() uint32 {
	j.sequence++
	return j.sequence
}

// Log appends a record for gtrid/status/uniqueNames. If cfg.ForcedWriteEnabled, Log does not
// return until the record is durable on stable storage; if cfg.ForceBatchingEnabled is also set,
// concurrent Log calls may share a single fsync, but each still waits for its own record.
func (j *Journal) Log(status Status, gtrid xacoord.Uid, uniqueNames []string) error {
	j.mu.Lock()

	rec := Record{
		Status:      status,
		Gtrid:       gtrid,
		UniqueNames: uniqueNames,
		TimestampMs: nowMs(),
		Sequence:    j.nextSequenceLocked(),
	}
	if err := j.appendLocked(rec); err != nil {
		j.mu.Unlock()
		return err
	}
	if err := j.flushCurrentBlockLocked(); err != nil {
		j.mu.Unlock()
		return err
	}
	mySeq := atomic.AddUint64(&j.appendSeq, 1)
	j.mu.Unlock()

	if !j.cfg.ForcedWriteEnabled {
		return nil
	}
	if j.cfg.ForceBatchingEnabled {
		return j.coalescer.syncAfter(mySeq, j.syncActiveFile)
	}
	return j.syncActiveFile()
}

// appendLocked writes rec's encoded bytes into the in-memory current block, rotating to a new
// block (and, if the active file is full, to the other file) as needed. It does not itself push
// bytes to disk -- flushCurrentBlockLocked or rotateLocked's internal flush do that.
func (j *Journal) appendLocked(rec Record) error {
	data := rec.marshal()
	if len(data) > blockSize {
		return fmt.Errorf("xacoord/journal: record of %d bytes exceeds block size %d", len(data), blockSize)
	}

	if j.state.blockUsed+len(data) > blockSize {
		if err := j.padAndAdvanceLocked(); err != nil {
			return err
		}
	}

	copy(j.state.block[j.state.blockUsed:], data)
	j.state.blockUsed += len(data)
	return nil
}

// padAndAdvanceLocked fills the remainder of the current block with a pad record, flushes it,
// and moves to the next block, rotating files first if the active file is at capacity.
func (j *Journal) padAndAdvanceLocked() error {
	if j.state.blockUsed > 0 {
		for i := j.state.blockUsed; i < blockSize; i++ {
			j.state.block[i] = byte(statusPad)
		}
		if err := j.flushCurrentBlockLocked(); err != nil {
			return err
		}
	}

	if j.state.blockIndex+1 >= j.maxBlocks() {
		if err := j.rotateLocked(); err != nil {
			return err
		}
		return nil
	}

	j.state.blockIndex++
	j.state.blockUsed = 0
	for i := range j.state.block {
		j.state.block[i] = 0
	}
	return nil
}

func (j *Journal) flushCurrentBlockLocked() error {
	active := j.files[j.state.activeIdx]
	off := int64(dataStart) + j.state.blockIndex*blockSize
	_, err := active.w.WriteAt(j.state.block, off)
	return err
}

func (j *Journal) syncActiveFile() error {
	j.mu.Lock()
	active := j.files[j.state.activeIdx]
	j.mu.Unlock()
	return active.w.Sync()
}

// CollectDanglingRecords scans the active file and returns every gtrid whose most recent record
// is still in doubt (StatusCommitting or StatusRollingBack), used by the recovery engine.
func (j *Journal) CollectDanglingRecords() ([]Record, error) {
	j.mu.Lock()
	raw, err := j.readActiveRawLocked()
	skip := j.cfg.SkipCorruptedLogs
	j.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return collectFromBlocks(raw, skip)
}

// Close releases the underlying file descriptors without any further flush.
func (j *Journal) Close() error {
	var firstErr error
	for _, f := range j.files {
		if f == nil {
			continue
		}
		if err := f.w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Shutdown flushes and syncs the active file before closing, so a graceful shutdown never
// depends on the OS scheduling a deferred fsync.
func (j *Journal) Shutdown() error {
	j.mu.Lock()
	ferr := j.flushCurrentBlockLocked()
	j.mu.Unlock()
	if ferr != nil {
		log.Warn("xacoord/journal: flush during shutdown failed", "error", ferr)
	}
	if serr := j.syncActiveFile(); serr != nil {
		log.Warn("xacoord/journal: sync during shutdown failed", "error", serr)
	}
	return j.Close()
}
