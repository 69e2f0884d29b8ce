package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/sharedcode/xacoord"
)

// Status is a journal record's decision marker.
type Status uint8

const (
	// StatusCommitting is logged once, before the Committer runs.
	StatusCommitting Status = iota + 1
	// StatusCommitted is the terminal record of a successful commit.
	StatusCommitted
	// StatusRollingBack is logged once, before the Rollbacker runs.
	StatusRollingBack
	// StatusRolledBack is the terminal record of a successful rollback.
	StatusRolledBack
	// statusPad is the distinguished status byte that fills the remainder of a block when the
	// next real record would not otherwise fit without spanning a boundary. A pad has no body:
	// the fill byte itself is the whole record, repeated to the block's end.
	statusPad Status = 0xFF
)

// IsTerminal reports whether s is one of the two terminal statuses.
func (s Status) IsTerminal() bool {
	return s == StatusCommitted || s == StatusRolledBack
}

// IsDangling reports whether s is one of the two non-terminal "in doubt" statuses.
func (s Status) IsDangling() bool {
	return s == StatusCommitting || s == StatusRollingBack
}

func (s Status) String() string {
	switch s {
	case StatusCommitting:
		return "COMMITTING"
	case StatusCommitted:
		return "COMMITTED"
	case StatusRollingBack:
		return "ROLLING_BACK"
	case StatusRolledBack:
		return "ROLLEDBACK"
	case statusPad:
		return "PAD"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// Record is one journal entry: a transaction status plus the set of resource uniqueNames
// involved, CRC-protected and never spanning a filesystem block.
type Record struct {
	Status      Status
	Gtrid       xacoord.Uid
	UniqueNames []string
	TimestampMs int64
	Sequence    uint32
}

// encodedLen returns the on-disk size of the record (excluding any pad bytes).
func (r Record) encodedLen() int {
	return recordHeaderLen + xacoord.UidSize + 4 + len(encodeNames(r.UniqueNames))
}

const recordHeaderLen = 1 + 8 + 4 + 4 + 4 // status, timestamp, sequence, crc32, gtridLen

func encodeNames(names []string) []byte {
	return []byte(strings.Join(names, "\x00"))
}

func decodeNames(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	return strings.Split(string(b), "\x00")
}

// marshal encodes r as: status(1) ts(8) seq(4) crc32(4) gtridLen(4) gtrid namesLen(4) names.
// crc32 covers every field except itself.
func (r Record) marshal() []byte {
	names := encodeNames(r.UniqueNames)
	gtrid := r.Gtrid.Bytes()

	body := new(bytes.Buffer)
	body.WriteByte(byte(r.Status))
	writeUint64(body, uint64(r.TimestampMs))
	writeUint32(body, r.Sequence)
	writeUint32(body, uint32(len(gtrid)))
	body.Write(gtrid)
	writeUint32(body, uint32(len(names)))
	body.Write(names)

	crc := crc32.ChecksumIEEE(body.Bytes())

	out := new(bytes.Buffer)
	out.WriteByte(byte(r.Status))
	writeUint64(out, uint64(r.TimestampMs))
	writeUint32(out, r.Sequence)
	writeUint32(out, crc)
	writeUint32(out, uint32(len(gtrid)))
	out.Write(gtrid)
	writeUint32(out, uint32(len(names)))
	out.Write(names)
	return out.Bytes()
}

// unmarshalRecord parses one record from the front of b, returning the record, the number of
// bytes it consumed, and an error if the header is truncated, the body is zero-length where a
// body is required, or the CRC does not match.
func unmarshalRecord(b []byte) (Record, int, error) {
	if len(b) == 0 {
		return Record{}, 0, fmt.Errorf("xacoord/journal: empty record")
	}
	if Status(b[0]) == statusPad {
		// Pads run to the end of the enclosing block; the caller scans per block.
		return Record{Status: statusPad}, len(b), nil
	}
	if len(b) < recordHeaderLen {
		return Record{}, 0, fmt.Errorf("xacoord/journal: truncated record header")
	}
	status := Status(b[0])
	ts := int64(readUint64(b[1:9]))
	seq := readUint32(b[9:13])
	crc := readUint32(b[13:17])
	gtridLen := readUint32(b[17:21])

	offset := 21
	if gtridLen == 0 || int(gtridLen) != xacoord.UidSize || offset+int(gtridLen) > len(b) {
		return Record{}, 0, fmt.Errorf("xacoord/journal: invalid or zero-length gtrid")
	}
	gtridBytes := b[offset : offset+int(gtridLen)]
	offset += int(gtridLen)

	if offset+4 > len(b) {
		return Record{}, 0, fmt.Errorf("xacoord/journal: truncated names length")
	}
	namesLen := readUint32(b[offset : offset+4])
	offset += 4
	if offset+int(namesLen) > len(b) {
		return Record{}, 0, fmt.Errorf("xacoord/journal: truncated names body")
	}
	names := b[offset : offset+int(namesLen)]
	offset += int(namesLen)

	verify := new(bytes.Buffer)
	verify.WriteByte(byte(status))
	writeUint64(verify, uint64(ts))
	writeUint32(verify, seq)
	writeUint32(verify, gtridLen)
	verify.Write(gtridBytes)
	writeUint32(verify, namesLen)
	verify.Write(names)
	if crc32.ChecksumIEEE(verify.Bytes()) != crc {
		return Record{}, 0, fmt.Errorf("xacoord/journal: CRC mismatch")
	}

	gtrid, err := xacoord.UidFromBytes(gtridBytes)
	if err != nil {
		return Record{}, 0, err
	}

	return Record{
		Status:      status,
		Gtrid:       gtrid,
		UniqueNames: decodeNames(names),
		TimestampMs: ts,
		Sequence:    seq,
	}, offset, nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readUint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }
func readUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
