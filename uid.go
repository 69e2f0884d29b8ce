// Package xacoord implements a standalone two-phase-commit transaction coordinator
// over an XA-style branch interface.
package xacoord

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"
)

// UidSize is the fixed byte length of a Uid.
const UidSize = 64

const (
	serverIDLenOffset = 0
	serverIDLenBytes  = 1
	serverIDMaxLen    = 51
	serverIDOffset    = serverIDLenOffset + serverIDLenBytes
	timestampOffset   = serverIDOffset + serverIDMaxLen
	timestampLen      = 8
	sequenceOffset    = timestampOffset + timestampLen
	sequenceLen       = 4
)

// sequence is the process-wide monotonic counter embedded in every freshly generated Uid.
// Wrap within one millisecond-epoch is statistically negligible and is not defended against.
var sequence uint32

// Uid is an immutable fixed-layout byte identifier: serverId length (1 byte) ‖ serverId (<=51
// bytes, NUL-filled after it to 51) ‖ timestamp_ms (8 bytes, big-endian) ‖ sequence (4 bytes, big-endian).
// Its zero value is the nil Uid.
type Uid struct {
	b    [UidSize]byte
	hash uint32
}

// NilUid is the zero-value Uid.
var NilUid Uid

// NewUid generates a fresh Uid for serverID, stamped with the current time and the next
// value of the process-wide sequence counter.
func NewUid(serverID string) Uid {
	return newUidAt(serverID, time.Now(), atomic.AddUint32(&sequence, 1))
}

func newUidAt(serverID string, t time.Time, seq uint32) Uid {
	var b [UidSize]byte
	if len(serverID) > serverIDMaxLen {
		serverID = serverID[:serverIDMaxLen]
	}
	b[serverIDLenOffset] = byte(len(serverID))
	copy(b[serverIDOffset:], serverID)
	binary.BigEndian.PutUint64(b[timestampOffset:timestampOffset+timestampLen], uint64(t.UnixMilli()))
	binary.BigEndian.PutUint32(b[sequenceOffset:], seq)
	return Uid{b: b, hash: fnv32(b[:])}
}

// UidFromBytes reconstructs a Uid from a raw 64-byte slice, e.g. as read off the journal
// or returned by a resource's Recover call. It returns an error if the slice isn't UidSize bytes.
func UidFromBytes(raw []byte) (Uid, error) {
	if len(raw) != UidSize {
		return Uid{}, fmt.Errorf("xacoord: Uid must be %d bytes, got %d", UidSize, len(raw))
	}
	var b [UidSize]byte
	copy(b[:], raw)
	return Uid{b: b, hash: fnv32(b[:])}, nil
}

// Bytes returns the raw 64-byte encoding of the Uid.
func (u Uid) Bytes() []byte {
	out := make([]byte, UidSize)
	copy(out, u.b[:])
	return out
}

// ServerID returns the server identifier embedded in the Uid.
func (u Uid) ServerID() string {
	n := int(u.b[serverIDLenOffset])
	if n > serverIDMaxLen {
		n = serverIDMaxLen
	}
	return string(u.b[serverIDOffset : serverIDOffset+n])
}

// TimestampMs returns the millisecond timestamp embedded in the Uid.
func (u Uid) TimestampMs() int64 {
	return int64(binary.BigEndian.Uint64(u.b[timestampOffset : timestampOffset+timestampLen]))
}

// Sequence returns the sequence counter value embedded in the Uid.
func (u Uid) Sequence() uint32 {
	return binary.BigEndian.Uint32(u.b[sequenceOffset : sequenceOffset+sequenceLen])
}

// IsNil reports whether u is the zero-value Uid.
func (u Uid) IsNil() bool {
	return u == NilUid
}

// Equal reports byte-wise equality between two Uids.
func (u Uid) Equal(other Uid) bool {
	return bytes.Equal(u.b[:], other.b[:])
}

// Hash returns the precomputed hash of the Uid, suitable for use in hashing containers.
func (u Uid) Hash() uint32 {
	return u.hash
}

// String renders the Uid as serverID:timestampMs:sequence for logging.
func (u Uid) String() string {
	return fmt.Sprintf("%s:%d:%d", u.ServerID(), u.TimestampMs(), u.Sequence())
}

func fnv32(data []byte) uint32 {
	const prime32 = 16777619
	h := uint32(2166136261)
	for _, c := range data {
		h *= prime32
		h ^= uint32(c)
	}
	return h
}
