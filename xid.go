package xacoord

import "fmt"

// FormatID identifies this coordinator's brand. Only Xids whose FormatID matches are
// considered during recovery; foreign Xids reported by a shared resource manager are left alone.
const FormatID int32 = 0x58414344 // "XACD"

// Xid is a transaction branch identifier: a format id plus a global transaction id (gtrid)
// and a branch qualifier (bqual). Equality is byte-wise across all three fields.
type Xid struct {
	FormatID int32
	Gtrid    Uid
	Bqual    Uid
}

// NewXid builds an Xid for gtrid with a freshly generated bqual for serverID.
func NewXid(gtrid Uid, serverID string) Xid {
	return Xid{FormatID: FormatID, Gtrid: gtrid, Bqual: NewUid(serverID)}
}

// Equal reports byte-wise equality of FormatID, Gtrid and Bqual.
func (x Xid) Equal(other Xid) bool {
	return x.FormatID == other.FormatID && x.Gtrid.Equal(other.Gtrid) && x.Bqual.Equal(other.Bqual)
}

// IsOurBrand reports whether x.FormatID matches this coordinator's brand, i.e. whether it is
// eligible to participate in recovery decisions made by this coordinator.
func (x Xid) IsOurBrand() bool {
	return x.FormatID == FormatID
}

// String renders the Xid for logging.
func (x Xid) String() string {
	return fmt.Sprintf("Xid{fmt=%x, gtrid=%s, bqual=%s}", x.FormatID, x.Gtrid, x.Bqual)
}
