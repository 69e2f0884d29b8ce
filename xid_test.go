package xacoord

import "testing"

func TestNewXidCarriesBrandAndGtrid(t *testing.T) {
	gtrid := NewUid("node")
	xid := NewXid(gtrid, "node")

	if !xid.IsOurBrand() {
		t.Fatal("freshly generated Xid should carry this coordinator's brand")
	}
	if !xid.Gtrid.Equal(gtrid) {
		t.Fatal("Xid.Gtrid should equal the gtrid it was built from")
	}
	if xid.Bqual.IsNil() {
		t.Fatal("Xid.Bqual should be freshly generated, not nil")
	}
}

func TestXidEqualityIsByteWiseAcrossAllFields(t *testing.T) {
	gtrid := NewUid("node")
	bqual := NewUid("node")
	a := Xid{FormatID: FormatID, Gtrid: gtrid, Bqual: bqual}
	b := Xid{FormatID: FormatID, Gtrid: gtrid, Bqual: bqual}
	if !a.Equal(b) {
		t.Fatal("identical Xids should be equal")
	}

	diffFormat := Xid{FormatID: FormatID + 1, Gtrid: gtrid, Bqual: bqual}
	if a.Equal(diffFormat) {
		t.Fatal("Xids with different FormatID should not be equal")
	}

	diffBqual := Xid{FormatID: FormatID, Gtrid: gtrid, Bqual: NewUid("node")}
	if a.Equal(diffBqual) {
		t.Fatal("Xids with different Bqual should not be equal")
	}
}

func TestForeignBrandIsNotOurs(t *testing.T) {
	foreign := Xid{FormatID: FormatID + 99, Gtrid: NewUid("node"), Bqual: NewUid("node")}
	if foreign.IsOurBrand() {
		t.Fatal("Xid with foreign FormatID should not report IsOurBrand")
	}
}

func TestTwoGeneratedXidsNeverCollide(t *testing.T) {
	gtrid := NewUid("node")
	seen := make(map[Xid]bool)
	for i := 0; i < 50; i++ {
		x := NewXid(gtrid, "node")
		if seen[x] {
			t.Fatalf("duplicate Xid generated on iteration %d", i)
		}
		seen[x] = true
	}
}
