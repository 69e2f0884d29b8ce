package redisqueue

import (
	"testing"

	"github.com/sharedcode/xacoord"
)

func TestStagingKeyIsStablePerGtrid(t *testing.T) {
	r := Open(Config{Addr: "localhost:6379", Queue: "live", StagePref: "pending:"})
	defer r.Close()

	gtrid := xacoord.NewUid("node")
	k1 := r.stagingKey(gtrid)
	k2 := r.stagingKey(gtrid)
	if k1 != k2 {
		t.Fatalf("stagingKey should be deterministic for the same gtrid: %q != %q", k1, k2)
	}
	if len(k1) <= len("pending:") {
		t.Fatalf("stagingKey() = %q, want prefix + hex-encoded gtrid", k1)
	}
}

func TestStagingKeyDiffersAcrossGtrids(t *testing.T) {
	r := Open(Config{Addr: "localhost:6379", Queue: "live", StagePref: "pending:"})
	defer r.Close()

	k1 := r.stagingKey(xacoord.NewUid("node"))
	k2 := r.stagingKey(xacoord.NewUid("node"))
	if k1 == k2 {
		t.Fatal("stagingKey should differ for distinct gtrids")
	}
}

func TestIsSameRMComparesAddr(t *testing.T) {
	a := Open(Config{Addr: "localhost:6379"})
	defer a.Close()
	b := Open(Config{Addr: "localhost:6379"})
	defer b.Close()
	c := Open(Config{Addr: "otherhost:6379"})
	defer c.Close()

	if !a.IsSameRM(b) {
		t.Fatal("resources pointing at the same addr should report IsSameRM")
	}
	if a.IsSameRM(c) {
		t.Fatal("resources pointing at different addrs should not report IsSameRM")
	}
}
