// Package redisqueue is a demo "true XA" resource adapter modeling a message queue on top of
// redis/go-redis/v9. Stage pushes messages onto a per-transaction staging list
// (StagePref + hex gtrid) that Recover lists and the live queue does not expose; Prepare votes
// read-only when that list is empty; Commit performs an RPOPLPUSH-style move into the live
// queue; Rollback discards the staged list.
package redisqueue

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/xacoord"
	"github.com/sharedcode/xacoord/internal/xa"
)

// Config describes the client options and queue/staging key names.
type Config struct {
	Addr      string
	Queue     string // live list key
	StagePref string // staging list key prefix, final key is StagePref + gtrid hex
}

// Resource wraps a redis.Client as an xa.Resource.
type Resource struct {
	cfg    Config
	client *redis.Client
}

// Open constructs the client.
func Open(cfg Config) *Resource {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	return &Resource{cfg: cfg, client: client}
}

func (r *Resource) Close() error { return r.client.Close() }

func (r *Resource) stagingKey(gtrid xacoord.Uid) string {
	return fmt.Sprintf("%s%s", r.cfg.StagePref, hex.EncodeToString(gtrid.Bytes()))
}

// Stage pushes message onto this transaction's staging list, to be moved into the live queue on
// commit or discarded on rollback.
func (r *Resource) Stage(ctx context.Context, xid xacoord.Xid, message string) error {
	return r.client.RPush(ctx, r.stagingKey(xid.Gtrid), message).Err()
}

func (r *Resource) Start(ctx context.Context, xid xacoord.Xid, flags xa.Flag) error { return nil }
func (r *Resource) End(ctx context.Context, xid xacoord.Xid, flags xa.Flag) error   { return nil }

// Prepare votes XA_OK iff the staging list is non-empty; an empty list votes read-only.
func (r *Resource) Prepare(ctx context.Context, xid xacoord.Xid) (xa.Vote, error) {
	n, err := r.client.LLen(ctx, r.stagingKey(xid.Gtrid)).Result()
	if err != nil {
		return xa.XAOK, &xa.Error{Code: xa.XAERRMFail, Err: err}
	}
	if n == 0 {
		return xa.XARDONLY, nil
	}
	return xa.XAOK, nil
}

// Commit moves every staged message into the live queue, then deletes the staging list.
func (r *Resource) Commit(ctx context.Context, xid xacoord.Xid, onePhase bool) error {
	stagingKey := r.stagingKey(xid.Gtrid)
	for {
		msg, err := r.client.RPopLPush(ctx, stagingKey, r.cfg.Queue).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return &xa.Error{Code: xa.XAERRMFail, Err: err}
		}
		_ = msg
	}
	return r.client.Del(ctx, stagingKey).Err()
}

// Rollback discards the staged list without touching the live queue.
func (r *Resource) Rollback(ctx context.Context, xid xacoord.Xid) error {
	if err := r.client.Del(ctx, r.stagingKey(xid.Gtrid)).Err(); err != nil {
		return &xa.Error{Code: xa.XAERRMFail, Err: err}
	}
	return nil
}

func (r *Resource) Forget(ctx context.Context, xid xacoord.Xid) error {
	return r.Rollback(ctx, xid)
}

// Recover lists staging keys still present, parsing their embedded gtrid back out of the key
// name; bqual is not recoverable from the key alone, so a zero bqual is reported and matched by
// gtrid only (this resource never joins multiple branches per gtrid).
func (r *Resource) Recover(ctx context.Context, flags xa.Flag) ([]xacoord.Xid, error) {
	if flags == xa.TMENDRSCAN {
		return nil, nil
	}
	keys, err := r.client.Keys(ctx, r.cfg.StagePref+"*").Result()
	if err != nil {
		return nil, &xa.Error{Code: xa.XAERRMFail, Err: err}
	}
	var out []xacoord.Xid
	for _, k := range keys {
		raw, err := hex.DecodeString(k[len(r.cfg.StagePref):])
		if err != nil {
			continue
		}
		gtrid, err := xacoord.UidFromBytes(raw)
		if err != nil {
			continue
		}
		out = append(out, xacoord.Xid{FormatID: xacoord.FormatID, Gtrid: gtrid})
	}
	return out, nil
}

func (r *Resource) IsSameRM(other xa.Resource) bool {
	o, ok := other.(*Resource)
	if !ok {
		return false
	}
	return o.cfg.Addr == r.cfg.Addr
}

func (r *Resource) SetTransactionTimeout(seconds int) error { return nil }
