// Package cassandra is a demo "true XA" resource adapter backed by Cassandra, proving the
// coordinator's xa.Resource boundary end to end. Stage writes a pending
// mutation keyed by (gtrid, bqual) into a staging table; Prepare votes XA_OK if that row exists
// and read-only otherwise; Commit moves it into the live table and clears staging; Rollback
// discards the staged row.
package cassandra

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/sharedcode/xacoord"
	"github.com/sharedcode/xacoord/internal/xa"
)

// Config describes how to reach the keyspace and which tables to use.
type Config struct {
	Hosts        []string
	Keyspace     string
	Consistency  gocql.Consistency
	Table        string // live table: (key text, value text)
	StagingTable string // staging table: (gtrid blob, bqual blob, key text, value text)
}

// Resource wraps a gocql session as an xa.Resource.
type Resource struct {
	cfg     Config
	session *gocql.Session
}

// Open establishes the gocql session.
func Open(cfg Config) (*Resource, error) {
	if cfg.Consistency == 0 {
		cfg.Consistency = gocql.Quorum
	}
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = cfg.Consistency
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("xacoord/resource/cassandra: connecting: %w", err)
	}
	return &Resource{cfg: cfg, session: session}, nil
}

// Close releases the underlying session.
func (r *Resource) Close() { r.session.Close() }

// Stage records the pending mutation this branch should apply on commit. Application code calls
// this (not part of xa.Resource) after enlisting the branch and before ending it.
func (r *Resource) Stage(ctx context.Context, xid xacoord.Xid, key, value string) error {
	return r.session.Query(
		fmt.Sprintf(`INSERT INTO %s (gtrid, bqual, key, value) VALUES (?, ?, ?, ?)`, r.cfg.StagingTable),
		xid.Gtrid.Bytes(), xid.Bqual.Bytes(), key, value,
	).WithContext(ctx).Exec()
}

func (r *Resource) Start(ctx context.Context, xid xacoord.Xid, flags xa.Flag) error {
	return nil
}

func (r *Resource) End(ctx context.Context, xid xacoord.Xid, flags xa.Flag) error {
	return nil
}

// Prepare reports XA_OK iff a staged row exists for this branch; there is nothing further to
// validate since the mutation is already durably staged.
func (r *Resource) Prepare(ctx context.Context, xid xacoord.Xid) (xa.Vote, error) {
	var count int
	if err := r.session.Query(
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE gtrid = ? AND bqual = ?`, r.cfg.StagingTable),
		xid.Gtrid.Bytes(), xid.Bqual.Bytes(),
	).WithContext(ctx).Scan(&count); err != nil {
		return xa.XAOK, &xa.Error{Code: xa.XAERRMFail, Err: err}
	}
	if count == 0 {
		return xa.XARDONLY, nil
	}
	return xa.XAOK, nil
}

// Commit copies the staged row into the live table and deletes the staging row.
func (r *Resource) Commit(ctx context.Context, xid xacoord.Xid, onePhase bool) error {
	var key, value string
	if err := r.session.Query(
		fmt.Sprintf(`SELECT key, value FROM %s WHERE gtrid = ? AND bqual = ?`, r.cfg.StagingTable),
		xid.Gtrid.Bytes(), xid.Bqual.Bytes(),
	).WithContext(ctx).Scan(&key, &value); err != nil {
		if err == gocql.ErrNotFound {
			return nil
		}
		return &xa.Error{Code: xa.XAERRMFail, Err: err}
	}

	batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(fmt.Sprintf(`INSERT INTO %s (key, value) VALUES (?, ?)`, r.cfg.Table), key, value)
	batch.Query(fmt.Sprintf(`DELETE FROM %s WHERE gtrid = ? AND bqual = ?`, r.cfg.StagingTable), xid.Gtrid.Bytes(), xid.Bqual.Bytes())
	if err := r.session.ExecuteBatch(batch); err != nil {
		return &xa.Error{Code: xa.XAERRMFail, Err: err}
	}
	return nil
}

// Rollback discards the staged row without ever touching the live table.
func (r *Resource) Rollback(ctx context.Context, xid xacoord.Xid) error {
	err := r.session.Query(
		fmt.Sprintf(`DELETE FROM %s WHERE gtrid = ? AND bqual = ?`, r.cfg.StagingTable),
		xid.Gtrid.Bytes(), xid.Bqual.Bytes(),
	).WithContext(ctx).Exec()
	if err != nil {
		return &xa.Error{Code: xa.XAERRMFail, Err: err}
	}
	return nil
}

func (r *Resource) Forget(ctx context.Context, xid xacoord.Xid) error {
	return r.Rollback(ctx, xid)
}

// Recover scans the staging table for rows belonging to this coordinator's branches.
func (r *Resource) Recover(ctx context.Context, flags xa.Flag) ([]xacoord.Xid, error) {
	if flags == xa.TMENDRSCAN {
		return nil, nil
	}
	iter := r.session.Query(fmt.Sprintf(`SELECT gtrid, bqual FROM %s`, r.cfg.StagingTable)).WithContext(ctx).Iter()
	var out []xacoord.Xid
	var gtridBytes, bqualBytes []byte
	for iter.Scan(&gtridBytes, &bqualBytes) {
		gtrid, err := xacoord.UidFromBytes(gtridBytes)
		if err != nil {
			continue
		}
		bqual, err := xacoord.UidFromBytes(bqualBytes)
		if err != nil {
			continue
		}
		out = append(out, xacoord.Xid{FormatID: xacoord.FormatID, Gtrid: gtrid, Bqual: bqual})
	}
	if err := iter.Close(); err != nil {
		return nil, &xa.Error{Code: xa.XAERRMFail, Err: err}
	}
	return out, nil
}

func (r *Resource) IsSameRM(other xa.Resource) bool {
	o, ok := other.(*Resource)
	if !ok {
		return false
	}
	return o.cfg.Keyspace == r.cfg.Keyspace
}

func (r *Resource) SetTransactionTimeout(seconds int) error { return nil }
