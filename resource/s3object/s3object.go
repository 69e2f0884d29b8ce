// Package s3object is a demo "emulating XA" / last-resource-commit resource adapter backed by
// aws-sdk-go-v2's S3 client. S3 has no native 2PC: this resource is always
// registered with emulating=true, so the Two-Phase Engine defers its Prepare until every true XA
// branch has voted and then calls it synchronously -- that Prepare performs the actual upload
// and is the transaction's last-resource decision.
package s3object

import (
	"bytes"
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sharedcode/xacoord"
	"github.com/sharedcode/xacoord/internal/xa"
)

// Config describes the endpoint, credentials and bucket.
type Config struct {
	HostEndpointURL string
	Region          string
	Username        string
	Password        string
	Bucket          string
}

// Resource wraps an s3.Client as an xa.Resource. Since S3 offers no Prepare, this resource
// tracks staged uploads in memory keyed by gtrid. Prepare performs the actual PutObject; Commit
// uploads only an object that is still staged, as on the one-phase path where Prepare is skipped.
type Resource struct {
	cfg    Config
	client *s3.Client

	mu     sync.Mutex
	staged map[string]stagedObject
}

type stagedObject struct {
	key  string
	body []byte
}

// Open connects to the S3-compatible endpoint.
func Open(cfg Config) *Resource {
	client := s3.NewFromConfig(aws.Config{Region: cfg.Region}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.HostEndpointURL)
		o.Credentials = credentials.NewStaticCredentialsProvider(cfg.Username, cfg.Password, "")
	})
	return &Resource{cfg: cfg, client: client, staged: make(map[string]stagedObject)}
}

// Stage records the object to upload on commit. Application code calls this (not part of
// xa.Resource) before the transaction reaches Commit.
func (r *Resource) Stage(xid xacoord.Xid, key string, body []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staged[xid.Gtrid.String()] = stagedObject{key: key, body: body}
}

func (r *Resource) Start(ctx context.Context, xid xacoord.Xid, flags xa.Flag) error { return nil }
func (r *Resource) End(ctx context.Context, xid xacoord.Xid, flags xa.Flag) error   { return nil }

// Prepare is the last-resource decision point: invoked synchronously by the engine only after
// every true XA branch has voted OK, it performs the actual upload. An error here rolls the
// whole transaction back; success commits it. A transaction that staged nothing votes read-only.
func (r *Resource) Prepare(ctx context.Context, xid xacoord.Xid) (xa.Vote, error) {
	r.mu.Lock()
	obj, ok := r.staged[xid.Gtrid.String()]
	r.mu.Unlock()
	if !ok {
		return xa.XARDONLY, nil
	}
	if err := r.upload(ctx, xid, obj); err != nil {
		return xa.XAOK, err
	}
	return xa.XAOK, nil
}

// Commit is a no-op when Prepare already uploaded the object. On the one-phase short-circuit a
// single-branch transaction skips Prepare entirely, so a still-staged object is uploaded here.
func (r *Resource) Commit(ctx context.Context, xid xacoord.Xid, onePhase bool) error {
	r.mu.Lock()
	obj, ok := r.staged[xid.Gtrid.String()]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.upload(ctx, xid, obj)
}

func (r *Resource) upload(ctx context.Context, xid xacoord.Xid, obj stagedObject) error {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(obj.key),
		Body:   bytes.NewReader(obj.body),
	})
	if err != nil {
		return &xa.Error{Code: xa.XAERRMFail, Err: err}
	}
	r.mu.Lock()
	delete(r.staged, xid.Gtrid.String())
	r.mu.Unlock()
	return nil
}

// Rollback simply discards the staged object; nothing was ever written to S3.
func (r *Resource) Rollback(ctx context.Context, xid xacoord.Xid) error {
	r.mu.Lock()
	delete(r.staged, xid.Gtrid.String())
	r.mu.Unlock()
	return nil
}

func (r *Resource) Forget(ctx context.Context, xid xacoord.Xid) error { return nil }

// Recover never reports in-doubt Xids: an emulating resource's Commit is synchronous and atomic
// from the coordinator's point of view, so there is nothing for recovery to reconcile.
func (r *Resource) Recover(ctx context.Context, flags xa.Flag) ([]xacoord.Xid, error) {
	return nil, nil
}

func (r *Resource) IsSameRM(other xa.Resource) bool {
	o, ok := other.(*Resource)
	if !ok {
		return false
	}
	return o.cfg.Bucket == r.cfg.Bucket
}

func (r *Resource) SetTransactionTimeout(seconds int) error { return nil }
