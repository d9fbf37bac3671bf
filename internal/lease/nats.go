package lease

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// NATS holds the lease as a key in a JetStream KV bucket. Create is atomic, and
// the bucket TTL expires a lease whose holder died.
type NATS struct {
	kv  jetstream.KeyValue
	key string

	mu       sync.Mutex
	revision uint64
}

func NewNATS(kv jetstream.KeyValue, key string) *NATS {
	return &NATS{kv: kv, key: sanitizeKey(key)}
}

// OpenNATSBucket creates or reuses the lease bucket with the given TTL.
func OpenNATSBucket(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		TTL:     ttl,
		History: 1,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("open lease bucket %s: %w", bucket, err)
	}
	return kv, nil
}

func (l *NATS) TryAcquire(ctx context.Context) (bool, error) {
	rev, err := l.kv.Create(ctx, l.key, []byte(time.Now().UTC().Format(time.RFC3339Nano)))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}
		return false, fmt.Errorf("nats lease %s: %w", l.key, err)
	}
	l.mu.Lock()
	l.revision = rev
	l.mu.Unlock()
	return true, nil
}

func (l *NATS) Release(ctx context.Context) error {
	l.mu.Lock()
	rev := l.revision
	l.revision = 0
	l.mu.Unlock()
	if rev == 0 {
		return nil
	}

	// 带 revision 删除：租约已过期并被他人获取时不会误删
	err := l.kv.Delete(ctx, l.key, jetstream.LastRevision(rev))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) && !isWrongRevision(err) {
		return fmt.Errorf("nats lease %s release: %w", l.key, err)
	}
	return nil
}

const errCodeWrongLastSequence jetstream.ErrorCode = 10071

func isWrongRevision(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == errCodeWrongLastSequence
	}
	return strings.Contains(err.Error(), "wrong last sequence")
}

// KV keys may not contain ':'.
func sanitizeKey(key string) string {
	return strings.NewReplacer(":", ".", " ", "_").Replace(key)
}
