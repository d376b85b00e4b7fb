package distributed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned when releasing a lease owned by someone else.
var ErrNotHeld = errors.New("lease not held by this owner")

var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)

	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
)

// Lease is an exclusive, renewable claim on a Redis key. The value stored
// under the key is the owner id so other processes can tell who holds it.
type Lease struct {
	client redis.UniversalClient
	key    string
	owner  string
	ttl    time.Duration

	mu      sync.Mutex
	held    bool
	stop    chan struct{}
	stopped chan struct{}
	onLost  func()
}

// NewLease prepares a lease; nothing is written until TryAcquire.
func NewLease(client redis.UniversalClient, key, owner string, ttl time.Duration) *Lease {
	return &Lease{
		client: client,
		key:    key,
		owner:  owner,
		ttl:    ttl,
	}
}

// OnLost registers a callback fired once if renewal discovers the lease
// was taken over or expired.
func (l *Lease) OnLost(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLost = fn
}

// Key returns the Redis key guarded by the lease.
func (l *Lease) Key() string { return l.key }

// TryAcquire claims the key without blocking. On failure it returns the
// current holder. Re-acquiring a key this owner already holds succeeds.
func (l *Lease) TryAcquire(ctx context.Context) (bool, string, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, "", fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}

	if !acquired {
		holder, err := l.client.Get(ctx, l.key).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET; let the caller retry
			return false, "", nil
		}
		if err != nil {
			return false, "", fmt.Errorf("failed to read lease holder %s: %w", l.key, err)
		}
		if holder != l.owner {
			return false, holder, nil
		}
		if _, err := extendScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Result(); err != nil {
			return false, "", fmt.Errorf("failed to extend lease %s: %w", l.key, err)
		}
	}

	l.mu.Lock()
	if !l.held {
		l.held = true
		l.stop = make(chan struct{})
		l.stopped = make(chan struct{})
		go l.renew(l.stop, l.stopped)
	}
	l.mu.Unlock()

	return true, l.owner, nil
}

// Release stops renewal and deletes the key if this owner still holds it.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return nil
	}
	l.held = false
	close(l.stop)
	stopped := l.stopped
	l.mu.Unlock()

	<-stopped

	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// renew extends the TTL at half-life until stopped or lost.
func (l *Lease) renew(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				// transient; the next tick retries before the TTL runs out
				continue
			}
			if n == 0 {
				l.mu.Lock()
				l.held = false
				onLost := l.onLost
				l.mu.Unlock()
				if onLost != nil {
					onLost()
				}
				return
			}
		}
	}
}

// Holder returns the current owner of key, or "" when unclaimed.
func Holder(ctx context.Context, client redis.UniversalClient, key string) (string, error) {
	v, err := client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}
