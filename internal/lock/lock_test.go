package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLocalSerializesSameKey(t *testing.T) {
	l := NewLocal()
	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "user-1", time.Second)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			defer release()
			n := atomic.AddInt32(&inside, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxSeen)
	}
	if len(l.slots) != 0 {
		t.Fatalf("expected idle keys to be dropped, have %d", len(l.slots))
	}
}

func TestLocalDifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	releaseA, err := l.Acquire(context.Background(), "a", 0)
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	releaseB, err := l.Acquire(ctx, "b", 0)
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	releaseB()
}

func TestLocalHonoursContext(t *testing.T) {
	l := NewLocal()
	release, err := l.Acquire(context.Background(), "k", 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "k", 0); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	release()
	release()

	again, err := l.Acquire(context.Background(), "k", 0)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	again()
}

func newRedisLocker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker, err := NewRedis(client, WithPrefix("shopfront:test:lock:"), WithRetryInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("new redis locker: %v", err)
	}
	return locker, srv
}

func TestRedisLocker(t *testing.T) {
	locker, srv := newRedisLocker(t)
	release, err := locker.Acquire(context.Background(), "user-1", 2*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !srv.Exists("shopfront:test:lock:user-1") {
		t.Fatal("expected lock key to be set")
	}
	if ttl := srv.TTL("shopfront:test:lock:user-1"); ttl != 2*time.Second {
		t.Fatalf("unexpected lease ttl %v", ttl)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, "user-1", 2*time.Second); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected contention, got %v", err)
	}

	release()
	release()
	if srv.Exists("shopfront:test:lock:user-1") {
		t.Fatal("expected release to delete the key")
	}
	second, err := locker.Acquire(context.Background(), "user-1", 2*time.Second)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	second()
}

func TestRedisReleaseAfterTakeoverKeepsNewOwner(t *testing.T) {
	locker, srv := newRedisLocker(t)
	stale, err := locker.Acquire(context.Background(), "user-2", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	srv.FastForward(2 * time.Second)

	current, err := locker.Acquire(context.Background(), "user-2", time.Second)
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	owner, err := srv.Get("shopfront:test:lock:user-2")
	if err != nil {
		t.Fatalf("get owner: %v", err)
	}

	stale()
	got, err := srv.Get("shopfront:test:lock:user-2")
	if err != nil {
		t.Fatalf("lease of new owner was released: %v", err)
	}
	if got != owner {
		t.Fatalf("owner token changed from %q to %q", owner, got)
	}
	current()
	if srv.Exists("shopfront:test:lock:user-2") {
		t.Fatal("expected current owner to release the key")
	}
}

func TestRedisAcquireSurfacesServerErrors(t *testing.T) {
	locker, srv := newRedisLocker(t)
	if err := locker.client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	srv.SetError("ERR injected failure")
	if _, err := locker.Acquire(context.Background(), "user-3", time.Second); err == nil || errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestNewRedisRequiresClient(t *testing.T) {
	if _, err := NewRedis(nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}
