package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"todoless/domain"
)

type stubBackend struct {
	Backend
	listLabelsFn     func(ctx context.Context) ([]domain.Label, error)
	setLabelSharedFn func(ctx context.Context, id string, shared bool) (domain.CascadeResult, error)
	getUserFn        func(ctx context.Context, id string) (domain.User, error)
	updateRoleFn     func(ctx context.Context, id string, role domain.Role) (domain.User, error)
}

func (s *stubBackend) ListLabels(ctx context.Context) ([]domain.Label, error) {
	if s.listLabelsFn == nil {
		return nil, errors.New("unexpected ListLabels call")
	}
	return s.listLabelsFn(ctx)
}

func (s *stubBackend) CreateLabel(ctx context.Context, l domain.Label) error { return nil }

func (s *stubBackend) SetLabelShared(ctx context.Context, id string, shared bool) (domain.CascadeResult, error) {
	if s.setLabelSharedFn == nil {
		return domain.CascadeResult{}, errors.New("unexpected SetLabelShared call")
	}
	return s.setLabelSharedFn(ctx, id, shared)
}

func (s *stubBackend) GetUser(ctx context.Context, id string) (domain.User, error) {
	if s.getUserFn == nil {
		return domain.User{}, errors.New("unexpected GetUser call")
	}
	return s.getUserFn(ctx, id)
}

func (s *stubBackend) UpdateUserRole(ctx context.Context, id string, role domain.Role) (domain.User, error) {
	if s.updateRoleFn == nil {
		return domain.User{}, errors.New("unexpected UpdateUserRole call")
	}
	return s.updateRoleFn(ctx, id, role)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheListLabelsMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	expected := []domain.Label{{ID: "L", OwnerID: "mom", Name: "Chores", Shared: true}}

	var calls int
	cache := NewCache(&stubBackend{
		listLabelsFn: func(ctx context.Context) ([]domain.Label, error) {
			calls++
			return append([]domain.Label(nil), expected...), nil
		},
	}, client, time.Minute, nil)

	for i := 0; i < 2; i++ {
		labels, err := cache.ListLabels(ctx)
		if err != nil {
			t.Fatalf("list labels: %v", err)
		}
		if !reflect.DeepEqual(labels, expected) {
			t.Fatalf("unexpected labels: %#v", labels)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", calls)
	}
	if ttl := mr.TTL(labelsCacheKey + ":v0"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
}

func TestCacheLabelWritesEvict(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	var calls int
	cache := NewCache(&stubBackend{
		listLabelsFn: func(ctx context.Context) ([]domain.Label, error) {
			calls++
			return []domain.Label{}, nil
		},
		setLabelSharedFn: func(ctx context.Context, id string, shared bool) (domain.CascadeResult, error) {
			return domain.CascadeResult{}, errors.New("partial cascade")
		},
	}, client, time.Minute, nil)

	if _, err := cache.ListLabels(ctx); err != nil {
		t.Fatalf("list labels: %v", err)
	}
	if err := cache.CreateLabel(ctx, domain.Label{ID: "new"}); err != nil {
		t.Fatalf("create label: %v", err)
	}
	if gen, _ := mr.Get(labelsCacheKey + ":gen"); gen != "1" {
		t.Fatalf("expected label cache generation 1 after create, got %q", gen)
	}

	if _, err := cache.ListLabels(ctx); err != nil {
		t.Fatalf("list labels: %v", err)
	}
	if _, err := cache.SetLabelShared(ctx, "L", false); err == nil {
		t.Fatalf("expected backend error to propagate")
	}
	if gen, _ := mr.Get(labelsCacheKey + ":gen"); gen != "2" {
		t.Fatalf("expected label cache generation 2 after failed cascade, got %q", gen)
	}
	if _, err := cache.ListLabels(ctx); err != nil {
		t.Fatalf("list labels: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 backend calls, got %d", calls)
	}
}

func TestCacheSnapshotReadBeforeCascadeIsNotServed(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	shared := true
	var cache *Cache
	var calls int
	cache = NewCache(&stubBackend{
		listLabelsFn: func(ctx context.Context) ([]domain.Label, error) {
			calls++
			snapshot := []domain.Label{{ID: "L", Shared: shared}}
			if calls == 1 {
				// A privacy change commits and evicts while this read is in flight.
				if _, err := cache.SetLabelShared(ctx, "L", false); err != nil {
					return nil, err
				}
			}
			return snapshot, nil
		},
		setLabelSharedFn: func(ctx context.Context, id string, s bool) (domain.CascadeResult, error) {
			shared = s
			return domain.CascadeResult{Label: domain.Label{ID: id, Shared: s}}, nil
		},
	}, client, time.Minute, nil)

	stale, err := cache.ListLabels(ctx)
	if err != nil {
		t.Fatalf("list labels: %v", err)
	}
	if !stale[0].Shared {
		t.Fatalf("expected the in-flight read to return its own snapshot")
	}
	fresh, err := cache.ListLabels(ctx)
	if err != nil {
		t.Fatalf("list labels: %v", err)
	}
	if fresh[0].Shared {
		t.Fatalf("stale snapshot served after the cascade evicted it")
	}
	if calls != 2 {
		t.Fatalf("expected 2 backend calls, got %d", calls)
	}
}

func TestCacheEvictionFailureIsLogged(t *testing.T) {
	mr, client := newTestRedis(t)
	logger, hook := test.NewNullLogger()
	cache := NewCache(&stubBackend{}, client, time.Minute, logger)

	mr.Close()
	if err := cache.CreateLabel(context.Background(), domain.Label{ID: "L"}); err != nil {
		t.Fatalf("create label should not fail on cache errors: %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel {
		t.Fatalf("expected a warning, got %#v", entry)
	}
	if entry.Data["key"] != labelsCacheKey {
		t.Fatalf("unexpected key field %v", entry.Data["key"])
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	mr, client := newTestRedis(t)
	if err := mr.Set(labelsCacheKey+":v0", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cache := NewCache(&stubBackend{
		listLabelsFn: func(ctx context.Context) ([]domain.Label, error) {
			return []domain.Label{{ID: "L"}}, nil
		},
	}, client, time.Minute, nil)

	labels, err := cache.ListLabels(context.Background())
	if err != nil || len(labels) != 1 {
		t.Fatalf("unexpected result %v err=%v", labels, err)
	}
}

func TestCacheUserRoleChangeEvicts(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	role := domain.RoleRestricted
	var gets int
	cache := NewCache(&stubBackend{
		getUserFn: func(ctx context.Context, id string) (domain.User, error) {
			gets++
			return domain.User{ID: id, Role: role}, nil
		},
		updateRoleFn: func(ctx context.Context, id string, r domain.Role) (domain.User, error) {
			role = r
			return domain.User{ID: id, Role: r}, nil
		},
	}, client, time.Minute, nil)

	if u, _ := cache.GetUser(ctx, "kid"); u.IsAdmin() {
		t.Fatalf("unexpected admin")
	}
	if _, err := cache.UpdateUserRole(ctx, "kid", domain.RoleAdmin); err != nil {
		t.Fatalf("update role: %v", err)
	}
	u, err := cache.GetUser(ctx, "kid")
	if err != nil || !u.IsAdmin() {
		t.Fatalf("expected fresh admin user, got %#v err=%v", u, err)
	}
	if gets != 2 {
		t.Fatalf("expected 2 backend reads, got %d", gets)
	}
}

func TestCacheWithoutRedisPassesThrough(t *testing.T) {
	var calls int
	cache := NewCache(&stubBackend{
		listLabelsFn: func(ctx context.Context) ([]domain.Label, error) {
			calls++
			return nil, nil
		},
	}, nil, time.Minute, nil)
	for i := 0; i < 3; i++ {
		if _, err := cache.ListLabels(context.Background()); err != nil {
			t.Fatalf("list labels: %v", err)
		}
	}
	if calls != 3 {
		t.Fatalf("expected every call to reach backend, got %d", calls)
	}
}
