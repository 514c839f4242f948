package session

import (
	"context"
	"errors"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-orm-lab/cache"
	"github.com/goliatone/go-orm-lab/internal/database"
	"github.com/goliatone/go-orm-lab/pkg/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type note struct {
	bun.BaseModel `bun:"table:notes"`

	ID      int64  `bun:"id,pk,autoincrement"`
	Slug    string `bun:"slug,notnull,unique"`
	Body    string `bun:"body"`
	Version int64  `bun:"version,notnull"`
}

func (n *note) PrimaryKey() any { return n.ID }
func (n *note) CurrentVersion() int64 { return n.Version }
func (n *note) SetVersion(v int64) { n.Version = v }
func (n *note) CacheRegion() string { return "notes" }
func (n *note) NaturalKey() string { return n.Slug }

func (n *note) Validate() error {
	if n.Slug == "" {
		return errors.New("slug is required")
	}
	return nil
}

type label struct {
	bun.BaseModel `bun:"table:labels"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull"`
}

func (l *label) PrimaryKey() any { return l.ID }

type fixture struct {
	factory *Factory
	hook    *database.QueryHook
	stats   *cache.Statistics
}

func newFixture(t *testing.T, withCache bool) fixture {
	t.Helper()
	db, hook := testsupport.NewTestDB(t, (*note)(nil), (*label)(nil))
	stats := cache.NewStatistics("test")

	opts := []Option{WithStatistics(stats)}
	if withCache {
		svc, err := cache.NewCacheService(cache.DefaultConfig())
		require.NoError(t, err)
		opts = append(opts, WithSecondLevelCache(svc))
	}
	return fixture{factory: NewFactory(db, opts...), hook: hook, stats: stats}
}

func (f fixture) seed(t *testing.T, n *note) *note {
	t.Helper()
	ctx := context.Background()
	s := f.factory.OpenSession()
	defer s.Close(ctx)
	require.NoError(t, s.Persist(ctx, n))
	return n
}

func TestFind_IdentityMap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	seeded := f.seed(t, &note{Slug: "first", Body: "hello"})

	s := f.factory.OpenSession()
	defer s.Close(ctx)

	f.hook.Reset()
	a, err := Find[note](ctx, s, seeded.ID)
	require.NoError(t, err)
	b, err := Find[note](ctx, s, seeded.ID)
	require.NoError(t, err)

	assert.Same(t, a, b, "one instance per identity within a session")
	assert.Equal(t, int64(1), f.hook.Queries())
	assert.True(t, s.Contains(a))
	assert.Equal(t, 1, s.Size())

	other := f.factory.OpenSession()
	defer other.Close(ctx)
	c, err := Find[note](ctx, other, seeded.ID)
	require.NoError(t, err)
	assert.NotSame(t, a, c, "sessions do not share instances")
}

func TestFind_NotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	s := f.factory.OpenSession()
	defer s.Close(ctx)

	_, err := Find[note](ctx, s, 404)
	require.ErrorIs(t, err, ErrNotFound)
	assert.True(t, HasCategory(err, goerrors.CategoryNotFound))

	_, err = Find[label](ctx, s, 404)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFind_SecondLevelCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	seeded := f.seed(t, &note{Slug: "cached", Body: "v1"})
	f.stats.Clear()

	first := f.factory.OpenSession()
	_, err := Find[note](ctx, first, seeded.ID)
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	f.hook.Reset()
	second := f.factory.OpenSession()
	defer second.Close(ctx)
	got, err := Find[note](ctx, second, seeded.ID)
	require.NoError(t, err)

	assert.Equal(t, "v1", got.Body)
	assert.Zero(t, f.hook.Queries(), "second session must be served by the second-level cache")

	snap := f.stats.Snapshot()
	assert.Equal(t, uint64(1), snap.SecondLevelCacheMisses)
	assert.Equal(t, uint64(1), snap.SecondLevelCachePuts)
	assert.Equal(t, uint64(1), snap.SecondLevelCacheHits)
	assert.Equal(t, uint64(1), snap.EntityLoads)
}

func TestFlush_DirtyCheckingAndVersioning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	seeded := f.seed(t, &note{Slug: "dirty", Body: "v1"})

	s := f.factory.OpenSession()
	defer s.Close(ctx)

	n, err := Find[note](ctx, s, seeded.ID)
	require.NoError(t, err)
	assert.False(t, s.IsDirty(n))

	f.stats.Clear()
	require.NoError(t, s.Flush(ctx))
	assert.Zero(t, f.stats.Snapshot().EntityUpdates, "clean entities are not written")

	n.Body = "v2"
	assert.True(t, s.IsDirty(n))
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, int64(1), n.Version)
	assert.False(t, s.IsDirty(n))
	assert.Equal(t, uint64(1), f.stats.Snapshot().EntityUpdates)

	fresh := f.factory.OpenSession()
	defer fresh.Close(ctx)
	reloaded, err := Find[note](ctx, fresh, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", reloaded.Body, "the write evicted the stale cache entry")
	assert.Equal(t, int64(1), reloaded.Version)
}

func TestFlush_OptimisticLockFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	seeded := f.seed(t, &note{Slug: "contended", Body: "v1"})

	alice := f.factory.OpenSession()
	defer alice.Close(ctx)
	bob := f.factory.OpenSession()
	defer bob.Close(ctx)

	a, err := Find[note](ctx, alice, seeded.ID)
	require.NoError(t, err)
	b, err := Find[note](ctx, bob, seeded.ID)
	require.NoError(t, err)

	a.Body = "alice"
	require.NoError(t, alice.Flush(ctx))

	b.Body = "bob"
	err = bob.Flush(ctx)
	require.ErrorIs(t, err, ErrStaleState)
	assert.True(t, HasCategory(err, goerrors.CategoryConflict))
	assert.Equal(t, int64(0), b.Version, "version is restored after a failed write")
	assert.Equal(t, uint64(1), f.stats.Snapshot().OptimisticFailures)

	require.NoError(t, bob.Refresh(ctx, b))
	assert.Equal(t, "alice", b.Body)
	b.Body = "bob"
	require.NoError(t, bob.Flush(ctx), "retry after refresh succeeds")
	assert.Equal(t, int64(2), b.Version)
}

func TestMerge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	seeded := f.seed(t, &note{Slug: "detached", Body: "v1"})

	detached := &note{ID: seeded.ID, Slug: "detached", Body: "merged", Version: seeded.Version}

	s := f.factory.OpenSession()
	defer s.Close(ctx)
	managed, err := Merge[note](ctx, s, detached)
	require.NoError(t, err)
	assert.NotSame(t, detached, managed)
	assert.False(t, s.Contains(detached))
	assert.True(t, s.IsDirty(managed))
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, int64(1), managed.Version)

	stale := &note{ID: seeded.ID, Slug: "detached", Body: "late", Version: 0}
	other := f.factory.OpenSession()
	defer other.Close(ctx)
	_, err = Merge[note](ctx, other, stale)
	require.NoError(t, err)
	require.ErrorIs(t, other.Flush(ctx), ErrStaleState)

	_, err = Merge[note](ctx, other, &note{ID: 999, Slug: "ghost"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	seeded := f.seed(t, &note{Slug: "doomed"})

	s := f.factory.OpenSession()
	defer s.Close(ctx)

	n, err := Find[note](ctx, s, seeded.ID)
	require.NoError(t, err)
	require.NoError(t, s.Remove(ctx, n))

	_, err = Find[note](ctx, s, seeded.ID)
	require.ErrorIs(t, err, ErrNotFound, "removed entities are gone for the session before flush")

	require.NoError(t, s.Flush(ctx))
	assert.Zero(t, s.Size())

	other := f.factory.OpenSession()
	defer other.Close(ctx)
	_, err = Find[note](ctx, other, seeded.ID)
	require.ErrorIs(t, err, ErrNotFound)

	require.Error(t, s.Remove(ctx, &note{ID: 99}), "detached entities cannot be removed")
}

func TestFlush_ClearsQueryRegion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	seeded := f.seed(t, &note{Slug: "listed", Body: "v1"})

	queries := f.factory.Region("notes", cache.RegionQuery)
	key := queries.Key("all")
	_, err := cache.LoadOrFetch(ctx, queries, key, func(context.Context) ([]string, error) {
		return []string{"v1"}, nil
	})
	require.NoError(t, err)

	s := f.factory.OpenSession()
	defer s.Close(ctx)
	n, err := Find[note](ctx, s, seeded.ID)
	require.NoError(t, err)
	n.Body = "v2"
	require.NoError(t, s.Flush(ctx))

	f.stats.Clear()
	got, err := cache.LoadOrFetch(ctx, queries, key, func(context.Context) ([]string, error) {
		return []string{"v2"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, got)
	assert.Equal(t, uint64(1), f.stats.Snapshot().QueryCacheMisses)
}

func TestFindByNaturalID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	seeded := f.seed(t, &note{Slug: "natural", Body: "v1"})
	f.stats.Clear()

	s1 := f.factory.OpenSession()
	n, err := FindByNaturalID[note](ctx, s1, "slug", "natural")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, n.ID)
	require.NoError(t, s1.Close(ctx))

	f.hook.Reset()
	s2 := f.factory.OpenSession()
	defer s2.Close(ctx)
	n2, err := FindByNaturalID[note](ctx, s2, "slug", "natural")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, n2.ID)

	snap := f.stats.Snapshot()
	assert.Equal(t, uint64(1), snap.NaturalIDCacheMisses)
	assert.Equal(t, uint64(1), snap.NaturalIDCacheHits)

	n2.Slug = "renamed"
	require.NoError(t, s2.Flush(ctx))

	s3 := f.factory.OpenSession()
	defer s3.Close(ctx)
	_, err = FindByNaturalID[note](ctx, s3, "slug", "natural")
	require.ErrorIs(t, err, ErrNotFound, "the old natural id was evicted")
	renamed, err := FindByNaturalID[note](ctx, s3, "slug", "renamed")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, renamed.ID)
}

func TestFindOneAndFindAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	for _, name := range []string{"go", "sql", "orm"} {
		s := f.factory.OpenSession()
		require.NoError(t, s.Persist(ctx, &label{Name: name}))
		require.NoError(t, s.Close(ctx))
	}

	s := f.factory.OpenSession()
	defer s.Close(ctx)

	all, err := FindAll[label](ctx, s, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Order("name ASC")
	})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "go", all[0].Name)

	one, err := FindOne[label](ctx, s, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("name = ?", "go")
	})
	require.NoError(t, err)
	assert.Same(t, all[0], one, "query results resolve to managed instances")

	_, err = FindOne[label](ctx, s, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("name = ?", "rust")
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransactions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	t.Run("commit", func(t *testing.T) {
		err := f.factory.RunInTx(ctx, func(ctx context.Context, s *Session) error {
			assert.True(t, s.InTransaction())
			return s.Persist(ctx, &note{Slug: "committed"})
		})
		require.NoError(t, err)

		s := f.factory.OpenSession()
		defer s.Close(ctx)
		_, err = FindByNaturalID[note](ctx, s, "slug", "committed")
		require.NoError(t, err)
	})

	t.Run("rollback on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := f.factory.RunInTx(ctx, func(ctx context.Context, s *Session) error {
			require.NoError(t, s.Persist(ctx, &note{Slug: "rolled-back"}))
			return boom
		})
		require.ErrorIs(t, err, boom)

		s := f.factory.OpenSession()
		defer s.Close(ctx)
		_, err = FindByNaturalID[note](ctx, s, "slug", "rolled-back")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rollback on panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = f.factory.RunInTx(ctx, func(ctx context.Context, s *Session) error {
				require.NoError(t, s.Persist(ctx, &note{Slug: "panicked"}))
				panic("boom")
			})
		})

		s := f.factory.OpenSession()
		defer s.Close(ctx)
		_, err := FindByNaturalID[note](ctx, s, "slug", "panicked")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rollback clears the identity map", func(t *testing.T) {
		s := f.factory.OpenSession()
		defer s.Close(ctx)
		require.NoError(t, s.Begin(ctx))
		require.NoError(t, s.Persist(ctx, &note{Slug: "transient"}))
		assert.Equal(t, 1, s.Size())
		require.NoError(t, s.Rollback(ctx))
		assert.Zero(t, s.Size())
	})

	snap := f.stats.Snapshot()
	assert.Equal(t, uint64(4), snap.TransactionBegins)
	assert.Equal(t, uint64(1), snap.TransactionCommits)
	assert.Equal(t, uint64(3), snap.TransactionRollbacks)
}

func TestSessionLifecycleErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	s := f.factory.OpenSession()

	require.ErrorIs(t, s.Commit(ctx), ErrNoTransaction)
	require.ErrorIs(t, s.Rollback(ctx), ErrNoTransaction)

	require.NoError(t, s.Begin(ctx))
	require.ErrorIs(t, s.Begin(ctx), ErrTransactionActive)
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	_, err := Find[note](ctx, s, 1)
	require.ErrorIs(t, err, ErrSessionClosed)
	require.ErrorIs(t, s.Persist(ctx, &note{Slug: "x"}), ErrSessionClosed)
}

func TestPersist_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	s := f.factory.OpenSession()
	defer s.Close(ctx)

	err := s.Persist(ctx, &note{})
	require.Error(t, err)
	assert.True(t, HasCategory(err, goerrors.CategoryValidation))
	assert.Zero(t, s.Size())
}

func TestEvictAndClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	seeded := f.seed(t, &note{Slug: "evict", Body: "v1"})

	s := f.factory.OpenSession()
	defer s.Close(ctx)
	n, err := Find[note](ctx, s, seeded.ID)
	require.NoError(t, err)

	n.Body = "never written"
	s.Evict(n)
	assert.False(t, s.Contains(n))
	require.NoError(t, s.Flush(ctx))

	again, err := Find[note](ctx, s, seeded.ID)
	require.NoError(t, err)
	assert.NotSame(t, n, again)
	assert.Equal(t, "v1", again.Body)

	s.Clear()
	assert.Zero(t, s.Size())
}

func TestLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	seeded := f.seed(t, &note{Slug: "locked", Body: "v1"})

	s := f.factory.OpenSession()
	defer s.Close(ctx)
	n, err := Find[note](ctx, s, seeded.ID)
	require.NoError(t, err)

	err = s.Lock(ctx, n, LockWrite)
	require.ErrorIs(t, err, ErrNoTransaction)

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Lock(ctx, n, LockWrite, LockOptions{NoWait: true}))
	require.NoError(t, s.Lock(ctx, n, LockRead))

	require.NoError(t, s.Lock(ctx, n, LockForceIncrement))
	assert.Equal(t, int64(1), n.Version)
	assert.False(t, s.IsDirty(n))
	require.NoError(t, s.Commit(ctx))

	require.Error(t, s.Lock(ctx, &label{ID: 1}, LockForceIncrement), "only versioned entities can be force incremented")
}

func TestLockModeString(t *testing.T) {
	assert.Equal(t, "PESSIMISTIC_READ", LockRead.String())
	assert.Equal(t, "PESSIMISTIC_WRITE", LockWrite.String())
	assert.Equal(t, "OPTIMISTIC_FORCE_INCREMENT", LockForceIncrement.String())
	assert.Equal(t, "NONE", LockNone.String())
}
