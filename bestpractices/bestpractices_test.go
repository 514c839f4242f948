package bestpractices

import (
	"context"
	"fmt"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-orm-lab/cache"
	"github.com/goliatone/go-orm-lab/pkg/testsupport"
	"github.com/goliatone/go-orm-lab/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*CustomerService, *cache.Statistics) {
	t.Helper()
	db, _ := testsupport.NewTestDB(t, Models()...)
	svc, err := cache.NewCacheService(cache.DefaultConfig())
	require.NoError(t, err)
	stats := cache.NewStatistics("bestpractices_test")
	factory := session.NewFactory(db, session.WithStatistics(stats), session.WithSecondLevelCache(svc))
	return NewCustomerService(factory), stats
}

func TestCustomer_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Customer)
		field  string
	}{
		{name: "valid", mutate: func(*Customer) {}},
		{name: "missing email", mutate: func(c *Customer) { c.Email = "" }, field: "email"},
		{name: "bad email", mutate: func(c *Customer) { c.Email = "nope" }, field: "email"},
		{name: "missing first name", mutate: func(c *Customer) { c.FirstName = "" }, field: "first_name"},
		{name: "formatted phone", mutate: func(c *Customer) { c.PhoneNumber = "+1-555-123-4567" }, field: "phone_number"},
		{name: "e164 phone", mutate: func(c *Customer) { c.PhoneNumber = "+15551234567" }},
		{name: "unknown status", mutate: func(c *Customer) { c.Status = "GONE" }, field: "status"},
		{name: "born tomorrow", mutate: func(c *Customer) { c.DateOfBirth = time.Now().Add(24 * time.Hour) }, field: "date_of_birth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCustomer("Ada@Example.com ", "Ada", "Lovelace")
			tt.mutate(c)
			err := c.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestNewCustomer_NormalisesEmail(t *testing.T) {
	c := NewCustomer("  Ada@Example.COM", "Ada", "Lovelace")
	assert.Equal(t, "ada@example.com", c.Email)
	assert.Equal(t, c.Email, c.NaturalKey())
	assert.Equal(t, CustomerActive, c.Status)
}

func TestActorFrom(t *testing.T) {
	assert.Equal(t, SystemActor, ActorFrom(context.Background()))
	assert.Equal(t, "alice", ActorFrom(WithActor(context.Background(), "alice")))
	assert.Equal(t, SystemActor, ActorFrom(WithActor(context.Background(), "")))
}

func TestCustomerService_RegisterAndAudit(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	c, err := svc.Register(WithActor(ctx, "onboarding"), NewCustomer("ada@example.com", "Ada", "Lovelace"))
	require.NoError(t, err)
	assert.NotZero(t, c.ID)
	assert.Equal(t, "onboarding", c.CreatedBy)
	assert.False(t, c.CreatedAt.IsZero())
	assert.True(t, c.UpdatedAt.IsZero())

	updated, err := svc.ChangePhone(WithActor(ctx, "support"), c.ID, "+447700900123")
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)
	assert.Equal(t, "support", updated.UpdatedBy)
	assert.Equal(t, "onboarding", updated.CreatedBy, "creation audit is kept")

	loaded, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "+447700900123", loaded.PhoneNumber)
	assert.Equal(t, "support", loaded.UpdatedBy)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestCustomerService_RegisterErrors(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Register(ctx, NewCustomer("ada@example.com", "Ada", "Lovelace"))
	require.NoError(t, err)

	_, err = svc.Register(ctx, NewCustomer("ADA@example.com", "Other", "Ada"))
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.True(t, session.HasCategory(err, goerrors.CategoryConflict))

	_, err = svc.Register(ctx, &Customer{})
	assert.True(t, session.HasCategory(err, goerrors.CategoryValidation))

	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCustomerService_ChangeRejectsInvalidState(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	c, err := svc.Register(ctx, NewCustomer("ada@example.com", "Ada", "Lovelace"))
	require.NoError(t, err)

	_, err = svc.ChangePhone(ctx, c.ID, "call me")
	assert.True(t, session.HasCategory(err, goerrors.CategoryValidation))

	_, err = svc.ChangeStatus(ctx, c.ID, CustomerStatus("DELETED"))
	assert.True(t, session.HasCategory(err, goerrors.CategoryValidation))

	suspended, err := svc.ChangeStatus(ctx, c.ID, CustomerSuspended)
	require.NoError(t, err)
	assert.Equal(t, int64(1), suspended.Version, "failed changes did not bump the version")

	list, err := svc.FindByStatus(ctx, CustomerSuspended)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)

	_, err = svc.ChangeStatus(ctx, 404, CustomerBlocked)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestCustomerService_FindByEmailUsesNaturalIDCache(t *testing.T) {
	ctx := context.Background()
	svc, stats := newService(t)
	c, err := svc.Register(ctx, NewCustomer("ada@example.com", "Ada", "Lovelace"))
	require.NoError(t, err)
	stats.Clear()

	for i := 0; i < 3; i++ {
		found, err := svc.FindByEmail(ctx, "Ada@Example.com")
		require.NoError(t, err)
		assert.Equal(t, c.ID, found.ID)
	}

	snap := stats.Snapshot()
	assert.Equal(t, uint64(1), snap.NaturalIDCacheMisses)
	assert.Equal(t, uint64(2), snap.NaturalIDCacheHits)

	_, err = svc.ChangePhone(ctx, c.ID, "+15550000000")
	require.NoError(t, err)
	found, err := svc.FindByEmail(ctx, c.Email)
	require.NoError(t, err)
	assert.Equal(t, "+15550000000", found.PhoneNumber, "writes evict cached state")

	_, err = svc.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestCustomerService_ImportBatch(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		count     int
		batchSize int
		batches   int
	}{
		{name: "exact batches", count: 20, batchSize: 5, batches: 4},
		{name: "partial last batch", count: 7, batchSize: 3, batches: 3},
		{name: "one batch", count: 2, batchSize: 10, batches: 1},
		{name: "nothing to import", count: 0, batchSize: 5, batches: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newService(t)
			customers := make([]*Customer, tt.count)
			for i := range customers {
				customers[i] = NewCustomer(fmt.Sprintf("c%d@example.com", i), "First", "Last")
			}

			batches, err := svc.ImportBatch(WithActor(ctx, "import"), customers, tt.batchSize)
			require.NoError(t, err)
			assert.Equal(t, tt.batches, batches)

			n, err := svc.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.count, n)
		})
	}
}

func TestCustomerService_ImportBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	customers := []*Customer{
		NewCustomer("a@example.com", "A", "A"),
		NewCustomer("b@example.com", "B", "B"),
		NewCustomer("a@example.com", "A", "Again"),
	}
	_, err := svc.ImportBatch(ctx, customers, 2)
	require.Error(t, err)

	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "first batch rolled back too")

	_, err = svc.ImportBatch(ctx, customers, 0)
	assert.True(t, session.HasCategory(err, goerrors.CategoryValidation))
}

func TestDemo(t *testing.T) {
	ctx := context.Background()
	db, _ := testsupport.NewTestDB(t, Models()...)
	svc, err := cache.NewCacheService(cache.DefaultConfig())
	require.NoError(t, err)
	stats := cache.NewStatistics("bestpractices_demo_test")
	demo := NewDemo(session.NewFactory(db, session.WithStatistics(stats), session.WithSecondLevelCache(svc)))

	require.NoError(t, demo.Run(ctx))

	n, err := demo.Service().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 23, n, "john, jane, 20 imported and the stats customer")

	snap := stats.Snapshot()
	assert.Equal(t, uint64(1), snap.SecondLevelCacheMisses)
	assert.Equal(t, uint64(2), snap.SecondLevelCacheHits)
	assert.Equal(t, uint64(1), snap.NaturalIDCacheMisses)
	assert.Equal(t, uint64(1), snap.NaturalIDCacheHits)
}
