package di

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-orm-lab/cache"
	"github.com/goliatone/go-orm-lab/caching"
	"github.com/goliatone/go-orm-lab/internal/database"
	"github.com/goliatone/go-orm-lab/session"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/shopspring/decimal"
)

const benchProducts = 200

func seedProducts(b *testing.B, container *Container) []*caching.Product {
	b.Helper()
	ctx := context.Background()

	if err := database.CreateSchema(ctx, container.DB(), caching.Models()...); err != nil {
		b.Fatalf("CreateSchema() failed: %v", err)
	}

	products := make([]*caching.Product, 0, benchProducts)
	for i := range benchProducts {
		p, err := container.Catalog().Create(ctx, caching.NewProduct(
			fmt.Sprintf("BENCH-%05d", i),
			fmt.Sprintf("Bench product %d", i),
			decimal.NewFromInt(int64(i)+1),
		))
		if err != nil {
			b.Fatalf("Create() failed: %v", err)
		}
		products = append(products, p)
	}
	return products
}

func BenchmarkKeySerializationPerformance(b *testing.B) {
	serializer := cache.NewDefaultKeySerializer()

	testCases := []struct {
		name string
		args []any
	}{
		{name: "simple_args", args: []any{"test-id", 123, true}},
		{
			name: "product",
			args: []any{*caching.NewProduct("KEY-0001", "Serialized product", decimal.RequireFromString("9.99"))},
		},
		{name: "slice_args", args: []any{[]string{"a", "b", "c"}, []int{1, 2, 3, 4, 5}}},
		{
			name: "map_args",
			args: []any{map[string]any{"category": "books", "limit": 42, "active": true}},
		},
		{name: "time", args: []any{time.Now()}},
	}

	for _, tc := range testCases {
		b.Run(tc.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = serializer.SerializeKey("GetByID", tc.args...)
			}
		})
	}
}

func BenchmarkCachedVsBaseRepository(b *testing.B) {
	container := newTestContainer(b)
	products := seedProducts(b, container)
	ctx := context.Background()

	base := repository.NewRepository[*caching.Product](container.DB(), caching.Handlers())
	cached := NewCachedRepository[*caching.Product](container, base)

	b.Run("base_repository_GetByID", func(b *testing.B) {
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = base.GetByID(ctx, products[i%len(products)].ID.String())
		}
	})

	b.Run("cached_repository_GetByID", func(b *testing.B) {
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = cached.GetByID(ctx, products[i%len(products)].ID.String())
		}
	})
}

func BenchmarkSessionFind(b *testing.B) {
	container := newTestContainer(b)
	products := seedProducts(b, container)
	ctx := context.Background()
	factory := container.SessionFactory()

	b.Run("second_level_cache", func(b *testing.B) {
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			s := factory.OpenSession()
			_, _ = session.Find[caching.Product](ctx, s, products[i%len(products)].ID)
			_ = s.Close(ctx)
		}
	})

	b.Run("first_level_cache", func(b *testing.B) {
		s := factory.OpenSession()
		defer s.Close(ctx)

		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = session.Find[caching.Product](ctx, s, products[i%len(products)].ID)
		}
	})
}
