package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func joinWithSeparator(parts ...string) string {
	return strings.Join(parts, KeySeparator)
}

type skuPrefix string

func (p skuPrefix) CacheKey() string { return "sku-prefix=" + string(p) }

func TestDefaultKeySerializer_SerializeKey(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	productID := uuid.MustParse("7f1b1c7e-3a57-4c1e-9d6c-2f4a1c9b8e01")
	when := time.Date(2024, 3, 1, 10, 30, 0, 0, time.FixedZone("CET", 3600))

	type PriceFilter struct {
		Category string
		MinPrice int
		internal string
	}

	tests := []struct {
		name   string
		method string
		args   []any
		want   string
	}{
		{
			name:   "no args",
			method: "List",
			want:   "List",
		},
		{
			name:   "basic types",
			method: "Get",
			args:   []any{1, "hello", true, 3.14},
			want:   joinWithSeparator("Get", "1", "hello", "true", "3.14"),
		},
		{
			name:   "nil values",
			method: "Get",
			args:   []any{nil, (*int)(nil), ([]int)(nil), (map[string]int)(nil)},
			want:   joinWithSeparator("Get", "nil", "nil", "slice:nil", "map:nil"),
		},
		{
			name:   "nested slice",
			method: "GetByMatrix",
			args:   []any{[][]int{{1, 2}, {3, 4}}},
			want:   joinWithSeparator("GetByMatrix", "slice[2]:{slice[2]:{1,2},slice[2]:{3,4}}"),
		},
		{
			name:   "array",
			method: "GetByArray",
			args:   []any{[2]string{"hello", "world"}},
			want:   joinWithSeparator("GetByArray", "array[2]:{hello,world}"),
		},
		{
			name:   "map is sorted",
			method: "GetByFilters",
			args:   []any{map[string]int{"count": 10, "age": 25}},
			want:   joinWithSeparator("GetByFilters", "map[2]:{age=25,count=10}"),
		},
		{
			name:   "struct skips unexported fields",
			method: "Search",
			args:   []any{PriceFilter{Category: "books", MinPrice: 10, internal: "x"}},
			want:   joinWithSeparator("Search", "struct:{Category:books,MinPrice:10}"),
		},
		{
			name:   "time is normalised to UTC",
			method: "Since",
			args:   []any{when},
			want:   joinWithSeparator("Since", "2024-03-01T09:30:00Z"),
		},
		{
			name:   "uuid uses its canonical form",
			method: "GetByID",
			args:   []any{productID},
			want:   joinWithSeparator("GetByID", "7f1b1c7e-3a57-4c1e-9d6c-2f4a1c9b8e01"),
		},
		{
			name:   "decimal uses its string form",
			method: "MinAmount",
			args:   []any{decimal.RequireFromString("100.50")},
			want:   joinWithSeparator("MinAmount", "100.5"),
		},
		{
			name:   "cache keyer wins",
			method: "List",
			args:   []any{skuPrefix("QC-")},
			want:   joinWithSeparator("List", "sku-prefix=QC-"),
		},
		{
			name:   "pointer is dereferenced",
			method: "GetByPtr",
			args:   []any{func() *int { v := 42; return &v }()},
			want:   joinWithSeparator("GetByPtr", "42"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := serializer.SerializeKey(tt.method, tt.args...)
			if got != tt.want {
				t.Errorf("SerializeKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultKeySerializer_DistinctTimesDoNotCollide(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	a := serializer.SerializeKey("Since", time.Unix(0, 0))
	b := serializer.SerializeKey("Since", time.Unix(60, 0))
	if a == b {
		t.Fatalf("expected distinct keys, both were %q", a)
	}
}

func TestDefaultKeySerializer_LongSegmentsAreHashed(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	long := strings.Repeat("x", MaxSegmentLength+1)

	key := serializer.SerializeKey("Raw", long)
	if !strings.HasPrefix(key, joinWithSeparator("Raw", "h:")) {
		t.Fatalf("expected hashed segment, got %q", key)
	}
	if key != serializer.SerializeKey("Raw", long) {
		t.Fatal("hashed keys must be stable")
	}
	if key == serializer.SerializeKey("Raw", long+"y") {
		t.Fatal("different inputs must hash differently")
	}
}

func TestDefaultKeySerializer_Functions(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	criteria := func() {}

	key1 := serializer.SerializeKey("GetWithFunc", criteria)
	key2 := serializer.SerializeKey("GetWithFunc", criteria)
	if key1 != key2 {
		t.Errorf("function serialization should be stable: %v != %v", key1, key2)
	}
	if !strings.HasPrefix(key1, joinWithSeparator("GetWithFunc", "func")+":") {
		t.Errorf("function serialization should use func: prefix, got: %v", key1)
	}
}

func TestDefaultKeySerializer_Channels(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	key := serializer.SerializeKey("GetWithChannel", make(chan int))
	if !strings.HasPrefix(key, joinWithSeparator("GetWithChannel", "chan")+":") {
		t.Errorf("channel should be serialized with chan: prefix, got: %v", key)
	}
}

func TestHashKey(t *testing.T) {
	if HashKey("a", "b") != HashKey("a", "b") {
		t.Fatal("HashKey must be deterministic")
	}
	if HashKey("a", "b") == HashKey("ab") {
		t.Fatal("separator must take part in the digest")
	}
}

func BenchmarkDefaultKeySerializer(b *testing.B) {
	serializer := NewDefaultKeySerializer()
	args := []any{1, "benchmark", []int{1, 2, 3}, map[string]int{"test": 1}, time.Now()}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		serializer.SerializeKey("BenchmarkMethod", args...)
	}
}
