package cache

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"
)

// RegionKind selects which statistics a region reports to.
type RegionKind int

const (
	// RegionEntity holds entity state keyed by primary key (second-level cache).
	RegionEntity RegionKind = iota
	// RegionNaturalID maps natural keys to primary keys.
	RegionNaturalID
	// RegionQuery holds query results keyed by the query and its parameters.
	RegionQuery
)

func (k RegionKind) String() string {
	switch k {
	case RegionNaturalID:
		return "natural-id"
	case RegionQuery:
		return "query"
	default:
		return "entity"
	}
}

// Region is a named area of a CacheService. Values are stored dehydrated
// (msgpack encoded), so every reader gets its own copy and mutating a loaded
// value never changes what the next reader sees.
type Region struct {
	name    string
	kind    RegionKind
	service CacheService
	stats   *Statistics
}

// NewRegion creates a region. stats may be nil.
func NewRegion(name string, kind RegionKind, service CacheService, stats *Statistics) *Region {
	return &Region{
		name:    name,
		kind:    kind,
		service: service,
		stats:   stats,
	}
}

// Name returns the region name, which is also the key prefix of its entries.
func (r *Region) Name() string { return r.name }

// Kind returns the region kind.
func (r *Region) Kind() RegionKind { return r.kind }

// Key builds an entry key inside the region.
func (r *Region) Key(parts ...any) string {
	segments := make([]string, 0, len(parts)+1)
	segments = append(segments, r.name)
	for _, p := range parts {
		segments = append(segments, compactSegment(fmt.Sprint(p)))
	}
	return strings.Join(segments, KeySeparator)
}

// Owns reports whether key belongs to this region.
func (r *Region) Owns(key string) bool {
	return strings.HasPrefix(key, r.name+KeySeparator)
}

// Evict removes one entry.
func (r *Region) Evict(ctx context.Context, key string) error {
	return r.service.Delete(ctx, key)
}

// EvictKeys removes several entries at once.
func (r *Region) EvictKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.service.InvalidateKeys(ctx, keys)
}

// Clear removes every entry of the region.
func (r *Region) Clear(ctx context.Context) error {
	return r.service.DeleteByPrefix(ctx, r.name+KeySeparator)
}

// LoadOrFetch returns the cached copy for key, calling fetch and storing its
// encoded result on a miss. Fetch errors are returned and never cached.
func LoadOrFetch[T any](ctx context.Context, r *Region, key string, fetch FetchFn[T]) (T, error) {
	var zero T
	var fetched atomic.Bool

	data, err := GetOrFetch(ctx, r.service, key, func(ctx context.Context) ([]byte, error) {
		fetched.Store(true)
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return msgpack.Marshal(value)
	})
	if err != nil {
		return zero, err
	}

	r.stats.recordRegion(r.kind, !fetched.Load())

	var out T
	if err := msgpack.Unmarshal(data, &out); err != nil {
		return zero, fmt.Errorf("decode %s region entry %q: %w", r.name, key, err)
	}
	return out, nil
}

// Dehydrate encodes a value the same way regions store it. Sessions use it to
// snapshot managed entities for dirty checking.
func Dehydrate(value any) ([]byte, error) {
	return msgpack.Marshal(value)
}

// Hydrate decodes a dehydrated value into dest.
func Hydrate(data []byte, dest any) error {
	return msgpack.Unmarshal(data, dest)
}
