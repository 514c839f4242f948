package repositorycache

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

type cacheTagsContextKey struct{}

// WithCacheTags attaches cache tags to the context. Reads made with this
// context register their keys under every tag, and InvalidateTags evicts them.
func WithCacheTags(ctx context.Context, tags ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(tags) == 0 {
		return ctx
	}

	combined := dedupeStrings(append(cacheTagsFromContext(ctx), tags...))
	if len(combined) == 0 {
		return ctx
	}

	return context.WithValue(ctx, cacheTagsContextKey{}, combined)
}

func cacheTagsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if tags, ok := ctx.Value(cacheTagsContextKey{}).([]string); ok {
		return append([]string(nil), tags...)
	}
	return nil
}

// dedupeStrings drops empty and repeated values, keeping first-seen order.
func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0:0]
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// tagIndex maps a tag to the set of keys read under it.
type tagIndex struct {
	tags *xsync.MapOf[string, *xsync.MapOf[string, struct{}]]
}

func newTagIndex() *tagIndex {
	return &tagIndex{tags: xsync.NewMapOf[string, *xsync.MapOf[string, struct{}]]()}
}

func (t *tagIndex) register(ctx context.Context, key string) {
	for _, tag := range cacheTagsFromContext(ctx) {
		keys, _ := t.tags.LoadOrCompute(tag, func() *xsync.MapOf[string, struct{}] {
			return xsync.NewMapOf[string, struct{}]()
		})
		keys.Store(key, struct{}{})
	}
}

// take removes the tags and returns the keys they referenced.
func (t *tagIndex) take(tags ...string) []string {
	var out []string
	for _, tag := range dedupeStrings(tags) {
		keys, ok := t.tags.LoadAndDelete(tag)
		if !ok {
			continue
		}
		keys.Range(func(key string, _ struct{}) bool {
			out = append(out, key)
			return true
		})
	}
	return dedupeStrings(out)
}

func (t *tagIndex) clear() {
	t.tags.Clear()
}

type queryKeyContextKey struct{}

// WithQueryKey names the next query-cache read. Criteria are functions and
// serialize by code pointer, so two closures from the same literal share a
// key; callers passing captured values should name the query with them.
func WithQueryKey(ctx context.Context, parts ...any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(parts) == 0 {
		return ctx
	}
	return context.WithValue(ctx, queryKeyContextKey{}, parts)
}

func queryKeyFromContext(ctx context.Context) ([]any, bool) {
	if ctx == nil {
		return nil, false
	}
	parts, ok := ctx.Value(queryKeyContextKey{}).([]any)
	return parts, ok
}
