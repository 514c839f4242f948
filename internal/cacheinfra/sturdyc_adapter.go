package cacheinfra

import (
	"context"
	"reflect"
	"strings"

	"github.com/viccon/sturdyc"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// SturdycService is the sturdyc-backed cache provider. Concurrent misses on the
// same key are collapsed into one fetch by sturdyc's in-flight tracking.
type SturdycService struct {
	client *sturdyc.Client[any]
}

// NewSturdycService validates cfg and builds the sturdyc client.
func NewSturdycService(cfg Config) (*SturdycService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &SturdycService{client: client}, nil
}

// validateFetchFn checks fetchFn has the shape func(context.Context) (T, error).
func validateFetchFn(fetchFn any) error {
	if fetchFn == nil {
		return &ConfigError{Field: "fetchFn", Message: "cannot be nil"}
	}

	fnType := reflect.TypeOf(fetchFn)
	if fnType.Kind() != reflect.Func {
		return &ConfigError{Field: "fetchFn", Message: "must be a function"}
	}
	if fnType.NumIn() != 1 || fnType.NumOut() != 2 {
		return &ConfigError{Field: "fetchFn", Message: "must have signature func(context.Context) (T, error)"}
	}
	if !fnType.In(0).Implements(contextType) {
		return &ConfigError{Field: "fetchFn", Message: "first parameter must be context.Context"}
	}
	if !fnType.Out(1).Implements(errorType) {
		return &ConfigError{Field: "fetchFn", Message: "second return value must be error"}
	}

	return nil
}

// GetOrFetch returns the cached value for key or runs fetchFn and stores its result.
func (s *SturdycService) GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error) {
	if err := validateFetchFn(fetchFn); err != nil {
		return nil, err
	}

	v, err := s.client.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		result, err := callFetchFn(ctx, fetchFn)
		return fetched{value: result}, err
	})
	if err != nil {
		return nil, err
	}
	if entry, ok := v.(fetched); ok {
		return entry.value, nil
	}
	return v, nil
}

// fetched boxes fetch results before they reach sturdyc, whose type assertion
// on T=any rejects a nil interface and would hide the fetch error.
type fetched struct {
	value any
}

// callFetchFn invokes a pre-validated fetch function of any result type.
func callFetchFn(ctx context.Context, fetchFn any) (any, error) {
	if fn, ok := fetchFn.(func(context.Context) (any, error)); ok {
		return fn(ctx)
	}
	if fn, ok := fetchFn.(func(context.Context) ([]byte, error)); ok {
		return fn(ctx)
	}

	results := reflect.ValueOf(fetchFn).Call([]reflect.Value{reflect.ValueOf(ctx)})

	var result any
	if v := results[0]; v.IsValid() && v.CanInterface() {
		result = v.Interface()
	}

	var err error
	if e := results[1]; e.IsValid() && !e.IsNil() {
		err = e.Interface().(error)
	}

	return result, err
}

// Delete removes a single entry.
func (s *SturdycService) Delete(ctx context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix removes every entry whose key starts with prefix. Regions use
// it to drop all of their entries at once.
func (s *SturdycService) DeleteByPrefix(ctx context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

// InvalidateKeys removes the given entries.
func (s *SturdycService) InvalidateKeys(ctx context.Context, keys []string) error {
	for _, key := range keys {
		s.client.Delete(key)
	}
	return nil
}

// Keys lists the keys currently stored, optionally filtered by prefix.
func (s *SturdycService) Keys(prefix string) []string {
	var keys []string
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Size returns the number of stored entries.
func (s *SturdycService) Size() int {
	return s.client.Size()
}
