package cache

import (
	"context"
	"errors"
	"testing"
)

// mockCacheService returns a canned result for every GetOrFetch call.
type mockCacheService struct {
	result any
	err    error
}

func (m *mockCacheService) GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error) {
	return m.result, m.err
}

func (m *mockCacheService) Delete(ctx context.Context, key string) error {
	return nil
}

func (m *mockCacheService) DeleteByPrefix(ctx context.Context, prefix string) error {
	return nil
}

func (m *mockCacheService) InvalidateKeys(ctx context.Context, keys []string) error {
	return nil
}

func TestGetOrFetch_NilInterface(t *testing.T) {
	mock := &mockCacheService{}

	type Loader interface {
		Load() string
	}

	result, err := GetOrFetch[Loader](context.Background(), mock, "test-key", func(ctx context.Context) (Loader, error) {
		return nil, nil
	})
	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result but got: %v", result)
	}
}

func TestGetOrFetch_TypedNilPointer(t *testing.T) {
	mock := &mockCacheService{result: (*string)(nil)}

	result, err := GetOrFetch[*string](context.Background(), mock, "test-key", func(ctx context.Context) (*string, error) {
		return nil, nil
	})
	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result but got: %v", result)
	}
}

func TestGetOrFetch_TypeAssertionFailure(t *testing.T) {
	mock := &mockCacheService{result: "wrong-type"}

	result, err := GetOrFetch[int](context.Background(), mock, "test-key", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if !errors.Is(err, ErrInvalidResultType) {
		t.Errorf("expected ErrInvalidResultType but got: %v", err)
	}
	if result != 0 {
		t.Errorf("expected zero value (0) but got: %v", result)
	}
}

func TestGetOrFetch_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	mock := &mockCacheService{err: boom}

	_, err := GetOrFetch[string](context.Background(), mock, "test-key", func(ctx context.Context) (string, error) {
		return "", nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom but got: %v", err)
	}
}

func TestGetOrFetch_ValidResult(t *testing.T) {
	mock := &mockCacheService{result: "test-value"}

	result, err := GetOrFetch[string](context.Background(), mock, "test-key", func(ctx context.Context) (string, error) {
		return "test-value", nil
	})
	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if result != "test-value" {
		t.Errorf("expected 'test-value' but got: '%s'", result)
	}
}
