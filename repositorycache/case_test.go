package repositorycache

import "testing"

type OrderItem struct{}

func TestToSnake(t *testing.T) {
	tests := map[string]string{
		"Product":            "product",
		"OrderItem":          "order_item",
		"HTTPRequest":        "http_request",
		"Account2FA":         "account_2_fa",
		"*repository.User":   "repository_user",
		"Page[Product]":      "page_product",
		"already_snake_case": "already_snake_case",
		"":                   "",
	}
	for in, want := range tests {
		if got := toSnake(in); got != want {
			t.Errorf("toSnake(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRegionNameFor(t *testing.T) {
	if got := regionNameFor[*OrderItem](); got != "order_items" {
		t.Errorf("expected order_items, got %q", got)
	}
	if got := regionNameFor[TestUser](); got != "test_users" {
		t.Errorf("expected test_users, got %q", got)
	}
}
