package db

import (
	"context"
	"testing"
)

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestWithTx_NoPool(t *testing.T) {
	_, _, err := WithTx(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error without a pool")
	}
	if err.Error() != "no database pool" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}

func TestRunInTx_NoPool(t *testing.T) {
	called := false
	err := RunInTx(context.Background(), nil, func(context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Error("expected error without a pool")
	}
	if called {
		t.Error("fn must not run when the transaction cannot begin")
	}
}

func TestValidSchema(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"public", true},
		{"neurobd", true},
		{"cohort_2024", true},
		{"_staging", true},
		{"1cohort", false},
		{"a-b", false},
		{"a.b", false},
		{"a b", false},
		{"'; DROP TABLE", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidSchema(tt.input); got != tt.valid {
			t.Errorf("ValidSchema(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}

func TestNewPool_InvalidSchema(t *testing.T) {
	if _, err := NewPool(context.Background(), "postgres://localhost/neurobd", "bad-schema", 1, 1); err == nil {
		t.Error("expected error for invalid schema")
	}
}
