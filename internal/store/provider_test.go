package store_test

import (
	"context"
	"strings"
	"testing"

	"github.com/jensholdgaard/bluepenguin/internal/clock"
	"github.com/jensholdgaard/bluepenguin/internal/config"
	"github.com/jensholdgaard/bluepenguin/internal/store"

	// Import drivers so their init() functions register them.
	_ "github.com/jensholdgaard/bluepenguin/internal/store/memstore"
	_ "github.com/jensholdgaard/bluepenguin/internal/store/postgres"
)

// fakeDriver is a store.Driver that always succeeds without connecting to a DB.
func fakeDriver(_ context.Context, _ config.DatabaseConfig, _ clock.Clock) (*store.Repositories, error) {
	return &store.Repositories{}, nil
}

func TestOpen(t *testing.T) {
	store.Register("test-driver", fakeDriver)

	tests := []struct {
		name    string
		driver  string
		wantErr bool
	}{
		{
			name:    "registered driver succeeds",
			driver:  "test-driver",
			wantErr: false,
		},
		{
			name:    "memory driver succeeds",
			driver:  "memory",
			wantErr: false,
		},
		{
			name:    "unknown driver fails",
			driver:  "nonexistent",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DatabaseConfig{Driver: tt.driver}
			_, err := store.Open(context.Background(), cfg, clock.Real{})
			if (err != nil) != tt.wantErr {
				t.Errorf("Open(driver=%q) error = %v, wantErr %v", tt.driver, err, tt.wantErr)
			}
		})
	}
}

func TestRegister_SQLX(t *testing.T) {
	// The sqlx driver is registered via init() but cannot connect here, so
	// only check the failure is a connection error.
	cfg := config.DatabaseConfig{Driver: "sqlx", Host: "127.0.0.1", Port: 1, SSLMode: "disable"}
	_, err := store.Open(context.Background(), cfg, clock.Real{})
	if err == nil {
		t.Fatal("expected error (no DB running), got nil")
	}
	if strings.Contains(err.Error(), "unknown store driver") {
		t.Errorf("expected connection error, got unknown driver error: %v", err)
	}
}

func TestAccountStatus_CanTrade(t *testing.T) {
	tests := []struct {
		status store.AccountStatus
		want   bool
	}{
		{store.StatusVisitor, false},
		{store.StatusUser, true},
		{store.StatusVIP, true},
		{store.StatusSuperuser, false},
	}
	for _, tt := range tests {
		if got := tt.status.CanTrade(); got != tt.want {
			t.Errorf("%s.CanTrade() = %v, want %v", tt.status, got, tt.want)
		}
	}
}
