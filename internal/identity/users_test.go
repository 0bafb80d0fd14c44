package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStores(t *testing.T) (*UserStore, *LogStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewUserStore(client), NewLogStore(client)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUserStore_CreateAndValidate(t *testing.T) {
	users, _ := newTestStores(t)
	ctx := context.Background()

	if err := users.Create(ctx, "alice123", "s3cret!x"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ok, err := users.Validate(ctx, "alice123", "s3cret!x")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !ok {
		t.Error("Validate=false for correct credentials")
	}

	ok, err = users.Validate(ctx, "alice123", "wrongpass")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ok {
		t.Error("Validate=true for wrong password")
	}
}

func TestUserStore_CreateDuplicate(t *testing.T) {
	users, _ := newTestStores(t)
	ctx := context.Background()

	if err := users.Create(ctx, "alice123", "s3cret!x"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := users.Create(ctx, "alice123", "otherpass")
	if !errors.Is(err, ErrUserExists) {
		t.Errorf("Create duplicate: err=%v, want ErrUserExists", err)
	}
}

func TestUserStore_CreateValidation(t *testing.T) {
	users, _ := newTestStores(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"username too short", "abc", "validpass", ErrInvalidUsername},
		{"username too long", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "validpass", ErrInvalidUsername},
		{"username bad chars", "alice space", "validpass", ErrInvalidUsername},
		{"empty username", "", "validpass", ErrInvalidUsername},
		{"password too short", "alice123", "abc", ErrInvalidPassword},
		{"empty password", "alice123", "", ErrInvalidPassword},
		{"password bad chars", "alice123", "pass word", ErrInvalidPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := users.Create(ctx, tt.username, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Create(%q, %q)=%v, want %v", tt.username, tt.password, err, tt.wantErr)
			}
		})
	}
}

func TestUserStore_ValidateUnknownUser(t *testing.T) {
	users, _ := newTestStores(t)

	ok, err := users.Validate(context.Background(), "nobody99", "whatever1")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ok {
		t.Error("Validate=true for unknown user")
	}
}

func TestUserStore_ValidateMalformedInputNotAnError(t *testing.T) {
	users, _ := newTestStores(t)

	ok, err := users.Validate(context.Background(), "a b", "")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ok {
		t.Error("Validate=true for malformed credentials")
	}
}

func FuzzUserStoreCreate(f *testing.F) {
	f.Add("user1234", "pass1234")
	f.Add("usr", "pass1234")
	f.Add("user1234", "pas")
	f.Add("", "")
	f.Add("user!@#$", "pass1234")
	f.Add("user1234", string([]byte{0xff, 0xfe}))

	f.Fuzz(func(t *testing.T, username, password string) {
		users, _ := newTestStores(t)
		ctx := context.Background()

		err := users.Create(ctx, username, password)
		if err != nil {
			return
		}
		// A successfully created account must validate with the same pair.
		ok, verr := users.Validate(ctx, username, password)
		if verr != nil {
			t.Fatalf("Validate after Create: %v", verr)
		}
		if !ok {
			t.Errorf("Validate=false right after Create(%q, %q)", username, password)
		}
	})
}
