package identity

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

func openTestStore(t *testing.T, path string, opts ...Option) *Store {
	t.Helper()
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "seeds.db"))

	first, err := s.GetOrCreate(ctx, TransportSeedName)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(first) != SeedSize {
		t.Fatalf("seed length = %d, want %d", len(first), SeedSize)
	}

	second, err := s.GetOrCreate(ctx, TransportSeedName)
	if err != nil {
		t.Fatalf("GetOrCreate (second): %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("second GetOrCreate returned different bytes")
	}

	other, err := s.GetOrCreate(ctx, RPCSeedName)
	if err != nil {
		t.Fatalf("GetOrCreate(%s): %v", RPCSeedName, err)
	}
	if bytes.Equal(first, other) {
		t.Errorf("distinct names produced identical seeds")
	}
}

func TestGetOrCreateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "seeds.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	before, err := s.GetOrCreate(ctx, RPCSeedName)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := openTestStore(t, path)
	after, err := reopened.GetOrCreate(ctx, RPCSeedName)
	if err != nil {
		t.Fatalf("GetOrCreate after reopen: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("seed changed across restart: %x != %x", before, after)
	}
}

func TestConcurrentGetOrCreateConverges(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seeds.db")
	a := openTestStore(t, path)
	b := openTestStore(t, path)

	const n = 8
	results := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := a
			if i%2 == 1 {
				s = b
			}
			results[i], errs[i] = s.GetOrCreate(ctx, TransportSeedName)
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !bytes.Equal(results[i], results[0]) {
			t.Errorf("caller %d saw a divergent seed", i)
		}
	}
}

func TestPutIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "seeds.db"))

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.Put(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "k", []byte("v2")); !errors.Is(err, ErrExists) {
		t.Fatalf("second Put error = %v, want ErrExists", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("Get = %q, want %q", got, "v1")
	}

	names, err := s.Names(ctx)
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if len(names) != 1 || names[0] != "k" {
		t.Errorf("Names = %v, want [k]", names)
	}
}

func TestSealedSeeds(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seeds.db")

	sealed := openTestStore(t, path, WithPassphrase("correct horse"))
	seed, err := sealed.GetOrCreate(ctx, TransportSeedName)
	if err != nil {
		t.Fatalf("GetOrCreate (sealed): %v", err)
	}

	var raw []byte
	if err := sealed.db.QueryRow("SELECT value FROM seeds WHERE name = ?", TransportSeedName).Scan(&raw); err != nil {
		t.Fatalf("read raw value: %v", err)
	}
	if bytes.Contains(raw, seed) {
		t.Errorf("raw column contains the plaintext seed")
	}

	again, err := sealed.GetOrCreate(ctx, TransportSeedName)
	if err != nil {
		t.Fatalf("GetOrCreate (sealed, second): %v", err)
	}
	if !bytes.Equal(seed, again) {
		t.Errorf("sealed seed did not round trip")
	}

	plain := openTestStore(t, path)
	if _, err := plain.Get(ctx, TransportSeedName); !errors.Is(err, ErrSealed) {
		t.Errorf("Get without passphrase error = %v, want ErrSealed", err)
	}

	wrong := openTestStore(t, path, WithPassphrase("wrong"))
	if _, err := wrong.Get(ctx, TransportSeedName); err == nil {
		t.Errorf("Get with wrong passphrase succeeded")
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("Open(\"\") succeeded")
	}
}

func TestNewSeed(t *testing.T) {
	a, err := NewSeed()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewSeed()
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != SeedSize || len(b) != SeedSize {
		t.Fatalf("seed sizes = %d, %d", len(a), len(b))
	}
	if bytes.Equal(a, b) {
		t.Fatal("two fresh seeds are equal")
	}
}
