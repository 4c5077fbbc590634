package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	kitlog "github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVault struct {
	mu         sync.Mutex
	LocateFunc func(keyword string) ([]string, error)
	ShowFunc   func(entry string) ([]string, error)
	located    []string
	shown      []string
}

func (v *fakeVault) Locate(ctx context.Context, keyword string) ([]string, error) {
	v.mu.Lock()
	v.located = append(v.located, keyword)
	v.mu.Unlock()
	return v.LocateFunc(keyword)
}

func (v *fakeVault) Show(ctx context.Context, entry string) ([]string, error) {
	v.mu.Lock()
	v.shown = append(v.shown, entry)
	v.mu.Unlock()
	return v.ShowFunc(entry)
}

// setupScratch creates a scratch dir holding a vault database and returns
// resolver options pointing to it.
func setupScratch(t *testing.T) Options {
	scratch := t.TempDir()
	dbDir := filepath.Join(scratch, "secrets-repo", "vault")
	require.NoError(t, os.MkdirAll(dbDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dbDir, "certs.kdbx"), []byte("kdbx"), 0o600))
	return Options{
		ScratchDir:   scratch,
		DatabaseName: "certs.kdbx",
		WorkingPath:  filepath.Join(t.TempDir(), "work", "certs.kdbx"),
	}
}

func TestKeywords(t *testing.T) {
	assert.Equal(t,
		[]string{"payments", "api", "jks", "payments", "api.jks"},
		Keywords("Payments-API.jks"),
	)
	assert.Equal(t, []string{"store", "p12", "store.p12"}, Keywords("store.p12"))
	assert.Empty(t, Keywords(""))
	assert.Equal(t, []string{"a", "b", "a", "b"}, Keywords("a--b"))
}

func TestResolve(t *testing.T) {
	opts := setupScratch(t)
	vault := &fakeVault{
		LocateFunc: func(keyword string) ([]string, error) {
			switch keyword {
			case "payments":
				return []string{"/certs/payments", "/certs/shared"}, nil
			case "api":
				return []string{"/certs/shared", "/certs/api"}, nil
			}
			return nil, nil
		},
		ShowFunc: func(entry string) ([]string, error) {
			switch entry {
			case "/certs/payments":
				return []string{"p1"}, nil
			case "/certs/shared":
				return []string{"changeit"}, nil
			case "/certs/api":
				return []string{"changeit", "a2"}, nil
			}
			return nil, nil
		},
	}

	r := NewResolver(vault, NewBootstrap(), opts, kitlog.NewNopLogger())
	got := r.Resolve(context.Background(), "payments-api.jks", "payments")
	assert.Equal(t, []string{"p1", "changeit", "changeit", "a2"}, got)
	assert.Equal(t, []string{"/certs/payments", "/certs/shared", "/certs/api"}, vault.shown)

	// the database was moved to the working location
	_, err := os.Stat(opts.WorkingPath)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(opts.ScratchDir, "secrets-repo", "vault", "certs.kdbx"))
	require.True(t, os.IsNotExist(err))
}

func TestResolveDatabaseMissing(t *testing.T) {
	opts := Options{
		ScratchDir:   t.TempDir(),
		DatabaseName: "certs.kdbx",
		WorkingPath:  filepath.Join(t.TempDir(), "certs.kdbx"),
	}
	vault := &fakeVault{
		LocateFunc: func(string) ([]string, error) { return []string{"e"}, nil },
		ShowFunc:   func(string) ([]string, error) { return []string{"pwd"}, nil },
	}
	r := NewResolver(vault, NewBootstrap(), opts, kitlog.NewNopLogger())
	assert.Empty(t, r.Resolve(context.Background(), "a.jks", "p"))
	assert.Empty(t, r.Resolve(context.Background(), "b.jks", "p"))
	assert.Empty(t, vault.located)
}

func TestResolveVaultFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("locate", func(t *testing.T) {
		vault := &fakeVault{
			LocateFunc: func(keyword string) ([]string, error) {
				if keyword == "api" {
					return nil, errors.New("vault down")
				}
				return []string{"/certs/" + keyword}, nil
			},
			ShowFunc: func(string) ([]string, error) { return []string{"pwd"}, nil },
		}
		r := NewResolver(vault, NewBootstrap(), setupScratch(t), kitlog.NewNopLogger())
		assert.Empty(t, r.Resolve(ctx, "payments-api.jks", "payments"))
		// remaining keywords are not queried
		assert.Equal(t, []string{"payments", "api"}, vault.located)
		assert.Empty(t, vault.shown)
	})

	t.Run("show", func(t *testing.T) {
		vault := &fakeVault{
			LocateFunc: func(keyword string) ([]string, error) {
				return []string{"/certs/" + keyword}, nil
			},
			ShowFunc: func(entry string) ([]string, error) {
				if entry == "/certs/api" {
					return nil, errors.New("vault down")
				}
				return []string{"pwd-" + filepath.Base(entry)}, nil
			},
		}
		r := NewResolver(vault, NewBootstrap(), setupScratch(t), kitlog.NewNopLogger())
		assert.Equal(t, []string{"pwd-payments"}, r.Resolve(ctx, "payments-api.jks", "payments"))
	})
}

func TestResolveSharedBootstrap(t *testing.T) {
	opts := setupScratch(t)
	boot := NewBootstrap()
	vault := &fakeVault{
		LocateFunc: func(keyword string) ([]string, error) { return []string{"/certs/" + keyword}, nil },
		ShowFunc:   func(string) ([]string, error) { return []string{"pwd"}, nil },
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := NewResolver(vault, boot, opts, kitlog.NewNopLogger())
			assert.NotEmpty(t, r.Resolve(context.Background(), "store.jks", "p"))
		}()
	}
	wg.Wait()

	// a second relocation would have failed (the source is gone) and
	// resolvers would have returned no candidates.
	_, err := os.Stat(opts.WorkingPath)
	require.NoError(t, err)
}
