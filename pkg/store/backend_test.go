package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/datastore"
	"github.com/alecthomas/assert/v2"
	"github.com/joho/godotenv"
)

// testBackend checks the contract every Backend must satisfy.
func testBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	_, err := b.Load(ctx, "glconnect_test_missing")
	assert.IsError(t, err, ErrNotFound)

	err = b.Commit(ctx,
		Write{Key: "glconnect_test_a", Value: []byte(`[1,2,3]`)},
		Write{Key: "glconnect_test_b", Value: []byte(`{"x":"y"}`)},
	)
	assert.NoError(t, err)

	got, err := b.Load(ctx, "glconnect_test_a")
	assert.NoError(t, err)
	assert.Equal(t, `[1,2,3]`, compactJSON(got))

	err = b.Commit(ctx,
		Write{Key: "glconnect_test_a", Value: []byte(`[4]`)},
		Write{Key: "glconnect_test_b"},
	)
	assert.NoError(t, err)

	got, err = b.Load(ctx, "glconnect_test_a")
	assert.NoError(t, err)
	assert.Equal(t, `[4]`, compactJSON(got))
	_, err = b.Load(ctx, "glconnect_test_b")
	assert.IsError(t, err, ErrNotFound)

	// cleanup
	assert.NoError(t, b.Commit(ctx, Write{Key: "glconnect_test_a"}))
}

// compactJSON normalizes whitespace added by JSONB round trips.
func compactJSON(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c != ' ' && c != '\n' {
			out = append(out, c)
		}
	}
	return string(out)
}

func TestMemoryBackend(t *testing.T) {
	testBackend(t, NewMemoryBackend())
}

func TestBoltBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glconnect.db")
	b, err := NewBoltBackend(path)
	assert.NoError(t, err)
	testBackend(t, b)
	assert.NoError(t, b.Close())

	// data survives reopen
	b, err = NewBoltBackend(path)
	assert.NoError(t, err)
	defer b.Close()
	assert.NoError(t, b.Commit(context.Background(), Write{Key: "k", Value: []byte(`"v"`)}))
	got, err := b.Load(context.Background(), "k")
	assert.NoError(t, err)
	assert.Equal(t, `"v"`, string(got))
}

func TestBoltBackendWithStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "glconnect.db")
	b, err := NewBoltBackend(path)
	assert.NoError(t, err)

	s, err := Open(ctx, Options{Backend: b})
	assert.NoError(t, err)
	_, err = s.AddOrganization(ctx, Organization{Name: "Acme", URL: "https://gitlab.com"})
	assert.NoError(t, err)
	assert.NoError(t, s.Close())

	b, err = NewBoltBackend(path)
	assert.NoError(t, err)
	s, err = Open(ctx, Options{Backend: b})
	assert.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 1, len(s.Organizations()))
}

func TestPostgresBackend(t *testing.T) {
	godotenv.Load("../../.env.test")
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	b, err := NewPostgresBackend(context.Background(), dsn)
	assert.NoError(t, err)
	defer b.Close()
	testBackend(t, b)
}

func TestRedisBackend(t *testing.T) {
	godotenv.Load("../../.env.test")
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	b, err := NewRedisBackend(context.Background(), url)
	assert.NoError(t, err)
	defer b.Close()
	testBackend(t, b)
}

func TestDatastoreBackend(t *testing.T) {
	godotenv.Load("../../.env.test")
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := datastore.NewClient(ctx, "glconnect-test")
	assert.NoError(t, err)
	b := NewDatastoreBackend(client)
	defer b.Close()
	testBackend(t, b)
}
