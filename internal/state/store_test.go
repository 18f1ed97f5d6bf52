package state

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acctguard/acctguard/internal/config"
)

func backends(t *testing.T) map[string]KV {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := NewSQLiteStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	bolt, err := NewBoltStore(filepath.Join(dir, "state.bolt"))
	require.NoError(t, err)

	stores := map[string]KV{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
		"bolt":   bolt,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestKVContract(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := kv.Get(ctx, "a@example.com.last_id")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, kv.Set(ctx, "a@example.com.last_id", "42"))
			v, ok, err := kv.Get(ctx, "a@example.com.last_id")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "42", v)

			exists, err := kv.Exists(ctx, "a@example.com.last_id")
			require.NoError(t, err)
			assert.True(t, exists)

			require.NoError(t, kv.Set(ctx, "a@example.com.last_id", "43"))
			v, _, _ = kv.Get(ctx, "a@example.com.last_id")
			assert.Equal(t, "43", v)

			require.NoError(t, kv.Delete(ctx, "a@example.com.last_id"))
			exists, err = kv.Exists(ctx, "a@example.com.last_id")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestKVUpdateSkip(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.Set(ctx, "k", "keep"))
			err := kv.Update(ctx, "k", func(old string, exists bool) (string, bool, error) {
				assert.True(t, exists)
				assert.Equal(t, "keep", old)
				return "", false, nil
			})
			require.NoError(t, err)
			v, _, _ := kv.Get(ctx, "k")
			assert.Equal(t, "keep", v)
		})
	}
}

func TestKVUpdateConcurrent(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			const workers = 8
			const perWorker = 10

			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < perWorker; j++ {
						err := kv.Update(ctx, "counter", func(old string, exists bool) (string, bool, error) {
							n := 0
							if exists {
								n, _ = strconv.Atoi(old)
							}
							return strconv.Itoa(n + 1), true, nil
						})
						assert.NoError(t, err)
					}
				}()
			}
			wg.Wait()

			v, _, err := kv.Get(ctx, "counter")
			require.NoError(t, err)
			assert.Equal(t, strconv.Itoa(workers*perWorker), v)
		})
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		cfg     config.StoreConfig
		wantErr bool
	}{
		{config.StoreConfig{Type: "memory"}, false},
		{config.StoreConfig{Type: "sqlite", Path: filepath.Join(dir, "a.db")}, false},
		{config.StoreConfig{Type: "bolt", Path: filepath.Join(dir, "a.bolt")}, false},
		{config.StoreConfig{Type: "redis"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Type, func(t *testing.T) {
			kv, err := Open(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, kv.Close())
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	repo := NewRepository(s)
	_, err = repo.AdvanceWatermark(ctx, "a@example.com", 17)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	id, err := NewRepository(s).Watermark(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, uint32(17), id)
}
