package lens

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestStorageCommon(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		store Storage
	}{
		{
			name:  "mem",
			store: NewMemStorage(),
		},
		{
			name:  "prefix",
			store: KeyPrefixStorage(NewMemStorage(), "prefix"),
		},
	}

	if !testing.Short() {
		dir := filepath.Join(t.TempDir(), "badger")
		badgerStorage, err := NewBadgerStorage(dir, 64, true)
		require.NoError(t, err)
		t.Cleanup(func() { badgerStorage.Close() })

		tests = append(tests, struct {
			name  string
			store Storage
		}{
			name:  "badger",
			store: badgerStorage,
		})
	}

	for _, tc := range tests {
		t.Run(tc.name+"_save_clear", func(t *testing.T) {
			require.NoError(t, tc.store.SaveEntry("t1", []byte{1, 2, 3}))
			require.NoError(t, tc.store.Clear())

			keys, err := tc.store.ListKeys()
			require.NoError(t, err)
			assert.Empty(t, keys)
		})

		t.Run(tc.name+"_save_load_delete", func(t *testing.T) {
			require.NoError(t, tc.store.Clear()) // ensure storage is reset
			data := []byte{1, 2, 3}

			require.NoError(t, tc.store.SaveEntry("t1", data))
			got, ok, err := tc.store.LoadEntry("t1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, data, got)
			require.NoError(t, tc.store.DeleteEntry("t1"))
			_, ok, err = tc.store.LoadEntry("t1")
			require.NoError(t, err)
			assert.False(t, ok)
		})

		t.Run(tc.name+"_list_keys", func(t *testing.T) {
			require.NoError(t, tc.store.Clear()) // ensure storage is reset

			require.NoError(t, tc.store.SaveEntry("a1", []byte{1}))
			require.NoError(t, tc.store.SaveEntry("a2", []byte{2}))
			require.NoError(t, tc.store.SaveEntry("b1", []byte{3}))

			keys, err := tc.store.ListKeys()
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a1", "a2", "b1"}, keys)

			keys, err = tc.store.ListKeysPrefix("a")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a1", "a2"}, keys)
		})

		t.Run(tc.name+"_null_byte", func(t *testing.T) {
			require.NoError(t, tc.store.Clear()) // ensure storage is reset
			data := []byte{1, 2, 0, 4, 5}

			require.NoError(t, tc.store.SaveEntry("nullTest", data))
			got, ok, err := tc.store.LoadEntry("nullTest")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, data, got)
		})

		t.Run(tc.name+"_blob_liveness", func(t *testing.T) {
			require.NoError(t, tc.store.Clear()) // ensure storage is reset
			want := make([]byte, 1024)
			for i := range want {
				want[i] = byte(i % 251)
			}
			require.NoError(t, tc.store.SaveEntry("live", want))

			got, ok, err := tc.store.LoadEntry("live")
			require.NoError(t, err)
			require.True(t, ok)

			// a following update must not alter the returned slice
			_ = tc.store.SaveEntry("dummy", []byte{1})

			assert.Equal(t, want, got)
		})

		t.Run(tc.name+"_concurrent", func(t *testing.T) {
			require.NoError(t, tc.store.Clear()) // ensure storage is reset

			makeBlob := func(n int) []byte {
				b, _ := msgpack.Marshal(cacheEntry{Rewritten: strings.Repeat("x", 4096), Unterminated: n})
				return b
			}
			require.NoError(t, tc.store.SaveEntry("target", makeBlob(42)))

			done := make(chan struct{})
			go func() {
				var i int
				for {
					select {
					case <-done:
						return
					default:
					}
					_ = tc.store.SaveEntry("w"+strconv.Itoa(i%8), makeBlob(i))
					i++
				}
			}()

			for i := 0; i < 1_000; i++ {
				got, ok, err := tc.store.LoadEntry("target")
				require.NoError(t, err)
				require.True(t, ok)

				var out cacheEntry
				require.NoError(t, msgpack.Unmarshal(got, &out))
				require.Equal(t, 42, out.Unterminated)
			}

			close(done)
		})
	}
}

func TestBadgerStorage(t *testing.T) {
	t.Run("persistent", func(t *testing.T) {
		if testing.Short() {
			t.Skip("skip in short mode")
		}
		t.Parallel()

		path := filepath.Join(t.TempDir(), "db")
		store, err := NewBadgerStorage(path, 32, false)
		require.NoError(t, err)
		require.NoError(t, store.SaveEntry("t1", []byte{1, 2, 3}))
		store.Close()

		entries, err := os.ReadDir(path)
		require.NoError(t, err)
		assert.NotEmpty(t, entries)

		store, err = NewBadgerStorage(path, 32, false)
		require.NoError(t, err)
		defer store.Close()
		got, ok, err := store.LoadEntry("t1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte{1, 2, 3}, got)
	})

	t.Run("temporary", func(t *testing.T) {
		if testing.Short() {
			t.Skip("skip in short mode")
		}
		t.Parallel()

		path := filepath.Join(t.TempDir(), "tmp")
		store, err := NewBadgerStorage(path, 32, true)
		require.NoError(t, err)
		require.NoError(t, store.SaveEntry("t1", []byte{1}))
		store.Close()

		assert.False(t, FileExists(path))
	})

	t.Run("large_value", func(t *testing.T) {
		if testing.Short() {
			t.Skip("skip in short mode")
		}
		t.Parallel()

		path := filepath.Join(t.TempDir(), "blob")
		store, err := NewBadgerStorage(path, 32, true)
		require.NoError(t, err)
		defer store.Close()

		// beyond the value threshold, stored in the value log
		data := []byte(strings.Repeat("log.info(user);\n", 10_000))
		require.NoError(t, store.SaveEntry("big", data))
		got, ok, err := store.LoadEntry("big")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, data, got)
	})
}

func TestKeyPrefixStorage(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		keys   []string
		filter string
		expect []string
	}{
		{
			name:   "simple",
			prefix: "p",
			keys:   []string{"k1", "sub/k2"},
			filter: "k",
			expect: []string{"k1"},
		},
		{
			name:   "fingerprint",
			prefix: DefaultRewriterOptions().Fingerprint(),
			keys:   []string{"a", "sub/a1"},
			filter: "sub",
			expect: []string{"sub/a1"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			base := NewMemStorage()
			store := KeyPrefixStorage(base, tc.prefix)

			for _, k := range tc.keys {
				require.NoError(t, store.SaveEntry(k, []byte(k)))
				got, ok, err := store.LoadEntry(k)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, []byte(k), got)
			}

			var wantBase []string
			for _, k := range tc.keys {
				wantBase = append(wantBase, tc.prefix+";"+k)
			}
			keys, err := base.ListKeys()
			require.NoError(t, err)
			assert.ElementsMatch(t, wantBase, keys)
			keys, err = store.ListKeys()
			require.NoError(t, err)
			assert.ElementsMatch(t, tc.keys, keys)
			keys, err = store.ListKeysPrefix(tc.filter)
			require.NoError(t, err)
			assert.ElementsMatch(t, tc.expect, keys)

			for _, k := range tc.keys {
				require.NoError(t, store.DeleteEntry(k))
			}
			keys, err = base.ListKeys()
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}

	t.Run("clear_within_prefix", func(t *testing.T) {
		t.Parallel()

		base := NewMemStorage()
		require.NoError(t, base.SaveEntry("other;k", []byte{1}))
		store := KeyPrefixStorage(base, "mine")
		require.NoError(t, store.SaveEntry("k", []byte{2}))

		require.NoError(t, store.Clear())

		keys, err := base.ListKeys()
		require.NoError(t, err)
		assert.Equal(t, []string{"other;k"}, keys)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()

		base := NewMemStorage()
		wrapped := KeyPrefixStorage(base, "")
		assert.Equal(t, base, wrapped)
	})
}
