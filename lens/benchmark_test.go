package lens

import (
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// benchSource builds a module with `calls` tracked calls of mixed argument shapes.
func benchSource(calls int) string {
	var sb strings.Builder
	for i := 0; i < calls; i++ {
		idx := strconv.Itoa(i)
		switch i % 4 {
		case 0:
			sb.WriteString("log.info('request', req.id, users[" + idx + "].name);\n")
		case 1:
			sb.WriteString("const v" + idx + " = compute(a, b);\n")
		case 2:
			sb.WriteString("log.warn(\n  cache[key],\n  {retry: true},\n  () => done(" + idx + "))\n")
		default:
			sb.WriteString("log.error(err, `failed ${op}`, 42);\n")
		}
	}
	return sb.String()
}

func BenchmarkSynthesizeArgNames(b *testing.B) {
	inputs := map[string]string{
		"Identifiers": "user, count, session.id)",
		"Nested":      "a[b[c]], fn(x, y[z]).prop, obj['key'])",
		"Literals":    "'text', 42, {a: 1}, [1, 2], x => x)",
	}
	for name, input := range inputs {
		b.Run(name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_, _ = SynthesizeArgNames(input)
			}
		})
	}
}

func BenchmarkCallRewriterScanSource(b *testing.B) {
	for _, calls := range []int{10, 100, 1000} {
		b.Run("Calls-"+strconv.Itoa(calls), func(b *testing.B) {
			rewriter := NewCallRewriter(RewriterOptions{Root: "/proj"})
			source := benchSource(calls)
			b.SetBytes(int64(len(source)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = rewriter.ScanSource(source, "/proj/src/app.js")
			}
		})
	}
}

func BenchmarkStrictLiteralClassifier(b *testing.B) {
	classifier := NewStrictLiteralClassifier()
	for i := 0; i < b.N; i++ {
		_ = classifier.IsLiteral("users[idx].name")
	}
}

func BenchmarkCachingRewriterHit(b *testing.B) {
	caching := NewCachingRewriter(NewCallRewriter(RewriterOptions{Root: "/proj"}), NewMemStorage())
	source := benchSource(100)
	_ = caching.ScanSource(source, "/proj/src/app.js")
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = caching.ScanSource(source, "/proj/src/app.js")
	}
}

func BenchmarkMemStorage_SaveLoad(b *testing.B) {
	storage := NewMemStorage()
	defer storage.Close()

	key := "mem-key"
	value := []byte(benchSource(20))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := storage.SaveEntry(key, value); err != nil {
			b.Fatalf("SaveEntry failed: %v", err)
		} else if _, ok, err := storage.LoadEntry(key); err != nil || !ok {
			b.Fatalf("LoadEntry failed: %v", err)
		} else if err := storage.DeleteEntry(key); err != nil {
			b.Fatalf("DeleteEntry failed: %v", err)
		}
	}
}

func BenchmarkBadgerStorage_SaveLoad(b *testing.B) {
	dir, err := os.MkdirTemp("", "badger-bench")
	if err != nil {
		b.Fatalf("Failed to create temp dir: %v", err)
	}
	storage, err := NewBadgerStorage(dir, 16, true) // 16MB memory
	if err != nil {
		b.Fatalf("Failed to create Badger storage: %v", err)
	}
	defer storage.Close()

	key := "badger-key"
	value := SnappyCompress(nil, []byte(benchSource(20)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := storage.SaveEntry(key, value); err != nil {
			b.Fatalf("SaveEntry failed: %v", err)
		} else if _, ok, err := storage.LoadEntry(key); err != nil || !ok {
			b.Fatalf("LoadEntry failed: %v", err)
		} else if err := storage.DeleteEntry(key); err != nil {
			b.Fatalf("DeleteEntry failed: %v", err)
		}
	}
}

func BenchmarkManifestEncode(b *testing.B) {
	m := testManifest(200)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, _ = m.MarshalMsgpack()
	}
}

func BenchmarkManifestDecode(b *testing.B) {
	data, err := testManifest(200).MarshalMsgpack()
	require.NoError(b, err)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		var out Manifest
		_ = out.UnmarshalMsgpack(data)
	}
}

func BenchmarkManifestEncodeBaseline(b *testing.B) {
	m := testManifest(200)
	baseline := baselineManifest{Root: m.Root, Options: m.Options, Files: m.Files}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, err := msgpack.Marshal(baseline)
		require.NoError(b, err)
	}
}
