package lens

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeSafeEnv(t *testing.T) {
	// Setup requires environment changes, DO NOT RUN IN PARALLEL
	t.Setenv("FOO", "foo_os")
	t.Setenv("BAR", "bar_os")
	t.Setenv("LD_LIBRARY_PATH", "/lib/foo")

	testCases := []struct {
		name          string
		customEnv     []string
		expectPresent map[string]string // key=>value that must be in result
		expectAbsent  []string          // keys that must NOT be present in result
	}{
		{
			name: "no_overrides_or_custom",
			expectPresent: map[string]string{
				"FOO": "foo_os",
				"BAR": "bar_os",
			},
			expectAbsent: []string{"LD_LIBRARY_PATH"},
		},
		{
			name:      "override_os_var",
			customEnv: []string{"FOO=foo_custom"},
			expectPresent: map[string]string{
				"FOO": "foo_custom",
				"BAR": "bar_os",
			},
			expectAbsent: []string{"LD_LIBRARY_PATH"},
		},
		{
			name:      "node_env",
			customEnv: nodeEnv,
			expectPresent: map[string]string{
				"NO_COLOR":    "1",
				"FORCE_COLOR": "0",
				"FOO":         "foo_os",
			},
			expectAbsent: []string{"LD_LIBRARY_PATH"},
		},
		{
			name:      "custom_var_with_unsafe_prefix_is_included",
			customEnv: []string{"LD_TEST=val"},
			expectPresent: map[string]string{
				"LD_TEST": "val",
			},
			expectAbsent: []string{"LD_LIBRARY_PATH"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			merged := mergeSafeEnv(tc.customEnv)
			resultMap := map[string]string{}
			counts := map[string]int{}
			for _, kv := range merged {
				key, val, ok := strings.Cut(kv, "=")
				if ok && key != "" {
					resultMap[key] = val
					counts[key]++
				}
			}

			for key, val := range tc.expectPresent {
				got, ok := resultMap[key]
				assert.True(t, ok, "expected key %q present", key)
				assert.Equal(t, val, got, "expected value for %q", key)
				assert.Equal(t, 1, counts[key], "expected key %q once", key)
			}
			for _, key := range tc.expectAbsent {
				_, ok := resultMap[key]
				assert.False(t, ok, "expected key %q absent", key)
			}
		})
	}
}

func TestNewProjectExec(t *testing.T) {
	t.Setenv("FOO", "orig")

	dir := t.TempDir()
	cmd := NewProjectExec(context.Background(), dir, []string{"FOO=custom", "BAR=baz"}, "echo")
	assert.Equal(t, dir, cmd.Dir)
	env := strings.Join(cmd.Env, "\n")

	assert.Contains(t, env, "FOO=custom")
	assert.Contains(t, env, "BAR=baz")
	for _, e := range cmd.Env {
		if strings.HasPrefix(e, "FOO=") {
			assert.Equal(t, "FOO=custom", e)
		}
	}
}

func TestNewProjectCapturedOutputExec(t *testing.T) {
	t.Parallel()

	t.Run("combined", func(t *testing.T) {
		out, err := NewProjectCapturedOutputExec(context.Background(), ".", nil, false,
			"sh", "-c", "echo stdout && echo stderr >&2")
		require.NoError(t, err)
		result := string(out)

		assert.Contains(t, result, "stdout")
		assert.Contains(t, result, "stderr")
	})

	t.Run("failure_output", func(t *testing.T) {
		out, err := NewProjectCapturedOutputExec(context.Background(), ".", nil, false,
			"sh", "-c", "echo broken >&2; exit 3")
		require.Error(t, err)
		assert.Contains(t, string(out), "broken")
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewProjectCapturedOutputExec(ctx, ".", nil, false, "sh", "-c", "echo never")
		assert.Error(t, err)
	})
}

func TestNodeSyntaxVerifier(t *testing.T) {
	if testing.Short() {
		t.Skip("skip in short mode")
	} else if !NodeAvailable("") {
		t.Skip("node not available")
	}
	t.Parallel()

	dir := t.TempDir()
	valid := filepath.Join(dir, "valid.js")
	require.NoError(t, os.WriteFile(valid, []byte(
		"const log = {info: {withSite: () => {}}};\n"+
			"log.info.withSite({file: \"valid.js\", line: 2, col: 0, args: [x => `user`]}, 'user');\n"), 0644))
	invalid := filepath.Join(dir, "invalid.js")
	require.NoError(t, os.WriteFile(invalid, []byte("log.info.withSite({file: \"invalid.js\", line: 1\n"), 0644))

	var output bytes.Buffer
	verifier := NodeSyntaxVerifier{ProjectDir: dir, Output: &output}

	require.NoError(t, verifier.Verify(context.Background(), valid))
	assert.Empty(t, output.String())

	err := verifier.Verify(context.Background(), invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid.js")
	assert.NotEmpty(t, output.String())
}

func TestNodeAvailable(t *testing.T) {
	t.Parallel()

	assert.True(t, NodeAvailable("sh"))
	assert.False(t, NodeAvailable(filepath.Join(t.TempDir(), "no-such-node")))
}
