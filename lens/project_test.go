package lens

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

const projectAppSource = "const user = load();\nlog.info(user, 42);\n"

func testProject(t *testing.T) string {
	return writeProject(t, map[string]string{
		"src/app.js":                projectAppSource,
		"src/util.mjs":              "export const f = (e) => log.error(e.message);\n",
		"src/plain.js":              "console.log('no tracked calls');\n",
		"src/style.css":             "log.info(nope)",
		"node_modules/dep/index.js": "log.info(dep);\n",
		"build/out.js":              "log.info(built);\n",
		".gitignore":                "build/\n",
	})
}

type recordingVerifier struct {
	mu     sync.Mutex
	paths  []string
	failOn string
}

func (v *recordingVerifier) Verify(_ context.Context, path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paths = append(v.paths, path)
	if v.failOn != "" && strings.HasSuffix(path, v.failOn) {
		return errors.New("syntax check failure")
	}
	return nil
}

func TestProjectRewriterSourceFiles(t *testing.T) {
	t.Parallel()

	dir := testProject(t)
	p := NewProjectRewriter(dir, NewCallRewriter(RewriterOptions{Root: dir}))
	files, err := p.SourceFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "src/app.js"),
		filepath.Join(dir, "src/plain.js"),
		filepath.Join(dir, "src/util.mjs"),
	}, files)

	p.Extensions = []string{".css"}
	files, err = p.SourceFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "src/style.css")}, files)
}

func TestProjectRewriterRewrite(t *testing.T) {
	t.Parallel()

	t.Run("rewrites_with_backup", func(t *testing.T) {
		t.Parallel()

		dir := testProject(t)
		p := NewProjectRewriter(dir, NewCallRewriter(RewriterOptions{Root: dir}))
		p.Root = dir
		results, err := p.Rewrite(context.Background())
		require.NoError(t, err)
		require.Len(t, results, 3)

		app := results[0]
		assert.Equal(t, filepath.Join(dir, "src/app.js"), app.Path)
		assert.True(t, app.Changed)
		assert.Equal(t, "src/app.js", app.Manifest.Path)
		assert.Equal(t, SourceHash(projectAppSource), app.Manifest.SourceHash)
		require.Len(t, app.Manifest.CallSites, 1)
		assert.Equal(t, 2, app.Manifest.CallSites[0].Line)

		appPath := filepath.Join(dir, "src/app.js")
		assert.Contains(t, readFile(t, appPath),
			"log.info.withSite({file: \"src/app.js\", line: 2, col: 0, args: [x => `user`, false]}, user, 42);")
		assert.Equal(t, projectAppSource, readFile(t, appPath+BackupFileSuffix))

		plain := results[1]
		assert.False(t, plain.Changed)
		assert.False(t, FileExists(plain.Path+BackupFileSuffix))

		// ignored directories and extensions are left alone
		assert.Equal(t, "log.info(dep);\n", readFile(t, filepath.Join(dir, "node_modules/dep/index.js")))
		assert.Equal(t, "log.info(built);\n", readFile(t, filepath.Join(dir, "build/out.js")))
		assert.Equal(t, "log.info(nope)", readFile(t, filepath.Join(dir, "src/style.css")))
	})

	t.Run("rerun_uses_original", func(t *testing.T) {
		t.Parallel()

		dir := testProject(t)
		appPath := filepath.Join(dir, "src/app.js")
		_, err := NewProjectRewriter(dir, NewCallRewriter(RewriterOptions{Root: dir})).Rewrite(context.Background())
		require.NoError(t, err)
		first := readFile(t, appPath)

		results, err := NewProjectRewriter(dir, NewCallRewriter(RewriterOptions{Root: dir})).Rewrite(context.Background())
		require.NoError(t, err)
		assert.Equal(t, first, readFile(t, appPath))
		assert.Equal(t, projectAppSource, readFile(t, appPath+BackupFileSuffix))
		assert.Equal(t, SourceHash(projectAppSource), results[0].Manifest.SourceHash)
	})

	t.Run("rerun_without_calls_restores", func(t *testing.T) {
		t.Parallel()

		dir := testProject(t)
		appPath := filepath.Join(dir, "src/app.js")
		_, err := NewProjectRewriter(dir, NewCallRewriter(RewriterOptions{Root: dir})).Rewrite(context.Background())
		require.NoError(t, err)

		untracked := NewCallRewriter(RewriterOptions{Root: dir, TrackedNames: []string{"trace"}})
		_, err = NewProjectRewriter(dir, untracked).Rewrite(context.Background())
		require.NoError(t, err)
		assert.Equal(t, projectAppSource, readFile(t, appPath))
		assert.False(t, FileExists(appPath+BackupFileSuffix))
	})

	t.Run("dry_run_diff", func(t *testing.T) {
		t.Parallel()

		dir := testProject(t)
		p := NewProjectRewriter(dir, NewCallRewriter(RewriterOptions{Root: dir}))
		p.Root = dir
		p.DryRun = true
		p.Diff = true
		results, err := p.Rewrite(context.Background())
		require.NoError(t, err)

		appPath := filepath.Join(dir, "src/app.js")
		assert.Equal(t, projectAppSource, readFile(t, appPath))
		assert.False(t, FileExists(appPath+BackupFileSuffix))
		assert.True(t, results[0].Changed)
		assert.Contains(t, results[0].Diff, "--- a/src/app.js")
		assert.Contains(t, results[0].Diff, "+++ b/src/app.js")
		assert.Contains(t, results[0].Diff, "-log.info(user, 42);")
		assert.Empty(t, results[1].Diff)
	})

	t.Run("verify_failure_restores", func(t *testing.T) {
		t.Parallel()

		dir := testProject(t)
		verifier := &recordingVerifier{failOn: "util.mjs"}
		p := NewProjectRewriter(dir, NewCallRewriter(RewriterOptions{Root: dir}))
		p.Verifier = verifier
		results, err := p.Rewrite(context.Background())
		require.NoError(t, err)

		assert.Len(t, verifier.paths, 2) // unchanged files are not verified
		assert.NoError(t, results[0].VerifyErr)
		require.Error(t, results[2].VerifyErr)

		utilPath := filepath.Join(dir, "src/util.mjs")
		assert.Equal(t, "export const f = (e) => log.error(e.message);\n", readFile(t, utilPath))
		assert.False(t, FileExists(utilPath+BackupFileSuffix))
		assert.NotEqual(t, projectAppSource, readFile(t, filepath.Join(dir, "src/app.js")))
	})

	t.Run("restore", func(t *testing.T) {
		t.Parallel()

		dir := testProject(t)
		p := NewProjectRewriter(dir, NewCallRewriter(RewriterOptions{Root: dir}))
		_, err := p.Rewrite(context.Background())
		require.NoError(t, err)

		require.NoError(t, p.Restore())
		appPath := filepath.Join(dir, "src/app.js")
		assert.Equal(t, projectAppSource, readFile(t, appPath))
		assert.False(t, FileExists(appPath+BackupFileSuffix))
		require.NoError(t, p.Restore()) // nothing left to restore
	})

	t.Run("keeps_permissions", func(t *testing.T) {
		t.Parallel()

		dir := writeProject(t, map[string]string{"bin/cli.js": "log.info(argv);\n"})
		cliPath := filepath.Join(dir, "bin/cli.js")
		require.NoError(t, os.Chmod(cliPath, 0755))

		_, err := NewProjectRewriter(dir, NewCallRewriter(RewriterOptions{})).Rewrite(context.Background())
		require.NoError(t, err)
		info, err := os.Stat(cliPath)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	})
}

func TestRestoreBackups(t *testing.T) {
	t.Parallel()

	dir := testProject(t)
	_, err := NewProjectRewriter(dir, NewCallRewriter(RewriterOptions{Root: dir})).Rewrite(context.Background())
	require.NoError(t, err)

	restored, err := RestoreBackups(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "src/app.js"), filepath.Join(dir, "src/util.mjs")}, restored)
	assert.Equal(t, projectAppSource, readFile(t, filepath.Join(dir, "src/app.js")))

	restored, err = RestoreBackups(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, restored)
}

func TestUnifiedDiff(t *testing.T) {
	t.Parallel()

	diff := unifiedDiff("a.js", "x\nlog.info(a)\ny\n", "x\nlog.info.withSite({}, a)\ny\n")
	assert.Contains(t, diff, "--- a/a.js\n+++ b/a.js\n")
	assert.Contains(t, diff, "-log.info(a)\n")
	assert.Contains(t, diff, "+log.info.withSite({}, a)\n")
	assert.Empty(t, unifiedDiff("a.js", "same\n", "same\n"))
}
