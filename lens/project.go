package lens

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/pmezard/go-difflib/difflib"
	ignore "github.com/sabhiram/go-gitignore"
)

// DefaultSourceExtensions are the file extensions rewritten when none are configured.
var DefaultSourceExtensions = []string{".js", ".mjs", ".cjs"}

// IgnoredDirs are directories never descended into.
var IgnoredDirs = map[string]bool{
	".git":             true,
	".hg":              true,
	".svn":             true,
	"node_modules":     true,
	"bower_components": true,
	"jspm_packages":    true,
	".idea":            true,
	".vscode":          true,
	".cache":           true,
	".next":            true,
	".nuxt":            true,
	"coverage":         true,
}

// LoadGitignore loads .gitignore from root, returning nil if it does not exist or can not be parsed.
func LoadGitignore(root string) *ignore.GitIgnore {
	gitignorePath := filepath.Join(root, ".gitignore")
	if !FileExists(gitignorePath) {
		return nil
	}
	gitignore, err := ignore.CompileIgnoreFile(gitignorePath)
	if err != nil {
		log.Printf("%sIgnoring unreadable %s: %v", ErrorLogPrefix, gitignorePath, err)
		return nil
	}
	return gitignore
}

// FileResult is the outcome of rewriting a single source file.
type FileResult struct {
	// Path is the absolute path of the file.
	Path     string
	Manifest FileManifest
	// Changed reports that the rewritten text differs from the original.
	Changed bool
	// Diff is the unified diff of the rewrite, set only when diffs are requested.
	Diff string
	// VerifyErr is set when the rewritten file failed verification and the original was put back.
	VerifyErr error
}

// ProjectRewriter applies a SourceScanner to every source file of a project directory. Originals are kept beside
// the rewritten files with BackupFileSuffix so they can be restored.
type ProjectRewriter struct {
	// Dir is the absolute project directory.
	Dir string
	// Root is stripped from the manifest paths, matching RewriterOptions.Root.
	Root       string
	Extensions []string
	Scanner    SourceScanner
	// Verifier is optional, files which fail are restored to their original text.
	Verifier SourceVerifier
	// DryRun scans without writing any file.
	DryRun bool
	// Diff collects a unified diff for each changed file.
	Diff bool

	gitignore *ignore.GitIgnore
	locks     *stripedMutex
	mu        sync.Mutex
	backups   []string
}

// NewProjectRewriter creates a ProjectRewriter for dir, honoring the .gitignore at its root.
func NewProjectRewriter(dir string, scanner SourceScanner) *ProjectRewriter {
	return &ProjectRewriter{
		Dir:        dir,
		Extensions: DefaultSourceExtensions,
		Scanner:    scanner,
		gitignore:  LoadGitignore(dir),
		locks:      newDefaultStripedMutex(),
	}
}

func (p *ProjectRewriter) skip(path string, d fs.DirEntry) bool {
	if d.IsDir() && IgnoredDirs[d.Name()] {
		return true
	} else if p.gitignore != nil {
		if rel, err := filepath.Rel(p.Dir, path); err == nil && p.gitignore.MatchesPath(filepath.ToSlash(rel)) {
			return true
		}
	}
	return !d.IsDir() && !p.selected(d.Name())
}

func (p *ProjectRewriter) selected(name string) bool {
	if strings.HasSuffix(name, BackupFileSuffix) {
		return false
	}
	return slices.Contains(p.Extensions, filepath.Ext(name))
}

// SourceFiles lists the files Rewrite would process, sorted.
func (p *ProjectRewriter) SourceFiles(ctx context.Context) ([]string, error) {
	var mu sync.Mutex
	var files []string
	err := concurrentWalk(ctx, p.Dir, p.skip, func(_ context.Context, path string, _ os.FileInfo) error {
		mu.Lock()
		defer mu.Unlock()
		files = append(files, path)
		return nil
	})
	slices.Sort(files)
	return files, err
}

// Rewrite rewrites every selected source file concurrently, returning the results sorted by path. A file which can
// not be read or written fails the run, files already rewritten before the failure keep their backups.
func (p *ProjectRewriter) Rewrite(ctx context.Context) ([]FileResult, error) {
	var results []FileResult
	err := concurrentWalk(ctx, p.Dir, p.skip, func(ctx context.Context, path string, info os.FileInfo) error {
		result, err := p.rewriteFile(ctx, path, info)
		if err != nil {
			return fmt.Errorf("rewrite failure %s: %w", path, err)
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		results = append(results, result)
		return nil
	})
	slices.SortFunc(results, func(a, b FileResult) int {
		return strings.Compare(a.Path, b.Path)
	})
	return results, err
}

func (p *ProjectRewriter) rewriteFile(ctx context.Context, path string, info os.FileInfo) (FileResult, error) {
	lock := p.locks.Lock(path)
	defer lock.Unlock()

	backup := path + BackupFileSuffix
	hasBackup := FileExists(backup)
	srcPath := path
	if hasBackup {
		srcPath = backup // rewritten by a prior run, start again from the original
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return FileResult{}, err
	}
	source := string(data)
	scan := p.Scanner.ScanSource(source, path)
	result := FileResult{
		Path: path,
		Manifest: FileManifest{
			Path:         NormalizeFilePath(p.Root, path),
			SourceHash:   SourceHash(source),
			CallSites:    scan.CallSites,
			Unterminated: scan.Unterminated,
		},
		Changed: scan.Rewritten != source,
	}
	if result.Changed && p.Diff {
		result.Diff = unifiedDiff(result.Manifest.Path, source, scan.Rewritten)
	}
	if p.DryRun {
		return result, nil
	} else if !result.Changed {
		if hasBackup { // the prior rewrite is no longer needed
			return result, replaceFile(backup, path)
		}
		return result, nil
	}

	if !hasBackup {
		if err := CopyFile(path, backup); err != nil {
			return result, fmt.Errorf("backup failure: %w", err)
		}
	}
	p.recordBackup(path)
	if err := writeFileReplace(path, []byte(scan.Rewritten), info.Mode().Perm()); err != nil {
		return result, err
	}

	if p.Verifier != nil {
		if err := p.Verifier.Verify(ctx, path); err != nil {
			log.Printf("%sRewritten source failed verification, restoring original: %v", ErrorLogPrefix, err)
			result.VerifyErr = err
			if rErr := p.restore(path); rErr != nil {
				return result, fmt.Errorf("restore failure: %w", rErr)
			}
		}
	}
	return result, nil
}

func (p *ProjectRewriter) recordBackup(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backups = append(p.backups, path)
}

func (p *ProjectRewriter) restore(path string) error {
	p.mu.Lock()
	p.backups = slices.DeleteFunc(p.backups, func(s string) bool { return s == path })
	p.mu.Unlock()
	return replaceFile(path+BackupFileSuffix, path)
}

// Restore puts back the original of every file rewritten by this ProjectRewriter.
func (p *ProjectRewriter) Restore() error {
	p.mu.Lock()
	backups := p.backups
	p.backups = nil
	p.mu.Unlock()

	eg := ErrGroupLimitCPU()
	for _, path := range backups {
		eg.Go(func() error {
			lock := p.locks.Lock(path)
			defer lock.Unlock()
			if err := replaceFile(path+BackupFileSuffix, path); err != nil {
				return fmt.Errorf("restore failure %s: %w", path, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// RestoreBackups finds every backup beneath dir and moves it over the rewritten file, returning the restored paths.
func RestoreBackups(ctx context.Context, dir string) ([]string, error) {
	var mu sync.Mutex
	var restored []string
	skip := func(path string, d fs.DirEntry) bool {
		if d.IsDir() {
			return IgnoredDirs[d.Name()]
		}
		return !strings.HasSuffix(d.Name(), BackupFileSuffix)
	}
	err := concurrentWalk(ctx, dir, skip, func(_ context.Context, backup string, _ os.FileInfo) error {
		path := strings.TrimSuffix(backup, BackupFileSuffix)
		if err := replaceFile(backup, path); err != nil {
			return fmt.Errorf("restore failure %s: %w", path, err)
		}
		mu.Lock()
		defer mu.Unlock()
		restored = append(restored, path)
		return nil
	})
	slices.Sort(restored)
	return restored, err
}

func unifiedDiff(name, before, after string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + name,
		ToFile:   "b/" + name,
		Context:  1,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return fmt.Sprintf("--- a/%s\n+++ b/%s\n(diff unavailable: %v)\n", name, name, err)
	}
	return text
}
