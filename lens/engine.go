package lens

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
var memberChainRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)

// Config holds settings and state for a RewriteEngine.
type Config struct {
	ProjectDir, RootDir, CacheDir                  string
	TrackedObject, TrackedNamesFlag, InjectedCall  string
	ExtensionsFlag                                 string
	MaxCallLines, CacheMB                          int
	ReportJsonFile, ReportChartsFile, ManifestFile string
	DryRun, ShowDiff, StrictLiterals               bool
	Verify, RestoreOnly                            bool
	CacheClear, CachePrune                         bool
	// Computed fields
	AbsProjDir, AbsRootDir string
	TrackedNames           []string
	Extensions             []string
	// Custom flags support - all stored as strings for ease of use
	CustomFlags map[string]string
	// Internal state tracking
	prepared bool
}

// StorageProvider creates the storage backing the rewrite cache.
type StorageProvider interface {
	// NewStorage returns the cache storage, or nil when caching is disabled.
	NewStorage() (Storage, error)
}

// ReportWriter writes the results of a run.
type ReportWriter interface {
	// WriteReportFiles writes each report whose path is not empty.
	//
	// Parameters:
	//   - reportJsonFile: path for the JSON summary
	//   - reportChartsFile: path for the chart image, the extension selects the format
	//   - manifestFile: path for the compressed call-site manifest
	//   - report: the run summary
	//   - manifest: every call site found
	WriteReportFiles(reportJsonFile, reportChartsFile, manifestFile string, report ReportMetrics, manifest *Manifest) error
}

// DefaultStorageProvider opens a persistent Badger store at Path. Caching is disabled when Path is empty.
type DefaultStorageProvider struct {
	Path    string
	CacheMB int
	store   Storage
}

func (d *DefaultStorageProvider) NewStorage() (Storage, error) {
	if d.store == nil && d.Path != "" {
		store, err := NewBadgerStorage(d.Path, d.CacheMB, false)
		if err != nil {
			return nil, err
		}
		d.store = store
	}
	return d.store, nil
}

// SingletonStorageProvider is a StorageProvider that returns a single consistent storage instance.
type SingletonStorageProvider struct {
	Store Storage
}

func (s *SingletonStorageProvider) NewStorage() (Storage, error) {
	return s.Store, nil
}

// DefaultReportWriter provides the standard implementation of ReportWriter.
type DefaultReportWriter struct{}

func (d *DefaultReportWriter) WriteReportFiles(jsonPath, chartPath, manifestPath string,
	report ReportMetrics, manifest *Manifest) error {
	if err := writeReportJSON(jsonPath, report); err != nil {
		return err
	} else if err := writeReportCharts(chartPath, report); err != nil {
		return err
	} else if manifestPath != "" {
		return WriteManifest(manifestPath, manifest)
	}
	return nil
}

// RewriteEngine orchestrates a project rewrite: scanning, caching, verification, and reporting.
type RewriteEngine struct {
	Config          *Config
	StorageProvider StorageProvider
	ReportWriter    ReportWriter
	// Verifier is used when Config.Verify is set, nil to check with node.
	Verifier SourceVerifier
}

// NewRewriteEngine creates a RewriteEngine with default providers.
func NewRewriteEngine(config *Config) *RewriteEngine {
	return &RewriteEngine{
		Config: config,
		StorageProvider: &DefaultStorageProvider{
			Path:    config.CacheDir,
			CacheMB: config.CacheMB,
		},
		ReportWriter: &DefaultReportWriter{},
	}
}

// NewRewriteEngineWithProviders creates a RewriteEngine using the supplied providers, nil values use the defaults.
func NewRewriteEngineWithProviders(config *Config, storageProvider StorageProvider, reportWriter ReportWriter,
	verifier SourceVerifier) *RewriteEngine {
	engine := NewRewriteEngine(config)
	if storageProvider != nil {
		engine.StorageProvider = storageProvider
	}
	if reportWriter != nil {
		engine.ReportWriter = reportWriter
	}
	engine.Verifier = verifier
	return engine
}

// RewriterOptions returns the rewriter configuration of a prepared Config.
func (c *Config) RewriterOptions() RewriterOptions {
	opts := RewriterOptions{
		Root:          c.AbsRootDir,
		TrackedObject: c.TrackedObject,
		TrackedNames:  c.TrackedNames,
		InjectedCall:  c.InjectedCall,
		MaxCallLines:  c.MaxCallLines,
	}
	if c.StrictLiterals {
		opts.Literals = NewStrictLiteralClassifier()
	}
	return opts
}

// Run executes the rewrite workflow using configured providers.
func (e *RewriteEngine) Run() error {
	startTime := time.Now()

	if err := e.Config.Prepare(); err != nil {
		return err
	}
	return e.runPrepared(startTime)
}

func (e *RewriteEngine) runPrepared(startTime time.Time) error {
	ctx := context.Background()

	if e.Config.RestoreOnly {
		restored, err := RestoreBackups(ctx, e.Config.AbsProjDir)
		log.Printf("Restored file count: %d", len(restored))
		if err != nil {
			return fmt.Errorf("error restoring backups: %w", err)
		}
		return nil
	}

	rewriter := NewCallRewriter(e.Config.RewriterOptions())
	opts := rewriter.Options()
	var scanner SourceScanner = rewriter
	var caching *CachingRewriter
	if e.StorageProvider != nil {
		store, err := e.StorageProvider.NewStorage()
		if err != nil {
			return fmt.Errorf("error opening cache storage: %w", err)
		} else if store != nil {
			defer store.Close()
			if e.Config.CachePrune {
				removed, err := PruneCache(store, opts.Fingerprint())
				if err != nil {
					return fmt.Errorf("error pruning cache: %w", err)
				}
				log.Printf("Pruned stale cache entries: %d", removed)
			}
			caching = NewCachingRewriter(rewriter, store)
			if e.Config.CacheClear {
				if err := caching.Clear(); err != nil {
					return fmt.Errorf("error clearing cache: %w", err)
				}
			}
			scanner = caching
		} else if e.Config.CacheClear || e.Config.CachePrune {
			log.Printf("WARN: cache is disabled, -cacheclear and -cacheprune have no effect")
		}
	}

	project := NewProjectRewriter(e.Config.AbsProjDir, scanner)
	project.Root = opts.Root
	project.Extensions = e.Config.Extensions
	project.DryRun = e.Config.DryRun
	project.Diff = e.Config.ShowDiff
	if e.Config.Verify {
		project.Verifier = e.Verifier
		if project.Verifier == nil {
			project.Verifier = NodeSyntaxVerifier{ProjectDir: e.Config.AbsProjDir}
		}
	}

	results, err := project.Rewrite(ctx)
	scanDuration := time.Since(startTime)
	if err != nil {
		if rErr := project.Restore(); rErr != nil {
			log.Printf("%sFailed to restore rewritten files: %v", ErrorLogPrefix, rErr)
		}
		return fmt.Errorf("error rewriting project: %w", err)
	}

	var cacheHits, cacheMisses int64
	if caching != nil {
		cacheHits, cacheMisses = caching.Stats()
	}
	manifest := &Manifest{Root: opts.Root, Options: opts.Fingerprint()}
	for _, r := range results {
		if r.Diff != "" {
			fmt.Print(r.Diff)
		}
		if len(r.Manifest.CallSites) > 0 || r.Manifest.Unterminated > 0 {
			manifest.Files = append(manifest.Files, r.Manifest)
		}
	}
	manifest.Sort()

	report := BuildReportMetrics(startTime, scanDuration, e.Config.AbsProjDir, opts, e.Config.DryRun,
		results, cacheHits, cacheMisses)
	log.Printf("Files scanned: %d, rewritten: %d, call sites: %d, named arguments: %d/%d",
		report.Project.FilesScanned, report.Project.FilesRewritten, report.CallSites.CallSiteCount,
		report.CallSites.NameableArgCount, report.CallSites.ArgCount)
	if report.CallSites.UnterminatedCount > 0 {
		log.Printf("WARN: %d tracked calls never closed and were left unchanged", report.CallSites.UnterminatedCount)
	}
	if report.Project.FilesFailedVerify > 0 {
		log.Printf("WARN: %d rewritten files failed verification and were restored", report.Project.FilesFailedVerify)
	}

	err = e.ReportWriter.WriteReportFiles(e.Config.ReportJsonFile, e.Config.ReportChartsFile, e.Config.ManifestFile,
		report, manifest)
	if err != nil {
		return fmt.Errorf("error writing report files: %w", err)
	}

	log.Println("Call site rewrite completed normally")
	return nil
}

// Prepare performs comprehensive validation and preparation of the configuration
func (c *Config) Prepare() error {
	if c.prepared {
		return errors.New("config has already been prepared")
	} else if c.ProjectDir == "" {
		return errors.New("project directory is required")
	}

	absProjDir, err := filepath.Abs(c.ProjectDir)
	if err != nil {
		return fmt.Errorf("error resolving project directory: %w", err)
	} else if info, err := os.Stat(absProjDir); err != nil {
		return fmt.Errorf("project directory is not accessible: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("project path is not a directory: %s", absProjDir)
	}
	c.AbsProjDir = absProjDir

	if c.RestoreOnly {
		if c.DryRun {
			return errors.New("-restore and -dryrun are mutually exclusive")
		}
		c.prepared = true
		return nil // nothing else is used when restoring
	}

	c.AbsRootDir = absProjDir
	if c.RootDir != "" {
		if c.AbsRootDir, err = filepath.Abs(c.RootDir); err != nil {
			return fmt.Errorf("error resolving root directory: %w", err)
		}
		if within, err := fileWithinDir(absProjDir, c.AbsRootDir); err != nil {
			return fmt.Errorf("error resolving root directory: %w", err)
		} else if !within {
			log.Printf("WARN: project is not within root %s, absolute file paths will be embedded", c.AbsRootDir)
		}
	}

	// Validate the identifiers which are written into rewritten sources
	if !memberChainRe.MatchString(c.TrackedObject) {
		return fmt.Errorf("invalid tracked object '%s', must be an identifier or member chain", c.TrackedObject)
	} else if !identifierRe.MatchString(c.InjectedCall) {
		return fmt.Errorf("invalid injected call '%s', must be an identifier", c.InjectedCall)
	}
	c.TrackedNames, err = parseList(c.TrackedNamesFlag)
	if err != nil {
		return fmt.Errorf("invalid tracked names: %w", err)
	} else if len(c.TrackedNames) == 0 {
		return errors.New("at least one tracked name is required")
	}
	for _, name := range c.TrackedNames {
		if !identifierRe.MatchString(name) {
			return fmt.Errorf("invalid tracked name '%s', must be an identifier", name)
		}
	}

	c.Extensions, err = parseList(c.ExtensionsFlag)
	if err != nil {
		return fmt.Errorf("invalid extensions: %w", err)
	} else if len(c.Extensions) == 0 {
		c.Extensions = slices.Clone(DefaultSourceExtensions)
	}
	for i, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			c.Extensions[i] = "." + ext
		}
	}

	// Validate numeric fields are within reasonable ranges
	if c.MaxCallLines < 0 || c.MaxCallLines > 100000 {
		return fmt.Errorf("max call lines must be between 0 and 100000, got %d", c.MaxCallLines)
	} else if c.CacheMB < 1 || c.CacheMB > 10240 { // 10GB limit
		return fmt.Errorf("cache size must be between 1 and 10240 MB, got %d", c.CacheMB)
	}

	if c.Verify {
		if c.DryRun {
			return errors.New("-verify requires files to be written, it can not be used with -dryrun")
		} else if !NodeAvailable("") {
			return errors.New("-verify requires node to be available on PATH")
		}
	}

	// Validate output file paths are writable (basic check)
	if c.ReportJsonFile != "" {
		if err := c.validateOutputPath(c.ReportJsonFile); err != nil {
			return fmt.Errorf("invalid JSON report file path: %w", err)
		}
	}
	if c.ReportChartsFile != "" {
		if _, err := chartOutputType(c.ReportChartsFile); err != nil {
			return err
		} else if err := c.validateOutputPath(c.ReportChartsFile); err != nil {
			return fmt.Errorf("invalid charts report file path: %w", err)
		}
	}
	if c.ManifestFile != "" {
		if err := c.validateOutputPath(c.ManifestFile); err != nil {
			return fmt.Errorf("invalid manifest file path: %w", err)
		}
	}

	c.prepared = true
	return nil
}

// parseList splits a comma separated flag value, rejecting empty and duplicate entries.
func parseList(value string) ([]string, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	var result []string
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			return nil, errors.New("empty entry in list")
		} else if slices.Contains(result, entry) {
			return nil, fmt.Errorf("duplicate entry '%s'", entry)
		}
		result = append(result, entry)
	}
	return result, nil
}

// validateOutputPath validates that an output file path can be written to
func (c *Config) validateOutputPath(path string) error {
	dir := filepath.Dir(path)

	// Check if directory exists, if not try to create it
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("cannot create output directory '%s': %w", dir, err)
		}
	}

	// Check if we can write to the directory
	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("cannot write to output directory '%s': %w", dir, err)
	}
	_ = file.Close()
	return os.Remove(testFile)
}
