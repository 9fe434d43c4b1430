package cmd

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/PatchLens/js-call-lens/lens"
)

// CacheDirEnv names the environment variable used for the cache directory when -cache is not provided.
const CacheDirEnv = "CALLLENS_CACHE"

// CustomFlag defines a custom CLI option.
type CustomFlag struct {
	Name         string
	DefaultValue any
	Usage        string
	Type         string // "string", "int", "bool"
}

// ParseFlags builds Config from standard and custom flags.
func ParseFlags(customFlags []CustomFlag) (*lens.Config, error) {
	config := &lens.Config{CustomFlags: make(map[string]string)}
	defaults := lens.DefaultRewriterOptions()

	// Define all standard flags
	projectDir := flag.String("project", "", "Path to the project directory")
	rootDir := flag.String("root", "", "Directory embedded file paths are relative to (default project directory)")
	trackedObject := flag.String("object", defaults.TrackedObject, "Object the tracked functions are invoked on")
	trackedNames := flag.String("names", strings.Join(defaults.TrackedNames, ","), "Comma separated tracked function names")
	injectedCall := flag.String("inject", defaults.InjectedCall, "Function on each tracked function which receives the call site")
	extensions := flag.String("ext", strings.Join(lens.DefaultSourceExtensions, ","), "Comma separated source file extensions")
	maxCallLines := flag.Int("maxlines", 0, "Maximum lines scanned for the end of a tracked call, 0 for no limit")
	dryRun := flag.Bool("dryrun", false, "Scan and report without writing any source file")
	showDiff := flag.Bool("diff", false, "Print a unified diff of each rewritten file")
	reportJsonFile := flag.String("json", "callreport.json", "File to output rewrite details")
	reportChartsFile := flag.String("charts", "callreport.png", "File to output rewrite overview chart image")
	manifestFile := flag.String("manifest", "", "File to output the compressed call site manifest")
	cacheDir := flag.String("cache", "", "Directory of the persistent rewrite cache, disabled if empty (env "+CacheDirEnv+")")
	cacheMB := flag.Int("cachemb", 64, "Cache memory budget in MB")
	cacheClear := flag.Bool("cacheclear", false, "Discard cached results for the current rewrite options before scanning")
	cachePrune := flag.Bool("cacheprune", false, "Delete cached results stored under any other rewrite options")
	strict := flag.Bool("strict", false, "Parse arguments to reject literals the patterns miss")
	verify := flag.Bool("verify", false, "Check rewritten files with node --check, restoring files which fail")
	restore := flag.Bool("restore", false, "Restore original sources from backups and exit")

	// Define custom flags
	customPtrs := make(map[string]interface{})
	for _, cf := range customFlags {
		switch cf.Type {
		case "string":
			customPtrs[cf.Name] = flag.String(cf.Name, cf.DefaultValue.(string), cf.Usage)
		case "int":
			customPtrs[cf.Name] = flag.Int(cf.Name, cf.DefaultValue.(int), cf.Usage)
		case "bool":
			customPtrs[cf.Name] = flag.Bool(cf.Name, cf.DefaultValue.(bool), cf.Usage)
		}
	}

	flag.Parse()

	// Validate standard flags
	if *projectDir == "" {
		return nil, errors.New("rewrite Usage: -project ../foo [-object log -names info,warn,error]\nRestore Usage: -project ../foo -restore")
	} else if *restore && *dryRun {
		return nil, errors.New("-restore and -dryrun are mutually exclusive")
	}

	// Populate config
	config.ProjectDir = *projectDir
	config.RootDir = *rootDir
	config.TrackedObject = *trackedObject
	config.TrackedNamesFlag = *trackedNames
	config.InjectedCall = *injectedCall
	config.ExtensionsFlag = *extensions
	config.MaxCallLines = *maxCallLines
	config.DryRun = *dryRun
	config.ShowDiff = *showDiff
	config.ReportJsonFile = *reportJsonFile
	config.ReportChartsFile = *reportChartsFile
	config.ManifestFile = *manifestFile
	config.CacheDir = *cacheDir
	config.CacheMB = *cacheMB
	config.CacheClear = *cacheClear
	config.CachePrune = *cachePrune
	config.StrictLiterals = *strict
	config.Verify = *verify
	config.RestoreOnly = *restore

	// Populate custom flags - convert all to strings for ease of use
	for name, ptr := range customPtrs {
		switch v := ptr.(type) {
		case *string:
			config.CustomFlags[name] = *v
		case *int:
			config.CustomFlags[name] = strconv.Itoa(*v)
		case *bool:
			config.CustomFlags[name] = strconv.FormatBool(*v)
		}
	}

	// Path resolution and environment setup
	if err := setupEnvironment(config); err != nil {
		return nil, err
	}

	return config, nil
}

func setupEnvironment(c *lens.Config) error {
	if c.CacheDir == "" {
		c.CacheDir = os.Getenv(CacheDirEnv)
	}
	if c.CacheDir == "" {
		return nil // caching disabled
	}

	cacheDir, err := filepath.Abs(c.CacheDir)
	if err != nil {
		return err
	} else if info, err := os.Stat(cacheDir); err == nil && !info.IsDir() {
		return errors.New("cache path exists and is not a directory: " + cacheDir)
	}
	c.CacheDir = cacheDir
	return nil
}
