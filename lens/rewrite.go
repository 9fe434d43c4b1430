package lens

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"
)

const debugRewrite = false

// ErrUnterminatedCall indicates a tracked call whose closing parenthesis was not found.
var ErrUnterminatedCall = errors.New("tracked call is not terminated")

// DefaultTrackedNames are the logger functions rewritten when none are configured.
var DefaultTrackedNames = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// SourceRewriter rewrites the text of a module as it is loaded. Implementations must never fail, source they are
// unable to process is returned unchanged.
type SourceRewriter interface {
	RewriteSource(source, path string) string
}

// SourceScanner rewrites source text and reports the call sites found.
type SourceScanner interface {
	SourceRewriter
	ScanSource(source, path string) SourceScan
}

// SourceScan is the result of scanning a single source file.
type SourceScan struct {
	Rewritten    string
	CallSites    []CallSite
	Unterminated int // tracked calls left unchanged because they never closed
}

// RewriterOptions configures a CallRewriter.
type RewriterOptions struct {
	// Root is stripped from file paths rooted within it.
	Root string
	// TrackedObject is the object the tracked functions are invoked on, for example "log".
	TrackedObject string
	// TrackedNames are the function names rewritten.
	TrackedNames []string
	// InjectedCall is the function on each tracked function which accepts the call-site metadata.
	InjectedCall string
	// MaxCallLines limits how many lines following a match are scanned for the end of the call, 0 for no limit.
	MaxCallLines int
	// Literals overrides the classifier used to reject literal arguments.
	Literals LiteralClassifier
}

// DefaultRewriterOptions returns options for rewriting `log.<level>(` calls.
func DefaultRewriterOptions() RewriterOptions {
	return RewriterOptions{
		TrackedObject: "log",
		TrackedNames:  DefaultTrackedNames,
		InjectedCall:  "withSite",
	}
}

// Fingerprint returns a short identifier for the options which influence the rewritten output.
func (o RewriterOptions) Fingerprint() string {
	h := sha1.New()
	_, _ = fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%d\x00%T",
		o.Root, o.TrackedObject, strings.Join(o.TrackedNames, ","), o.InjectedCall, o.MaxCallLines, o.Literals)
	return hex.EncodeToString(h.Sum(nil)[:8])
}

type trackedPrefix struct {
	function string
	text     string
}

// CallRewriter locates tracked calls within source text and injects call-site metadata into each. It holds no state
// between calls and is safe for concurrent use.
type CallRewriter struct {
	opts     RewriterOptions
	prefixes []trackedPrefix
}

// NewCallRewriter constructs a CallRewriter, missing options are set from DefaultRewriterOptions.
func NewCallRewriter(opts RewriterOptions) *CallRewriter {
	defaults := DefaultRewriterOptions()
	if opts.TrackedObject == "" {
		opts.TrackedObject = defaults.TrackedObject
	}
	if len(opts.TrackedNames) == 0 {
		opts.TrackedNames = defaults.TrackedNames
	}
	if opts.InjectedCall == "" {
		opts.InjectedCall = defaults.InjectedCall
	}
	if opts.Literals == nil {
		opts.Literals = patternLiteralClassifier{}
	}
	r := &CallRewriter{opts: opts}
	for _, name := range opts.TrackedNames {
		r.prefixes = append(r.prefixes, trackedPrefix{
			function: name,
			text:     opts.TrackedObject + "." + name + "(",
		})
	}
	return r
}

// Options returns the effective options of the rewriter.
func (r *CallRewriter) Options() RewriterOptions {
	return r.opts
}

// RewriteSource returns source with every tracked call rewritten to carry its call-site metadata.
func (r *CallRewriter) RewriteSource(source, path string) string {
	return r.ScanSource(source, path).Rewritten
}

type prefixMatch struct {
	start, end int // byte offsets of the prefix within the line
	function   string
}

// ScanSource rewrites source and returns the call sites found. Line numbers and columns refer to the original text.
func (r *CallRewriter) ScanSource(source, path string) SourceScan {
	file := NormalizeFilePath(r.opts.Root, path)
	lines := strings.Split(source, "\n")
	var result SourceScan
	for i, line := range lines {
		matches := r.findMatches(line)
		if len(matches) == 0 {
			continue
		}

		var sb strings.Builder
		var last int
		for _, m := range matches {
			if m.start < last {
				continue
			}
			args, ok := r.synthesize(lines, i, m.end)
			if !ok {
				result.Unterminated++
				if debugRewrite {
					log.Printf("%s%v: %s:%d", ErrorLogPrefix, ErrUnterminatedCall, file, i+1)
				}
				continue
			}
			site := CallSite{
				File:     file,
				Line:     i + 1,
				Col:      utf8.RuneCountInString(line[:m.start]),
				Function: m.function,
				Args:     args,
			}
			result.CallSites = append(result.CallSites, site)
			sb.WriteString(line[last:m.start])
			sb.WriteString(site.rewrittenPrefix(r.opts.TrackedObject, r.opts.InjectedCall))
			last = m.end
		}
		if last > 0 {
			sb.WriteString(line[last:])
			lines[i] = sb.String() // later matches only read lines after this one
		}
	}
	result.Rewritten = strings.Join(lines, "\n")
	return result
}

// findMatches returns the tracked prefixes within the line ordered by position.
func (r *CallRewriter) findMatches(line string) []prefixMatch {
	var matches []prefixMatch
	for _, p := range r.prefixes {
		for offset := 0; ; {
			idx := strings.Index(line[offset:], p.text)
			if idx < 0 {
				break
			}
			start := offset + idx
			offset = start + len(p.text)
			if start > 0 && isIdentByte(line[start-1]) {
				continue // prefix is the tail of a longer identifier
			}
			matches = append(matches, prefixMatch{start: start, end: offset, function: p.function})
		}
	}
	slices.SortFunc(matches, func(a, b prefixMatch) int {
		return a.start - b.start
	})
	return matches
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '$' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// synthesize drives an argParser from the given line offset until the call closes.
func (r *CallRewriter) synthesize(lines []string, line, offset int) ([]ArgName, bool) {
	p := newArgParser(r.opts.Literals)
	stream := newLineStream(lines, line, offset, r.opts.MaxCallLines)
	for {
		prev, cur, ok := stream.next()
		if !ok {
			return p.finish(), false
		}
		if p.feed(prev, cur) {
			return p.results, true
		}
	}
}

// lineStream yields characters from a starting position forward across line boundaries. Each line boundary is
// yielded as '\n', the previous character is 0 at the start of each line, and carriage returns are never yielded.
type lineStream struct {
	lines    []string
	line     int
	pos      int
	lastLine int
	prev     rune
}

func newLineStream(lines []string, line, offset, maxLines int) *lineStream {
	lastLine := len(lines) - 1
	if maxLines > 0 {
		lastLine = min(lastLine, line+maxLines)
	}
	return &lineStream{
		lines:    lines,
		line:     line,
		pos:      offset,
		lastLine: lastLine,
	}
}

func (s *lineStream) next() (prev, cur rune, ok bool) {
	for s.line <= s.lastLine {
		text := s.lines[s.line]
		if s.pos >= len(text) {
			s.line++
			s.pos = 0
			if s.line > s.lastLine {
				break
			}
			prev, s.prev = s.prev, 0
			return prev, '\n', true
		}
		r, size := utf8.DecodeRuneInString(text[s.pos:])
		s.pos += size
		if r == '\r' {
			continue
		}
		prev, s.prev = s.prev, r
		return prev, r, true
	}
	return 0, 0, false
}

// NormalizeFilePath returns path relative to root when it is rooted there, otherwise the slash separated absolute
// path beginning with '/'.
func NormalizeFilePath(root, path string) string {
	path = filepath.ToSlash(path)
	root = strings.TrimSuffix(filepath.ToSlash(root), "/")
	if root != "" && strings.HasPrefix(path, root+"/") {
		return path[len(root)+1:]
	} else if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}
