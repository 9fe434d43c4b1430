package lens

import (
	"crypto/sha1"
	"fmt"
	"slices"
	"strings"

	"github.com/mtraver/base91"
	"github.com/vmihailenco/msgpack/v5"
)

// BackupFileSuffix is appended to the path of an original source file while its rewritten form is in place.
const BackupFileSuffix = ".bkp"

// FileManifest records the call sites found within a single source file.
type FileManifest struct {
	// Path is the normalized path of the file, as embedded into the metadata.
	Path string
	// SourceHash identifies the original source text the call sites were found in.
	SourceHash string
	// CallSites are the tracked calls in source order.
	CallSites []CallSite
	// Unterminated counts the tracked calls left unchanged.
	Unterminated int
}

// NameableCount returns the number of nameable arguments across all call sites of the file.
func (f FileManifest) NameableCount() int {
	var count int
	for _, cs := range f.CallSites {
		count += cs.NameableCount()
	}
	return count
}

// ArgCount returns the number of arguments across all call sites of the file.
func (f FileManifest) ArgCount() int {
	var count int
	for _, cs := range f.CallSites {
		count += len(cs.Args)
	}
	return count
}

// Manifest is the set of call sites rewritten within a project.
type Manifest struct {
	// Root is the directory paths are relative to.
	Root string
	// Options summarizes the rewriter configuration, see RewriterOptions.Fingerprint.
	Options string
	Files   []FileManifest
}

// Sort orders the files by path.
func (m *Manifest) Sort() {
	slices.SortFunc(m.Files, func(a, b FileManifest) int {
		return strings.Compare(a.Path, b.Path)
	})
}

// CallSiteCount returns the number of call sites in the manifest.
func (m *Manifest) CallSiteCount() int {
	var count int
	for _, f := range m.Files {
		count += len(f.CallSites)
	}
	return count
}

// SourceHash returns a compact identifier for source text.
func SourceHash(source string) string {
	sum := sha1.Sum([]byte(source))
	return base91.StdEncoding.EncodeToString(sum[:])
}

// encoded forms reference templates through a shared dictionary, logger calls tend to repeat the same variables

type encArg struct {
	Ti int `msgpack:"t"` // index into encManifest.TemplateDict, -1 when not nameable
}

type encCallSite struct {
	Line     int      `msgpack:"l"`
	Col      int      `msgpack:"c"`
	Function int      `msgpack:"fn"` // index into encManifest.FunctionDict
	Args     []encArg `msgpack:"a,omitempty"`
}

type encFileManifest struct {
	Path         string        `msgpack:"p"`
	SourceHash   string        `msgpack:"h"`
	CallSites    []encCallSite `msgpack:"cs,omitempty"`
	Unterminated int           `msgpack:"u,omitempty"`
}

type encManifest struct {
	Root         string            `msgpack:"r"`
	Options      string            `msgpack:"o"`
	FunctionDict []string          `msgpack:"fd"`
	TemplateDict []string          `msgpack:"td"`
	Files        []encFileManifest `msgpack:"f"`
}

func (m *Manifest) MarshalMsgpack() ([]byte, error) {
	enc := encManifest{
		Root:    m.Root,
		Options: m.Options,
		Files:   make([]encFileManifest, len(m.Files)),
	}
	functionIndex := make(map[string]int)
	templateIndex := make(map[string]int)
	indexOf := func(dict *[]string, index map[string]int, val string) int {
		if i, ok := index[val]; ok {
			return i
		}
		i := len(*dict)
		index[val] = i
		*dict = append(*dict, val)
		return i
	}

	for i, f := range m.Files {
		ef := encFileManifest{
			Path:         f.Path,
			SourceHash:   f.SourceHash,
			Unterminated: f.Unterminated,
			CallSites:    make([]encCallSite, len(f.CallSites)),
		}
		for j, cs := range f.CallSites {
			ecs := encCallSite{
				Line:     cs.Line,
				Col:      cs.Col,
				Function: indexOf(&enc.FunctionDict, functionIndex, cs.Function),
				Args:     make([]encArg, len(cs.Args)),
			}
			for k, arg := range cs.Args {
				if arg.Nameable {
					ecs.Args[k].Ti = indexOf(&enc.TemplateDict, templateIndex, arg.Template)
				} else {
					ecs.Args[k].Ti = -1
				}
			}
			ef.CallSites[j] = ecs
		}
		enc.Files[i] = ef
	}
	return msgpack.Marshal(&enc)
}

func (m *Manifest) UnmarshalMsgpack(data []byte) error {
	var enc encManifest
	if err := msgpack.Unmarshal(data, &enc); err != nil {
		return err
	}

	m.Root = enc.Root
	m.Options = enc.Options
	m.Files = make([]FileManifest, len(enc.Files))
	for i, ef := range enc.Files {
		f := FileManifest{
			Path:         ef.Path,
			SourceHash:   ef.SourceHash,
			Unterminated: ef.Unterminated,
			CallSites:    make([]CallSite, len(ef.CallSites)),
		}
		for j, ecs := range ef.CallSites {
			if ecs.Function < 0 || ecs.Function >= len(enc.FunctionDict) {
				return fmt.Errorf("invalid encoded function index: %d", ecs.Function)
			}
			cs := CallSite{
				File:     ef.Path,
				Line:     ecs.Line,
				Col:      ecs.Col,
				Function: enc.FunctionDict[ecs.Function],
				Args:     make([]ArgName, len(ecs.Args)),
			}
			for k, ea := range ecs.Args {
				if ea.Ti < 0 {
					continue // not nameable
				} else if ea.Ti >= len(enc.TemplateDict) {
					return fmt.Errorf("invalid encoded template index: %d", ea.Ti)
				}
				cs.Args[k] = ArgName{Template: enc.TemplateDict[ea.Ti], Nameable: true}
			}
			f.CallSites[j] = cs
		}
		m.Files[i] = f
	}
	return nil
}
