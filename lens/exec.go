package lens

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/go-analyze/bulk"
)

// nodeEnv keeps diagnostics free of terminal escapes so they can be included in errors and reports.
var nodeEnv = []string{"NO_COLOR=1", "FORCE_COLOR=0"}

// NewProjectExec creates a command that runs in projectDir with env applied.
func NewProjectExec(ctx context.Context, projectDir string, env []string, name string, arg ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, arg...)
	cmd.Dir = projectDir
	cmd.Env = mergeSafeEnv(env)
	return cmd
}

func mergeSafeEnv(env []string) []string {
	envKeys := make([]string, len(env)) // check for os values we want to override
	for i, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		envKeys[i] = key
	}
	safeEnv := bulk.SliceFilterInPlace(func(envVar string) bool {
		if envVar == "" || envVar == "=" || strings.HasPrefix(envVar, "LD_") {
			return false // skip unsafe
		} else if key, _, _ := strings.Cut(envVar, "="); slices.Contains(envKeys, key) {
			return false // will be overridden by custom value
		}
		return true
	}, os.Environ())
	return append(safeEnv, env...)
}

// NewProjectCapturedOutputExec runs a command in projectDir, returning the combined stdout and stderr. When stream is
// set the output is also copied to the process stdout and stderr.
func NewProjectCapturedOutputExec(ctx context.Context, projectDir string, env []string, stream bool,
	name string, arg ...string) ([]byte, error) {
	cmd := NewProjectExec(ctx, projectDir, env, name, arg...)
	lb := newLockedBuffer()
	if stream {
		cmd.Stdout = TeeWriter(os.Stdout, lb)
		cmd.Stderr = TeeWriter(os.Stderr, lb)
	} else {
		cmd.Stdout = lb
		cmd.Stderr = lb
	}
	err := cmd.Run()
	return lb.Bytes(), err
}

// SourceVerifier checks that a rewritten file is still loadable.
type SourceVerifier interface {
	Verify(ctx context.Context, path string) error
}

// NodeSyntaxVerifier checks files with `node --check`, which parses without executing.
type NodeSyntaxVerifier struct {
	// ProjectDir is the working directory for node.
	ProjectDir string
	// NodeBinary defaults to "node" resolved through PATH.
	NodeBinary string
	// Output receives the output of failed checks, nil to discard.
	Output io.Writer
}

func (v NodeSyntaxVerifier) Verify(ctx context.Context, path string) error {
	node := v.NodeBinary
	if node == "" {
		node = "node"
	}
	out, err := NewProjectCapturedOutputExec(ctx, v.ProjectDir, nodeEnv, false, node, "--check", path)
	if err != nil {
		if v.Output != nil {
			_, _ = v.Output.Write(out)
		}
		return fmt.Errorf("syntax check failure %s: %w\n%s", path, err,
			limitStringLines(strings.TrimSpace(string(out)), 6, true))
	}
	return nil
}

// NodeAvailable reports if the node binary can be located.
func NodeAvailable(nodeBinary string) bool {
	if nodeBinary == "" {
		nodeBinary = "node"
	}
	_, err := exec.LookPath(nodeBinary)
	return err == nil
}
