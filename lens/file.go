package lens

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// FileExists reports whether the named file exists.
func FileExists(filename string) bool {
	if _, err := os.Stat(filename); err != nil {
		return !os.IsNotExist(err)
	}
	return true
}

// fileWithinDir returns true if the provided filePath is within the given directory.
func fileWithinDir(filePath, dirPath string) (bool, error) {
	absFile, err := filepath.Abs(filePath)
	if err != nil {
		return false, err
	}
	absDir, err := filepath.Abs(dirPath)
	if err != nil {
		return false, err
	}

	rel, err := filepath.Rel(filepath.Clean(absDir), filepath.Clean(absFile))
	if err != nil {
		return false, err
	}
	// compare on the separator to avoid /dir1 matching /dir
	if rel == ".." || strings.HasPrefix(filepath.ToSlash(rel), "../") {
		return false, nil
	}
	return true, nil
}

// replaceFile moves source over destination, both must be on the same filesystem.
func replaceFile(source, destination string) error {
	if _, err := os.Stat(destination); err == nil {
		if err = os.Remove(destination); err != nil {
			return err
		}
	}
	return os.Rename(source, destination)
}

// writeFileReplace writes data next to path and then moves it into place, so readers never observe a partial file.
func writeFileReplace(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".lenstmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	} else if err = replaceFile(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// CopyFile copies src to dst, keeping the permission bits of src. If src is a symlink, it recreates the symlink at
// dst pointing to the same target.
func CopyFile(src, dst string) (err error) {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	} else if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// concurrentWalk walks root, invoking handler concurrently for every regular file. The skip function is evaluated
// synchronously during the walk, returning true for a directory prevents descending into it.
func concurrentWalk(ctx context.Context, root string, skip func(path string, d fs.DirEntry) bool,
	handler func(ctx context.Context, path string, info os.FileInfo) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.NumCPU())
	err1 := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		select { // abort walk if early failure
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if skip != nil && path != root && skip(path, d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		} else if !d.Type().IsRegular() {
			return nil // directories are descended into, symlinks and devices are never handled
		}

		eg.Go(func() error {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return handler(ctx, path, info)
		})
		return nil
	})
	err2 := eg.Wait()
	return errors.Join(err1, err2)
}
