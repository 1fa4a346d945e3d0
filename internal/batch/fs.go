package batch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrSameDirectory is returned when a run would write into its own source directory.
var ErrSameDirectory = errors.New("target directory is the source directory")

// ErrSameFile is returned by CopyVerbatim when src and dst are one file.
var ErrSameFile = errors.New("source and destination are the same file")

// EnsureDir creates dir and any missing parents.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Classify("mkdir", dir, err, IOError)
	}
	return nil
}

// CheckDistinct fails with ErrSameDirectory when source and target resolve to
// the same directory. target must already exist.
func CheckDistinct(source, target string) error {
	absSource, err := filepath.Abs(source)
	if err != nil {
		return Classify("abs", source, err, IOError)
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return Classify("abs", target, err, IOError)
	}
	if absSource == absTarget {
		return fmt.Errorf("%w: %s", ErrSameDirectory, absTarget)
	}

	si, err := os.Stat(absSource)
	if err != nil {
		return Classify("stat", absSource, err, IOError)
	}
	ti, err := os.Stat(absTarget)
	if err != nil {
		return Classify("stat", absTarget, err, IOError)
	}
	if os.SameFile(si, ti) {
		return fmt.Errorf("%w: %s and %s", ErrSameDirectory, absSource, absTarget)
	}
	return nil
}

// TargetPath returns the path of name inside targetDir.
func TargetPath(targetDir, name string) string {
	return filepath.Join(targetDir, filepath.Base(name))
}

// CopyVerbatim copies src to dst byte for byte, overwriting dst, and carries
// over the file mode and modification time.
func CopyVerbatim(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return Classify("open", src, err, IOError)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return Classify("stat", src, err, IOError)
	}
	if di, err := os.Stat(dst); err == nil && os.SameFile(info, di) {
		return &FileError{Kind: IOError, Path: dst, Op: "copy", Err: ErrSameFile}
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return Classify("create", dst, err, IOError)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return Classify("copy", dst, err, IOError)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return Classify("sync", dst, err, IOError)
	}
	if err := out.Close(); err != nil {
		return Classify("close", dst, err, IOError)
	}

	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return Classify("chmod", dst, err, IOError)
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return Classify("chtimes", dst, err, IOError)
	}
	return nil
}
