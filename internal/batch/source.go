package batch

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultExtensions are the image suffixes picked up when none are configured.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png"}

// File is one entry of a SourceSet.
type File struct {
	Path    string
	Name    string
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
}

// SourceSet is the ordered list of image files found directly inside a
// source directory. It is taken once at the start of a run and never refreshed.
type SourceSet []File

// Snapshot lists the regular files directly inside dir whose names end with
// one of extensions. Subdirectories are not descended into. Matching is an
// exact suffix match unless ignoreCase is set. Order follows os.ReadDir.
func Snapshot(dir string, extensions []string, ignoreCase bool) (SourceSet, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, Classify("read_dir", dir, err, IOError)
	}

	set := make(SourceSet, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}
		if !hasExtension(entry.Name(), extensions, ignoreCase) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, Classify("stat", filepath.Join(dir, entry.Name()), err, IOError)
		}

		set = append(set, File{
			Path:    filepath.Join(dir, entry.Name()),
			Name:    entry.Name(),
			Size:    info.Size(),
			Mode:    info.Mode(),
			ModTime: info.ModTime(),
		})
	}
	return set, nil
}

// TotalSize returns the combined size of all files in the set.
func (s SourceSet) TotalSize() int64 {
	var total int64
	for _, f := range s {
		total += f.Size
	}
	return total
}

func hasExtension(name string, extensions []string, ignoreCase bool) bool {
	if ignoreCase {
		name = strings.ToLower(name)
	}
	for _, ext := range extensions {
		if ignoreCase {
			ext = strings.ToLower(ext)
		}
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
