package duckdb

import (
	"os"
	"strconv"
	"time"
)

// Attribute keys describing the file a track was imported from.
const (
	AttrSourcePath    = "source.path"
	AttrSourceSize    = "source.size"
	AttrSourceModTime = "source.modtime"
)

// SourceFile holds stat-based identity for an imported file.
type SourceFile struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// StatSource creates a SourceFile from an on-disk file.
func StatSource(path string) (SourceFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return SourceFile{}, err
	}
	return SourceFile{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Attributes returns the track attributes recording f.
func (f SourceFile) Attributes() map[string]string {
	return map[string]string{
		AttrSourcePath:    f.Path,
		AttrSourceSize:    strconv.FormatInt(f.Size, 10),
		AttrSourceModTime: f.ModTime.UTC().Format(time.RFC3339Nano),
	}
}

// Matches reports whether attrs were recorded for this exact file state.
func (f SourceFile) Matches(attrs map[string]string) bool {
	for k, v := range f.Attributes() {
		if attrs[k] != v {
			return false
		}
	}
	return true
}
