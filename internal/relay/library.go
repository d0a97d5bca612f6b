package relay

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

var ErrVideoNotFound = errors.New("video not found")

var videoExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".ogg":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
}

// IsVideo reports whether name has one of the served video extensions.
func IsVideo(name string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(name))]
}

type Video struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Library serves video files from a single flat directory.
type Library struct {
	dir string
}

func NewLibrary(dir string) *Library {
	return &Library{dir: dir}
}

// List returns the videos in the library ordered by name. A library with
// no directory is empty.
func (l *Library) List() ([]Video, error) {
	videos := []Video{}
	if l == nil || l.dir == "" {
		return videos, nil
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, errors.Wrap(err, "list videos")
	}
	for _, entry := range entries {
		if entry.IsDir() || !IsVideo(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		videos = append(videos, Video{Name: entry.Name(), Size: info.Size()})
	}
	sort.Slice(videos, func(i, j int) bool { return videos[i].Name < videos[j].Name })
	return videos, nil
}

// Resolve returns the path of the named video. Names that would leave the
// library directory are reported as missing.
func (l *Library) Resolve(name string) (string, error) {
	if l == nil || l.dir == "" || name == "" || name != filepath.Base(name) || name == ".." || !IsVideo(name) {
		return "", ErrVideoNotFound
	}
	path := filepath.Join(l.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrVideoNotFound
		}
		return "", errors.Wrapf(err, "stat video %q", name)
	}
	if info.IsDir() {
		return "", ErrVideoNotFound
	}
	return path, nil
}

// Open returns the named video for streaming.
func (l *Library) Open(name string) (*os.File, os.FileInfo, error) {
	path, err := l.Resolve(name)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open video %q", name)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrapf(err, "stat video %q", name)
	}
	return f, info, nil
}
