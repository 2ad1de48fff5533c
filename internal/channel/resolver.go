package channel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnknownTrack is returned when a track key has no loop file.
var ErrUnknownTrack = errors.New("unknown track")

// Resolver maps a track key to the loop file that plays behind it.
type Resolver interface {
	Resolve(ctx context.Context, trackKey string) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, trackKey string) (string, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, trackKey string) (string, error) {
	return f(ctx, trackKey)
}

// DirResolver looks up <Dir>/<key><Ext>. Keys without a file fall back to
// Default when it is set.
type DirResolver struct {
	Dir     string
	Ext     string
	Default string
}

// NewDirResolver creates a DirResolver. ext defaults to ".mp4".
func NewDirResolver(dir, ext, def string) *DirResolver {
	if ext == "" {
		ext = ".mp4"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &DirResolver{Dir: dir, Ext: ext, Default: def}
}

// Resolve returns the loop path for trackKey.
func (r *DirResolver) Resolve(ctx context.Context, trackKey string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if trackKey != "" && r.Dir != "" {
		// Keys are file names, never paths.
		if strings.ContainsAny(trackKey, `/\`) || trackKey == "." || trackKey == ".." {
			return "", fmt.Errorf("%w: invalid key %q", ErrUnknownTrack, trackKey)
		}
		path := filepath.Join(r.Dir, trackKey+r.Ext)
		if isFile(path) {
			return path, nil
		}
	}

	if r.Default != "" {
		path := r.Default
		if !filepath.IsAbs(path) && r.Dir != "" && !isFile(path) {
			path = filepath.Join(r.Dir, path)
		}
		if isFile(path) {
			return path, nil
		}
		return "", fmt.Errorf("%w: default loop %q not found", ErrUnknownTrack, r.Default)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTrack, trackKey)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
