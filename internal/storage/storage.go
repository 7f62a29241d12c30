// Package storage keeps exported mixes and recordings outside the process.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// Sink stores encoded audio by name.
type Sink interface {
	// Save writes data under name and returns where it can be fetched.
	Save(ctx context.Context, name string, data []byte, mime string) (string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// List returns stored names starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// cleanName strips directories and leading dots so a name cannot escape
// the sink root.
func cleanName(name string) (string, error) {
	name = path.Base(path.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "/" {
		return "", errors.New("empty object name")
	}
	return name, nil
}

// Extension returns the file extension for an encoded audio MIME type.
func Extension(mime string) string {
	switch {
	case strings.HasPrefix(mime, "audio/mpeg"):
		return "mp3"
	case strings.HasPrefix(mime, "audio/ogg"):
		return "ogg"
	case strings.HasPrefix(mime, "audio/wav"):
		return "wav"
	}
	return "bin"
}
