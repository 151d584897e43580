// Package fetcher drives the external media-extraction tool that downloads
// a locator and transcodes it to an audio artifact.
package fetcher

import (
	"context"
	"errors"
)

// ErrFetchFailed is the single error category every fetch failure maps to:
// tool start failure, non-zero exit, unreadable metadata, or a missing
// output file after the tool reported success.
var ErrFetchFailed = errors.New("fetch/transcode failed")

// Artifact is a transcoded audio file on local disk.
type Artifact struct {
	// ID is the identifier assigned by the source service.
	ID string
	// Title is the raw source title, unsanitized.
	Title string
	// Path is the local file produced by the tool.
	Path string
	// Dir is the private scratch directory the tool ran in. The caller
	// removes it once the file is sent.
	Dir string
	// Ext is the audio codec extension without the dot, e.g. "mp3".
	Ext string
	// Duration in seconds, when the source reports one.
	Duration int
	// Uploader is the channel or artist name, when known.
	Uploader string
}

type Fetcher interface {
	Fetch(ctx context.Context, locator string) (*Artifact, error)
}

// FetchFunc adapts a function to the Fetcher interface.
type FetchFunc func(ctx context.Context, locator string) (*Artifact, error)

func (f FetchFunc) Fetch(ctx context.Context, locator string) (*Artifact, error) {
	return f(ctx, locator)
}
