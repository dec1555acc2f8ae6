// Package device provides capture devices that replay frames from disk.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/menta2k/body-analyzer/internal/utils"
	"github.com/menta2k/body-analyzer/pkg/capture"
	"github.com/menta2k/body-analyzer/pkg/processing"
	"github.com/menta2k/body-analyzer/pkg/types"
)

// DirectoryDevice replays the images of a directory as a camera. When the
// directory has user/ or environment/ subdirectories, the facing selects
// one of them; otherwise every facing sees the same frames.
type DirectoryDevice struct {
	dir       string
	loop      bool
	processor *processing.Processor
}

// NewDirectoryDevice creates a device over dir. With loop set the stream
// restarts at the first frame after the last one.
func NewDirectoryDevice(dir string, loop bool) *DirectoryDevice {
	return &DirectoryDevice{
		dir:       dir,
		loop:      loop,
		processor: processing.NewProcessor(),
	}
}

// RequestPermission succeeds when the directory can be read
func (d *DirectoryDevice) RequestPermission(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(d.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", d.dir, types.ErrDeviceUnavailable)
		}
		return fmt.Errorf("%s: %v: %w", d.dir, err, types.ErrPermissionDenied)
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: %v: %w", d.dir, err, types.ErrPermissionDenied)
	}
	return nil
}

// Open starts a stream for the given facing
func (d *DirectoryDevice) Open(ctx context.Context, facing capture.Facing) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := d.dir
	if sub := filepath.Join(d.dir, string(facing)); utils.DirExists(sub) {
		dir = sub
	}

	files, err := utils.ListFrames(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %v: %w", err, types.ErrDeviceUnavailable)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no frames in %s: %w", dir, types.ErrDeviceUnavailable)
	}
	return &directoryStream{
		files:     files,
		loop:      d.loop,
		processor: d.processor,
	}, nil
}

// directoryStream hands out the frames in name order
type directoryStream struct {
	files     []string
	loop      bool
	processor *processing.Processor

	mu     sync.Mutex
	next   int
	closed bool
}

// Frame loads the next frame. A finished non-looping stream keeps
// returning its last frame, the way a still camera would.
func (s *directoryStream) Frame(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.Frame{}, fmt.Errorf("stream closed: %w", types.ErrDeviceUnavailable)
	}
	path := s.files[s.next]
	switch {
	case s.next+1 < len(s.files):
		s.next++
	case s.loop:
		s.next = 0
	}
	s.mu.Unlock()

	img, err := s.processor.LoadImage(path)
	if err != nil {
		return types.Frame{}, fmt.Errorf("failed to load frame: %w", err)
	}
	return types.Frame{
		Image:     img,
		Source:    path,
		Timestamp: time.Now(),
	}, nil
}

// Close releases the stream; it is safe to call more than once
func (s *directoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
