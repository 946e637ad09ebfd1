//go:build !linux

package keystroke

import "context"

// EvdevSource is only available on Linux.
type EvdevSource struct {
	baseSource
	path string
}

// NewEvdevSource returns a source whose Start always fails on this platform.
func NewEvdevSource(path string, grab bool) *EvdevSource {
	return &EvdevSource{path: path}
}

// Start implements Source.
func (s *EvdevSource) Start(context.Context) error {
	return ErrNotAvailable
}
