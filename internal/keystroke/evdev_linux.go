//go:build linux

package keystroke

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	evKey = 0x01

	// evIOCGRAB is _IOW('E', 0x90, int).
	evIOCGRAB = 0x40044590

	pollTimeoutMs = 100
)

// inputEventSize is sizeof(struct input_event): a timeval followed by
// type, code and value.
var (
	timevalSize    = int(unsafe.Sizeof(unix.Timeval{}))
	inputEventSize = timevalSize + 8
)

// EvdevSource reads a scanner that enumerates as its own keyboard device.
// With Grab set the device is taken exclusively, so its keystrokes reach
// this process only.
type EvdevSource struct {
	baseSource
	path string
	grab bool
}

// NewEvdevSource creates a source for the device node at path.
func NewEvdevSource(path string, grab bool) *EvdevSource {
	return &EvdevSource{path: path, grab: grab}
}

// Start opens the device and begins reading.
func (s *EvdevSource) Start(ctx context.Context) error {
	fd, err := unix.Open(s.path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.EACCES) || errors.Is(err, unix.ENOENT) {
			return fmt.Errorf("%w: open %s: %v", ErrNotAvailable, s.path, err)
		}
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	if s.grab {
		if err := unix.IoctlSetInt(fd, evIOCGRAB, 1); err != nil {
			unix.Close(fd)
			return fmt.Errorf("grab %s: %w", s.path, err)
		}
	}

	ctx, err = s.begin(ctx)
	if err != nil {
		unix.Close(fd)
		return err
	}
	go s.readLoop(ctx, fd)
	return nil
}

func (s *EvdevSource) readLoop(ctx context.Context, fd int) {
	var loopErr error
	defer func() {
		if s.grab {
			_ = unix.IoctlSetInt(fd, evIOCGRAB, 0)
		}
		unix.Close(fd)
		s.finish(loopErr)
	}()

	var tr Translator
	buf := make([]byte, inputEventSize*64)
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}

	for ctx.Err() == nil {
		n, err := unix.Poll(pfd, pollTimeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			loopErr = fmt.Errorf("poll %s: %w", s.path, err)
			return
		}
		if n == 0 {
			continue
		}
		if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			loopErr = fmt.Errorf("device %s went away", s.path)
			return
		}

		r, err := unix.Read(fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			loopErr = fmt.Errorf("read %s: %w", s.path, err)
			return
		}
		for off := 0; off+inputEventSize <= r; off += inputEventSize {
			at, typ, code, value := decodeInputEvent(buf[off : off+inputEventSize])
			if typ != evKey {
				continue
			}
			if ev, ok := tr.Translate(code, value, at); ok {
				if !s.emit(ctx, ev) {
					return
				}
			}
		}
	}
}

func decodeInputEvent(b []byte) (at time.Time, typ, code uint16, value int32) {
	var sec, usec int64
	if timevalSize == 16 {
		sec = int64(binary.NativeEndian.Uint64(b[0:8]))
		usec = int64(binary.NativeEndian.Uint64(b[8:16]))
	} else {
		sec = int64(int32(binary.NativeEndian.Uint32(b[0:4])))
		usec = int64(int32(binary.NativeEndian.Uint32(b[4:8])))
	}
	rest := b[timevalSize:]
	typ = binary.NativeEndian.Uint16(rest[0:2])
	code = binary.NativeEndian.Uint16(rest[2:4])
	value = int32(binary.NativeEndian.Uint32(rest[4:8]))
	return time.Unix(sec, usec*1000), typ, code, value
}
