package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	socketName     = "voxnote.sock"
	defaultBackoff = 25 * time.Millisecond
)

// ErrAlreadyRunning means another process owns the control socket.
var ErrAlreadyRunning = errors.New("voxnote session already running")

// RuntimeSocketPath returns $XDG_RUNTIME_DIR/voxnote.sock, or a per-user
// directory under the system temp dir when XDG_RUNTIME_DIR is unset.
func RuntimeSocketPath() (string, error) {
	if runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); runtimeDir != "" {
		return filepath.Join(runtimeDir, socketName), nil
	}
	return filepath.Join(os.TempDir(), "voxnote-"+strconv.Itoa(os.Getuid()), socketName), nil
}

// AcquireOptions bounds stale-socket recovery.
type AcquireOptions struct {
	// ProbeTimeout bounds the status round trip to an existing socket.
	ProbeTimeout time.Duration
	// Retries is the number of extra listen attempts after removing a stale socket.
	Retries int
	// Backoff grows linearly per attempt. Zero means 25ms.
	Backoff time.Duration
}

// Owner is the listening side of the control socket. Closing it removes the
// socket file only while the file is still the one Owner created.
type Owner struct {
	net.Listener
	path string
	info os.FileInfo

	once     sync.Once
	closeErr error
}

// Path is the socket file this owner listens on.
func (o *Owner) Path() string {
	return o.path
}

func (o *Owner) Close() error {
	o.once.Do(func() {
		o.closeErr = o.Listener.Close()
		if o.info == nil {
			return
		}
		current, err := os.Lstat(o.path)
		if err != nil || !os.SameFile(o.info, current) {
			return
		}
		if err := os.Remove(o.path); err != nil && !errors.Is(err, os.ErrNotExist) && o.closeErr == nil {
			o.closeErr = err
		}
	})
	return o.closeErr
}

// Acquire listens on path. A responsive socket yields ErrAlreadyRunning; a
// dead one is removed and the listen retried. A socket that accepts but never
// answers is left in place.
func Acquire(ctx context.Context, path string, opts AcquireOptions) (*Owner, error) {
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	for attempt := 0; attempt <= opts.Retries; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			return newOwner(listener, path), nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}

		alive, probeErr := Probe(ctx, path, opts.ProbeTimeout)
		if alive {
			return nil, ErrAlreadyRunning
		}
		if probeErr != nil {
			return nil, fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
		}

		if attempt < opts.Retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * opts.Backoff):
			}
		}
	}

	return nil, fmt.Errorf("failed to acquire socket %s after %d retries", path, opts.Retries)
}

func newOwner(listener net.Listener, path string) *Owner {
	_ = os.Chmod(path, 0o600)
	if ul, ok := listener.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}
	info, _ := os.Lstat(path)
	return &Owner{Listener: listener, path: path, info: info}
}
