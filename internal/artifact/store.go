// Package artifact persists final audio and transcript files.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rbright/voxnote/internal/session"
)

const maxNameAttempts = 100

// siblingExts are the extensions of one note's files. A stem is free only
// when none of them exist, so audio and transcript keep a shared base name.
var siblingExts = []string{".wav", ".txt"}

// ErrDestinationMissing reports an external directory that does not exist.
var ErrDestinationMissing = errors.New("destination directory does not exist")

// Store implements session.ArtifactStore on the local filesystem.
type Store struct {
	logger *slog.Logger
}

// New returns a filesystem store. logger may be nil.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{logger: logger}
}

// WriteAudio copies r into dest under name and returns the final path. The
// chosen stem is free of any sibling transcript, so the caller can name the
// transcript after it.
func (s *Store) WriteAudio(ctx context.Context, name string, r io.Reader, dest session.Destination) (string, error) {
	return s.write(ctx, name, r, dest, true)
}

// WriteText writes text into dest under name and returns the final path.
func (s *Store) WriteText(ctx context.Context, name, text string, dest session.Destination) (string, error) {
	return s.write(ctx, name, strings.NewReader(text), dest, false)
}

// Delete removes path. A missing path is not an error.
func (s *Store) Delete(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (s *Store) write(ctx context.Context, name string, r io.Reader, dest session.Destination, freeStem bool) (string, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("artifact name is required")
	}
	if strings.TrimSpace(dest.Dir) == "" {
		return "", fmt.Errorf("destination directory is required")
	}

	switch dest.Kind {
	case session.DestinationPrivate, "":
		return s.writePrivate(ctx, name, r, dest.Dir, freeStem)
	case session.DestinationExternal:
		return s.writeExternal(ctx, name, r, dest.Dir, freeStem)
	default:
		return "", fmt.Errorf("unsupported destination kind %q", dest.Kind)
	}
}

// writePrivate writes into an app-owned directory through a temp file and
// rename, so readers never observe a partial artifact.
func (s *Store) writePrivate(ctx context.Context, name string, r io.Reader, dir string, freeStem bool) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".voxnote-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	tmp = nil

	final, err := s.reserveName(dir, name, freeStem, func(path string) error {
		if _, err := os.Lstat(path); err == nil {
			return fs.ErrExist
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return os.Rename(tmpPath, path)
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename %s: %w", name, err)
	}

	s.logger.Debug("artifact written", "path", final, "destination", string(session.DestinationPrivate))
	return final, nil
}

// writeExternal creates an exclusive placeholder in a user-chosen directory,
// streams content into it, and confirms the written size before returning.
func (s *Store) writeExternal(ctx context.Context, name string, r io.Reader, dir string, freeStem bool) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", dir, ErrDestinationMissing)
		}
		return "", fmt.Errorf("stat destination %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("destination %s is not a directory", dir)
	}

	var placeholder *os.File
	final, err := s.reserveName(dir, name, freeStem, func(path string) error {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return err
		}
		placeholder = f
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create placeholder for %s: %w", name, err)
	}

	written, err := io.Copy(placeholder, contextReader{ctx: ctx, r: r})
	if err == nil {
		err = placeholder.Sync()
	}
	if closeErr := placeholder.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = confirmSize(final, written)
	}
	if err != nil {
		_ = os.Remove(final)
		return "", fmt.Errorf("write %s: %w", final, err)
	}

	s.logger.Debug("artifact written", "path", final, "destination", string(session.DestinationExternal), "bytes", written)
	return final, nil
}

// reserveName tries name, then name-1, name-2, ... until claim succeeds.
// claim must return an error matching fs.ErrExist when the path is taken.
// With freeStem, stems already used by a sibling artifact are skipped.
func (s *Store) reserveName(dir, name string, freeStem bool, claim func(path string) error) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = stem + "-" + strconv.Itoa(i) + ext
		}
		path := filepath.Join(dir, candidate)
		if freeStem && siblingTaken(dir, candidate) {
			continue
		}
		err := claim(path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", name, maxNameAttempts)
}

// siblingTaken reports whether another file of the same note already uses
// name's stem. A file with name itself is left to claim.
func siblingTaken(dir, name string) bool {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for _, sibling := range siblingExts {
		if strings.EqualFold(sibling, ext) {
			continue
		}
		if _, err := os.Lstat(filepath.Join(dir, stem+sibling)); err == nil {
			return true
		}
	}
	return false
}

func confirmSize(path string, want int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("confirm: %w", err)
	}
	if info.Size() != want {
		return fmt.Errorf("confirm: size %d, wrote %d", info.Size(), want)
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
