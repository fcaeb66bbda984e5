// Package localfs implements the fsprobe port on the local file system.
package localfs

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/Strob0t/TaskForge/internal/domain"
	"github.com/Strob0t/TaskForge/internal/port/fsprobe"
)

// Probe resolves relative paths against Root.
type Probe struct {
	Root string
}

var _ fsprobe.Probe = (*Probe)(nil)

// New creates a probe rooted at root ("" = current directory).
func New(root string) *Probe {
	return &Probe{Root: root}
}

func (p *Probe) resolve(path string) string {
	if filepath.IsAbs(path) || p.Root == "" {
		return path
	}
	return filepath.Join(p.Root, path)
}

// Exists reports whether path exists.
func (p *Probe) Exists(path string) bool {
	_, err := os.Stat(p.resolve(path))
	return err == nil
}

// AbsPath returns the cleaned absolute form of path.
func (p *Probe) AbsPath(path string) (string, error) {
	abs, err := filepath.Abs(p.resolve(path))
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", path, err)
	}
	return abs, nil
}

// ReadFileInfo describes path.
func (p *Probe) ReadFileInfo(path string) (*fsprobe.Info, error) {
	fi, err := os.Stat(p.resolve(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &fsprobe.Info{
		Name:    fi.Name(),
		Size:    fi.Size(),
		IsDir:   fi.IsDir(),
		ModTime: fi.ModTime().UTC().Format(time.RFC3339),
	}, nil
}

// ListDir lists path, sorted by name.
func (p *Probe) ListDir(path string, recursive bool) ([]fsprobe.Entry, error) {
	root := p.resolve(path)
	if !recursive {
		des, err := os.ReadDir(root)
		if err != nil {
			return nil, wrapNotExist(path, err)
		}
		entries := make([]fsprobe.Entry, 0, len(des))
		for _, de := range des {
			entries = append(entries, fsprobe.Entry{Name: de.Name(), IsDir: de.IsDir()})
		}
		return entries, nil
	}

	var entries []fsprobe.Entry
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		entries = append(entries, fsprobe.Entry{Name: filepath.ToSlash(rel), IsDir: d.IsDir()})
		return nil
	})
	if err != nil {
		return nil, wrapNotExist(path, err)
	}
	slices.SortFunc(entries, func(a, b fsprobe.Entry) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return entries, nil
}

// ReadFile returns the content of path.
func (p *Probe) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(p.resolve(path))
	if err != nil {
		return nil, wrapNotExist(path, err)
	}
	return data, nil
}

// WriteFile replaces the content of path, creating parent directories.
func (p *Probe) WriteFile(path string, data []byte) error {
	full := p.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	return os.WriteFile(full, data, 0o644)
}

// ChangeFileLine replaces line index (0-based) of path with content. Line
// endings of the file are preserved.
func (p *Probe) ChangeFileLine(path string, index int, content string) error {
	data, err := p.ReadFile(path)
	if err != nil {
		return err
	}

	sep := []byte("\n")
	if bytes.Contains(data, []byte("\r\n")) {
		sep = []byte("\r\n")
	}
	lines := bytes.Split(data, sep)
	if index < 0 || index >= len(lines) {
		return fmt.Errorf("%w: line %d out of range (file has %d lines)", domain.ErrValidation, index, len(lines))
	}
	lines[index] = []byte(content)
	return p.WriteFile(path, bytes.Join(lines, sep))
}

func wrapNotExist(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", path, domain.ErrNotFound)
	}
	return err
}
