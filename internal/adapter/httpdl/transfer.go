package httpdl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const chunkSize = 32 * 1024

// HTTPDoer is the part of *http.Client the manager uses.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func defaultClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   15 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// transfer downloads e's URL into "<path>.part" and renames it on success.
func (m *Manager) transfer(ctx context.Context, e *entry) error {
	m.mu.Lock()
	target, rawURL := e.status.Path, e.status.URL
	m.mu.Unlock()

	part := target + ".part"
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	var offset int64
	if fi, err := os.Stat(part); err == nil {
		offset = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", m.opts.UserAgent)
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := m.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusOK:
		offset = 0
		flags |= os.O_TRUNC
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusRequestedRangeNotSatisfiable:
		if offset > 0 {
			// The partial file already holds everything.
			m.progress(e, offset, offset)
			return os.Rename(part, target)
		}
		return fmt.Errorf("request %s: %s", rawURL, resp.Status)
	default:
		return fmt.Errorf("request %s: %s", rawURL, resp.Status)
	}

	size := int64(0)
	if resp.ContentLength >= 0 {
		size = offset + resp.ContentLength
	}
	m.progress(e, size, offset)

	f, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", part, err)
	}

	written, copyErr := m.copyBody(ctx, e, f, resp.Body, size, offset)
	if err := f.Close(); err != nil && copyErr == nil {
		copyErr = fmt.Errorf("close %s: %w", part, err)
	}
	if copyErr != nil {
		return copyErr
	}
	if size > 0 && written != size {
		return fmt.Errorf("short transfer: got %d of %d bytes", written, size)
	}

	if err := os.Rename(part, target); err != nil {
		return fmt.Errorf("finalize %s: %w", target, err)
	}
	return nil
}

// copyBody streams body into f, recording progress after every chunk. It
// returns the total number of bytes now in the file.
func (m *Manager) copyBody(ctx context.Context, e *entry, f io.Writer, body io.Reader, size, offset int64) (int64, error) {
	buf := make([]byte, chunkSize)
	total := offset
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return total, fmt.Errorf("write: %w", err)
			}
			total += int64(n)
			m.progress(e, size, total)
		}
		if errors.Is(readErr, io.EOF) {
			return total, nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			return total, fmt.Errorf("read body: %w", readErr)
		}
	}
}
