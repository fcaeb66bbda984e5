// Package downloader defines the download manager port.
package downloader

import (
	"context"

	"github.com/Strob0t/TaskForge/internal/domain/download"
)

// Manager transfers remote files to local paths and broadcasts the status of
// every transfer on the download-list feed channel.
type Manager interface {
	// Add starts, or resumes, the transfer of url into path.
	Add(ctx context.Context, path, url string) error

	// Pause stops the transfer of url, keeping the partial file.
	Pause(url string)

	// List returns the current status of all known transfers.
	List() []download.Status
}
