// Package fsprobe defines the port for file-system probes used by the
// toolchain builders and the download task.
package fsprobe

// Entry is one directory listing entry.
type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"isDir"`
}

// Info describes a file or directory.
type Info struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	IsDir   bool   `json:"isDir"`
	ModTime string `json:"modTime"`
}

// Probe provides simple file-system access.
type Probe interface {
	Exists(path string) bool
	AbsPath(path string) (string, error)
	ReadFileInfo(path string) (*Info, error)

	// ListDir lists path. With recursive set, entries of subdirectories are
	// included and named by their slash-separated path relative to path.
	ListDir(path string, recursive bool) ([]Entry, error)

	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error

	// ChangeFileLine replaces the 0-based line index of path with content.
	ChangeFileLine(path string, index int, content string) error
}
