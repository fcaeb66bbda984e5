// Package download defines the download status record broadcast by the
// download manager.
package download

import (
	"encoding/json"
	"fmt"
)

// Status is the state of one transfer. The download manager broadcasts the
// complete list of statuses on every update.
type Status struct {
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	URL         string  `json:"url"`
	Size        int64   `json:"size"`
	Transferred int64   `json:"transferred"`
	Progress    float64 `json:"progress"`
	Downloading bool    `json:"downloading"`
	Done        bool    `json:"done"`
	Error       string  `json:"error,omitempty"`
}

// Describe renders "name: 12.34% {json}", the line format used for download
// task output.
func (s *Status) Describe() string {
	data, err := json.Marshal(s)
	if err != nil {
		data = []byte("{}")
	}
	return fmt.Sprintf("%s: %.2f%% %s", s.Name, s.Progress, data)
}

// EncodeList serializes a status list for the feed.
func EncodeList(list []Status) ([]byte, error) {
	if list == nil {
		list = []Status{}
	}
	return json.Marshal(list)
}

// DecodeList parses a feed payload. A nil payload yields a nil list.
func DecodeList(data []byte) ([]Status, error) {
	if data == nil {
		return nil, nil
	}
	var list []Status
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode download list: %w", err)
	}
	return list, nil
}
