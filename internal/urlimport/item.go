package urlimport

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an Item.
type Status string

const (
	StatusPending      Status = "pending"
	StatusFetchingInfo Status = "fetching-info"
	StatusReady        Status = "ready"
	StatusDownloading  Status = "downloading"
	StatusComplete     Status = "complete"
	StatusError        Status = "error"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Item is one remote URL being imported.
type Item struct {
	ID          string  `json:"id"`
	URL         string  `json:"url"`
	Title       string  `json:"title,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	Thumbnail   string  `json:"thumbnail,omitempty"`
	Uploader    string  `json:"uploader,omitempty"`
	SourceLabel string  `json:"source,omitempty"`
	Status      Status  `json:"status"`
	Progress    float64 `json:"progress"`
	Error       string  `json:"error,omitempty"`
	FilePath    string  `json:"filePath,omitempty"`
}

// DisplayName is the title when known, else the URL.
func (i Item) DisplayName() string {
	if i.Title != "" {
		return i.Title
	}
	return i.URL
}

// FormatDuration renders seconds as m:ss; zero renders as "".
func FormatDuration(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func newItemID() string {
	return fmt.Sprintf("url-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
