package api

import (
	"encoding/json"
	"strings"
)

// URLMetadata is the data block returned by /api/urlInfo.
type URLMetadata struct {
	Title     string  `json:"title"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail"`
	Uploader  string  `json:"uploader"`
	Source    string  `json:"source"`
}

// URLInfoResponse is the envelope returned by /api/urlInfo.
type URLInfoResponse struct {
	Success bool         `json:"success"`
	Data    *URLMetadata `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// URLFetchResponse is the envelope returned by /api/urlFetch.
type URLFetchResponse struct {
	Success      bool   `json:"success"`
	FilePath     string `json:"filePath,omitempty"`
	RelativePath string `json:"relativePath,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Path returns the server path of the downloaded file, preferring filePath.
func (r URLFetchResponse) Path() string {
	if p := strings.TrimSpace(r.FilePath); p != "" {
		return p
	}
	return strings.TrimSpace(r.RelativePath)
}

// Queue is one encode queue as listed by /api/encodeQueue/list.
type Queue struct {
	QueueID string   `json:"queueId"`
	Name    string   `json:"name"`
	Items   []string `json:"items"`
	Active  bool     `json:"active"`
}

type queueListResponse struct {
	Queues []Queue `json:"queues"`
}

type queueCreateResponse struct {
	QueueID string `json:"queueId"`
	Error   string `json:"error,omitempty"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// UploadFile names a local file for a multipart upload.
type UploadFile struct {
	// Name is the file name sent to the server.
	Name string
	// Path is the local file to stream.
	Path string
}

// settingValue normalizes a raw settings payload. The server answers with a
// bare JSON scalar or plain text depending on the key.
func settingValue(raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		switch v := decoded.(type) {
		case string:
			return strings.TrimSpace(v)
		case nil:
			return ""
		default:
			encoded, _ := json.Marshal(v)
			return string(encoded)
		}
	}
	return trimmed
}
