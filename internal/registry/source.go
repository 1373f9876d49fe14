package registry

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"tafkit/internal/textutil"
)

// Origin identifies where a source's bytes live.
type Origin string

const (
	OriginLocalUpload Origin = "local-upload"
	OriginServerPath  Origin = "server-path"
	OriginURLImport   Origin = "url-import"
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	switch o {
	case OriginLocalUpload, OriginServerPath, OriginURLImport:
		return true
	default:
		return false
	}
}

// Source is one audio input of an encode batch. Exactly one of LocalPath or
// ServerPath is set: LocalPath for local uploads, ServerPath otherwise.
type Source struct {
	ID              string  `json:"id"`
	Origin          Origin  `json:"origin"`
	Name            string  `json:"name"`
	SizeBytes       int64   `json:"sizeBytes,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	Uploader        string  `json:"uploader,omitempty"`
	OriginInfo      string  `json:"originInfo,omitempty"`
	LocalPath       string  `json:"localPath,omitempty"`
	ServerPath      string  `json:"serverPath,omitempty"`
}

// IsLocal reports whether the source must be uploaded before encoding.
func (s Source) IsLocal() bool {
	return s.Origin == OriginLocalUpload
}

// checkPayload verifies that exactly the payload matching the origin is set.
func (s Source) checkPayload() error {
	hasLocal := strings.TrimSpace(s.LocalPath) != ""
	hasServer := strings.TrimSpace(s.ServerPath) != ""
	switch s.Origin {
	case OriginLocalUpload:
		if !hasLocal || hasServer {
			return fmt.Errorf("%s source %q needs a local path only", s.Origin, s.ID)
		}
	case OriginServerPath, OriginURLImport:
		if !hasServer || hasLocal {
			return fmt.Errorf("%s source %q needs a server path only", s.Origin, s.ID)
		}
	default:
		return fmt.Errorf("source %q has unknown origin %q", s.ID, s.Origin)
	}
	return nil
}

// ErrUnsupportedFile is returned for local files the encoder cannot read.
var ErrUnsupportedFile = errors.New("unsupported audio file")

// NewLocalSource describes a local audio file for upload.
func NewLocalSource(localPath string) (Source, error) {
	abs, err := filepath.Abs(strings.TrimSpace(localPath))
	if err != nil {
		return Source{}, fmt.Errorf("resolve %s: %w", localPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Source{}, fmt.Errorf("stat %s: %w", abs, err)
	}
	if info.IsDir() {
		return Source{}, fmt.Errorf("%s is a directory", abs)
	}
	name := filepath.Base(abs)
	if !textutil.IsAudioFile(name) {
		return Source{}, fmt.Errorf("%w: %s", ErrUnsupportedFile, name)
	}
	return Source{
		ID:        "local-" + uuid.NewString(),
		Origin:    OriginLocalUpload,
		Name:      name,
		SizeBytes: info.Size(),
		LocalPath: abs,
	}, nil
}

// NewServerSource describes a file that already lives on the server. An empty
// name defaults to the last path element.
func NewServerSource(serverPath, name string) Source {
	return Source{
		ID:         "srv-" + uuid.NewString(),
		Origin:     OriginServerPath,
		Name:       defaultName(serverPath, name),
		ServerPath: strings.TrimSpace(serverPath),
	}
}

// NewImportedSource describes a completed URL import stored on the server.
func NewImportedSource(serverPath, title, originURL, uploader string, durationSeconds float64) Source {
	name := defaultName(serverPath, "")
	if title = textutil.SanitizeFileName(title); title != "" {
		name = title + path.Ext(name)
	}
	return Source{
		ID:              "import-" + uuid.NewString(),
		Origin:          OriginURLImport,
		Name:            name,
		DurationSeconds: durationSeconds,
		Uploader:        strings.TrimSpace(uploader),
		OriginInfo:      strings.TrimSpace(originURL),
		ServerPath:      strings.TrimSpace(serverPath),
	}
}

func defaultName(serverPath, name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return path.Base(strings.TrimRight(strings.TrimSpace(serverPath), "/"))
}
