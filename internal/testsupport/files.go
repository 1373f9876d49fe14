package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// audioStub starts with an ID3 tag header so sniffers see an audio file.
var audioStub = append([]byte("ID3\x04\x00\x00\x00\x00\x00\x00"), bytes.Repeat([]byte{0x42}, 1014)...)

// WriteAudio creates name under dir with a small payload and returns its path.
func WriteAudio(t testing.TB, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(path, audioStub, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
