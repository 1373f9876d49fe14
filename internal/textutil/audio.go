package textutil

import (
	"path/filepath"
	"slices"
	"strings"
)

// audioExtensions are the container/codec extensions the encoder accepts as input.
var audioExtensions = []string{
	"aac", "ac3", "aiff", "alac", "amr", "ape", "au", "caf", "dts", "flac",
	"m4a", "m4b", "mka", "mp2", "mp3", "mp4", "mpc", "oga", "ogg", "opus",
	"ra", "spx", "tta", "wav", "weba", "webm", "wma", "wv",
}

// AudioExtensions returns a copy of the supported input extensions without dots.
func AudioExtensions() []string {
	return slices.Clone(audioExtensions)
}

// IsAudioFile reports whether name carries a supported audio extension.
func IsAudioFile(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return false
	}
	_, found := slices.BinarySearch(audioExtensions, ext)
	return found
}
