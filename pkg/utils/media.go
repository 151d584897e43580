package utils

import (
	"path/filepath"
	"strings"
)

// disallowedFilenameChars are the characters rejected by common file systems.
const disallowedFilenameChars = `<>:"/\|?*`

// SanitizeFilename strips every character in disallowedFilenameChars from
// title. All other characters are kept in their original order.
func SanitizeFilename(title string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(disallowedFilenameChars, r) {
			return -1
		}
		return r
	}, title)
}

// AttachmentName builds the user-facing file name for an artifact. The
// sanitized title is used when it has any visible content, otherwise the
// fallback (typically the external identifier) is used.
func AttachmentName(title, fallback, ext string) string {
	name := strings.TrimSpace(SanitizeFilename(title))
	if name == "" {
		name = SanitizeFilename(fallback)
	}
	if ext == "" {
		return name
	}
	return name + "." + strings.TrimPrefix(ext, ".")
}

// IsAudioFile checks if a file is an audio file based on its filename extension.
func IsAudioFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp3", ".wav", ".ogg", ".opus", ".m4a", ".flac", ".aac", ".vorbis":
		return true
	}
	return false
}
