package storage

import (
	"fmt"
	"path"
	"strings"
)

// imageExtensions maps accepted content types to the object suffix.
var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// FrameImagePath returns frames/<scope>/item-<index>/<id>.<ext>.
func FrameImagePath(scopeID string, index int, objectID, ext string) (string, error) {
	scope, err := validateSegment("scopeID", scopeID)
	if err != nil {
		return "", err
	}
	if index < 0 {
		return "", fmt.Errorf("storage: item index must not be negative")
	}
	id, err := validateSegment("objectID", objectID)
	if err != nil {
		return "", err
	}
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("frames/%s/item-%d/%s.%s", scope, index, id, ext), nil
}

// extensionFor prefers the sniffed content type and falls back to the client's file name.
func extensionFor(contentType, name string) string {
	if ext, ok := imageExtensions[contentType]; ok {
		return ext
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(strings.TrimSpace(name)), "."))
	if ext == "jpeg" {
		ext = "jpg"
	}
	for _, known := range imageExtensions {
		if ext == known {
			return ext
		}
	}
	return "bin"
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
