package constants

import "strings"

// TransientExtensions holds the extensions the cache reclaimer deletes from the scratch directory.
var TransientExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"tmp":  {},
}

// CaptureExtensions holds the extensions accepted as raw captures.
var CaptureExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"heic": {},
	"heif": {},
}

// HEICExtensions need an external converter before decode.
var HEICExtensions = map[string]struct{}{
	"heic": {},
	"heif": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// HasExt reports whether ext (with or without dot, any case) is in set.
func HasExt(set map[string]struct{}, ext string) bool {
	_, ok := set[NormalizeExt(ext)]
	return ok
}

const (
	// DatabaseFileName is the sqlite file created under the data directory.
	DatabaseFileName = "FieldSurvey.db"
	// FinalFilePrefix prefixes every processed output image.
	FinalFilePrefix = "Final_"
	// SidecarExt is the extension of optional capture manifests.
	SidecarExt = ".json"
)
