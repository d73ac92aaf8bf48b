package upload

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

const (
	// maxExtensionLen matches the common file name length limit
	maxExtensionLen = 255

	unsafeExtensionChars = `/\\?#%&*:;<>"'|{}[]^~` + "`"
)

// KeyGenerator produces a fresh object key for an uploaded file name.
type KeyGenerator func(filename string) string

// NewKeyGenerator returns a KeyGenerator building keys of the form
// <prefix>/[YYYY/MM/DD/]<uuid><ext>. The random UUID keeps keys unique, so the
// store is never asked to overwrite an existing object.
func NewKeyGenerator(prefix string, datePartitioned bool) KeyGenerator {
	prefix = strings.Trim(prefix, "/")
	return func(filename string) string {
		name := uuid.New().String() + sanitizeExtension(filename)

		var segments []string
		if prefix != "" {
			segments = append(segments, prefix)
		}
		if datePartitioned {
			now := time.Now().UTC()
			segments = append(segments, fmt.Sprintf("%d/%02d/%02d", now.Year(), now.Month(), now.Day()))
		}
		return path.Join(append(segments, name)...)
	}
}

// sanitizeExtension keeps the original extension as written. It is dropped
// when it carries whitespace, control characters or characters that are
// unsafe in paths and URLs.
func sanitizeExtension(filename string) string {
	ext := path.Ext(strings.ReplaceAll(filename, "\\", "/"))
	if len(ext) < 2 || len(ext) > maxExtensionLen {
		return ""
	}
	for _, r := range ext[1:] {
		if unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune(unsafeExtensionChars, r) {
			return ""
		}
	}
	return ext
}
