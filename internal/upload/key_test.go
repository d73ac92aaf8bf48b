package upload

import (
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var uuidPattern = `[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}`

func TestKeyGenerator(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		filename string
		pattern  string
	}{
		{name: "keeps extension", filename: "report.pdf", pattern: `^` + uuidPattern + `\.pdf$`},
		{name: "keeps extension case", filename: "photo.JPG", pattern: `^` + uuidPattern + `\.JPG$`},
		{name: "keeps dashes", filename: "a.tar-gz", pattern: `^` + uuidPattern + `\.tar-gz$`},
		{name: "keeps long extension", filename: "a." + strings.Repeat("x", 20), pattern: `^` + uuidPattern + `\.x{20}$`},
		{name: "no extension", filename: "README", pattern: `^` + uuidPattern + `$`},
		{name: "last extension only", filename: "backup.tar.gz", pattern: `^` + uuidPattern + `\.gz$`},
		{name: "drops odd characters", filename: "evil.p h/p", pattern: `^` + uuidPattern + `$`},
		{name: "drops windows directories", filename: `C:\temp\photo.jpg`, pattern: `^` + uuidPattern + `\.jpg$`},
		{name: "drops extension with spaces", filename: "evil.p h", pattern: `^` + uuidPattern + `$`},
		{name: "drops extension with query characters", filename: "x.php?a=1", pattern: `^` + uuidPattern + `$`},
		{name: "drops overlong extension", filename: "a." + strings.Repeat("x", 300), pattern: `^` + uuidPattern + `$`},
		{name: "prefix", prefix: "/uploads/", filename: "a.txt", pattern: `^uploads/` + uuidPattern + `\.txt$`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := NewKeyGenerator(tt.prefix, false)(tt.filename)
			assert.Regexp(t, regexp.MustCompile(tt.pattern), key)
		})
	}
}

func TestKeyGenerator_DatePartitioned(t *testing.T) {
	now := time.Now().UTC()
	key := NewKeyGenerator("files", true)("photo.png")

	datePath := fmt.Sprintf("%d/%02d/%02d", now.Year(), now.Month(), now.Day())
	assert.True(t, strings.HasPrefix(key, "files/"+datePath+"/"), key)
	assert.True(t, strings.HasSuffix(key, ".png"), key)
}

func TestKeyGenerator_Unique(t *testing.T) {
	gen := NewKeyGenerator("", false)
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		key := gen("same.txt")
		_, dup := seen[key]
		assert.False(t, dup, "duplicate key %s", key)
		seen[key] = struct{}{}
	}
}

func TestLocators(t *testing.T) {
	assert.Equal(t,
		"https://my-bucket.s3.amazonaws.com/abc.txt",
		VirtualHostLocator("my-bucket")("abc.txt"))
	assert.Equal(t,
		"http://localhost:4566/my-bucket/2026/01/02/abc.txt",
		EndpointLocator("http://localhost:4566/", "my-bucket")("2026/01/02/abc.txt"))
}
