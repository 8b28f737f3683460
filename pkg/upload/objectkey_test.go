package upload

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.pdf", "report.pdf"},
		{"my report (1).pdf", "my_report__1_.pdf"},
		{"résumé.pdf", "resume.pdf"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{"", "unknown"},
		{"  ", "unknown"},
		{"..", "unknown"},
		{"файл.txt", "____.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestSanitizeFilename_KeepsTail(t *testing.T) {
	name := strings.Repeat("a", 300) + ".pdf"
	got := SanitizeFilename(name)
	assert.Len(t, got, maxFilenameLen)
	assert.True(t, strings.HasSuffix(got, ".pdf"))
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2025, 1, 7, 23, 30, 0, 0, time.FixedZone("UTC+5", 5*3600))
	key := ObjectKey("client-1", "up/1", "My File.pdf", now)
	assert.Equal(t, "client-1/2025/01/07/up_1/1736274600000-My_File.pdf", key)

	// Same inputs at a later millisecond give a different key.
	later := ObjectKey("client-1", "up/1", "My File.pdf", now.Add(time.Millisecond))
	assert.NotEqual(t, key, later)

	assert.Equal(t, "__/2025/01/07/_/1736274600000-unknown", ObjectKey("..", ".", "", now))
}
