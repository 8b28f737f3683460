package upload

import (
	"fmt"
	"mime"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

const (
	// DefaultMaxFileSize is the largest accepted payload (100 MiB).
	DefaultMaxFileSize int64 = 100 << 20

	DefaultContentType = "application/octet-stream"

	maxClientIDLen = 100
	maxUploadIDLen = 200
)

// validate checks a submission before anything is read or persisted and
// normalizes its content type.
func (s *serviceImpl) validate(req *SubmitRequest) *Error {
	if req == nil {
		return newValidationError("request is required")
	}
	clientID := strings.TrimSpace(req.ClientID)
	uploadID := strings.TrimSpace(req.UploadID)

	switch {
	case clientID == "":
		return newValidationError("client ID is required")
	case utf8.RuneCountInString(req.ClientID) > maxClientIDLen:
		return newValidationError(fmt.Sprintf("client ID is too long (max %d characters)", maxClientIDLen))
	case uploadID == "":
		return newValidationError("upload ID is required")
	case utf8.RuneCountInString(req.UploadID) > maxUploadIDLen:
		return newValidationError(fmt.Sprintf("upload ID is too long (max %d characters)", maxUploadIDLen))
	case strings.TrimSpace(req.Filename) == "":
		return newValidationError("file name is required")
	case req.Body == nil:
		return newValidationError("file is required")
	case req.Size == 0:
		return newValidationError("file is empty")
	case req.Size > s.maxFileSize:
		return s.tooLarge(req.Size)
	}

	req.ContentType = normalizeContentType(req.ContentType)
	if len(s.allowedTypes) > 0 && !slices.Contains(s.allowedTypes, req.ContentType) {
		return newUnsupportedTypeError(req.ContentType)
	}
	return nil
}

func (s *serviceImpl) tooLarge(size int64) *Error {
	if size < 0 {
		return newTooLargeError(fmt.Sprintf("file size exceeds maximum allowed limit of %s",
			humanize.IBytes(uint64(s.maxFileSize))))
	}
	return newTooLargeError(fmt.Sprintf("file size %s exceeds maximum allowed limit of %s",
		humanize.IBytes(uint64(size)), humanize.IBytes(uint64(s.maxFileSize))))
}

// normalizeContentType drops parameters and lowercases the media type.
// Empty or unparsable values fall back to application/octet-stream.
func normalizeContentType(ct string) string {
	ct = strings.TrimSpace(ct)
	if ct == "" {
		return DefaultContentType
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || mediaType == "" {
		return DefaultContentType
	}
	return mediaType
}
