package events

import (
	"testing"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/types"

	"github.com/stretchr/testify/assert"
)

func TestMatchesEventType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern EventType
		name    string
		want    bool
	}{
		{EventUploadCompleted, "upload.completed", true},
		{EventUploadCompleted, "upload.failed", false},
		{EventUploadAll, "upload.failed", true},
		{EventUploadAll, "download.started", false},
		{"*", "anything", true},
		{"", "upload.completed", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchesEventType(tt.pattern, tt.name), "%s vs %s", tt.pattern, tt.name)
	}
}

func TestPayloadFor(t *testing.T) {
	t.Parallel()

	req := &types.UploadRequest{
		ID:             "req-1",
		ClientID:       "client",
		UploadID:       "up-1",
		Checksum:       "abc",
		FileSize:       10,
		ContentType:    "text/plain",
		AttemptCount:   2,
		FileMetadataID: "fm-0",
	}

	p := PayloadFor(EventUploadFailed, req, nil)
	assert.Equal(t, "upload.failed", p.EventName)
	assert.Equal(t, "fm-0", p.FileMetadataID)
	assert.Equal(t, int64(10), p.Size)
	assert.Equal(t, 2, p.Attempt)
	assert.Empty(t, p.Key)

	fm := &types.FileMetadata{
		ID:      "fm-1",
		Size:    11,
		Storage: types.StorageInfo{Bucket: "uploads", Key: "client/2025/01/02/up-1/1-a.txt"},
	}
	p = PayloadFor(EventUploadCompleted, req, fm)
	assert.Equal(t, "fm-1", p.FileMetadataID)
	assert.Equal(t, "uploads", p.Bucket)
	assert.Equal(t, "client/2025/01/02/up-1/1-a.txt", p.Key)
	assert.Equal(t, int64(11), p.Size)
}

func TestBuildEvent(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	ev := BuildEvent(&Payload{
		EventName:       "upload.completed",
		UploadRequestID: "req-1",
		ClientID:        "client",
		UploadID:        "up-1",
		Sequencer:       "seq-1",
		Timestamp:       ts.UnixMilli(),
	}, "uploader")

	assert.Equal(t, "1.0", ev.SpecVersion)
	assert.Equal(t, "seq-1", ev.ID)
	assert.Equal(t, "uploader", ev.Source)
	assert.Equal(t, "upload.completed", ev.Type)
	assert.True(t, ts.Equal(ev.Time))
	assert.Equal(t, "client/up-1", ev.Subject)
	assert.Equal(t, "req-1", ev.Data.UploadRequestID)
}
