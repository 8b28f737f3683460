package events

import (
	"strings"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/types"
)

// EventType names an upload lifecycle event.
type EventType string

const (
	EventUploadAll       EventType = "upload.*"
	EventUploadCompleted EventType = "upload.completed"
	EventUploadFailed    EventType = "upload.failed"
	EventUploadCancelled EventType = "upload.cancelled"
	EventUploadDuplicate EventType = "upload.duplicate"
)

// Payload is the queued form of an event.
type Payload struct {
	EventName       string `json:"event_name"`
	UploadRequestID string `json:"upload_request_id"`
	ClientID        string `json:"client_id"`
	UploadID        string `json:"upload_id"`
	FileMetadataID  string `json:"file_metadata_id,omitempty"`
	Checksum        string `json:"checksum,omitempty"`
	Size            int64  `json:"size,omitempty"`
	ContentType     string `json:"content_type,omitempty"`
	Bucket          string `json:"bucket,omitempty"`
	Key             string `json:"key,omitempty"`
	Attempt         int    `json:"attempt,omitempty"`
	Error           string `json:"error,omitempty"`
	Sequencer       string `json:"sequencer"`
	Timestamp       int64  `json:"timestamp"` // unix millis
}

// PayloadFor builds a payload from a request and, when known, its file.
func PayloadFor(eventType EventType, req *types.UploadRequest, fm *types.FileMetadata) *Payload {
	p := &Payload{
		EventName:       string(eventType),
		UploadRequestID: req.ID,
		ClientID:        req.ClientID,
		UploadID:        req.UploadID,
		FileMetadataID:  req.FileMetadataID,
		Checksum:        req.Checksum,
		Size:            req.FileSize,
		ContentType:     req.ContentType,
		Attempt:         req.AttemptCount,
		Error:           req.ErrorMessage,
	}
	if fm != nil {
		p.FileMetadataID = fm.ID
		p.Bucket = fm.Storage.Bucket
		p.Key = fm.Storage.Key
		p.Size = fm.Size
	}
	return p
}

// Event is the wire format delivered to publishers.
type Event struct {
	SpecVersion string    `json:"specversion"`
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Type        string    `json:"type"`
	Time        time.Time `json:"time"`
	Subject     string    `json:"subject"`
	Data        EventData `json:"data"`
}

// EventData is the body of an Event.
type EventData struct {
	UploadRequestID string `json:"uploadRequestId"`
	ClientID        string `json:"clientId"`
	UploadID        string `json:"uploadId"`
	FileMetadataID  string `json:"fileMetadataId,omitempty"`
	Checksum        string `json:"checksum,omitempty"`
	Size            int64  `json:"size,omitempty"`
	ContentType     string `json:"contentType,omitempty"`
	Bucket          string `json:"bucket,omitempty"`
	Key             string `json:"key,omitempty"`
	Attempt         int    `json:"attempt,omitempty"`
	Error           string `json:"error,omitempty"`
}

// BuildEvent converts a queued payload into its delivered form.
func BuildEvent(p *Payload, source string) *Event {
	return &Event{
		SpecVersion: "1.0",
		ID:          p.Sequencer,
		Source:      source,
		Type:        p.EventName,
		Time:        time.UnixMilli(p.Timestamp).UTC(),
		Subject:     p.ClientID + "/" + p.UploadID,
		Data: EventData{
			UploadRequestID: p.UploadRequestID,
			ClientID:        p.ClientID,
			UploadID:        p.UploadID,
			FileMetadataID:  p.FileMetadataID,
			Checksum:        p.Checksum,
			Size:            p.Size,
			ContentType:     p.ContentType,
			Bucket:          p.Bucket,
			Key:             p.Key,
			Attempt:         p.Attempt,
			Error:           p.Error,
		},
	}
}

// MatchesEventType checks if an event name matches an event type pattern.
// A trailing '*' matches any suffix ("upload.*" matches "upload.failed").
func MatchesEventType(pattern EventType, eventName string) bool {
	p := string(pattern)
	if p == eventName {
		return true
	}
	if prefix, ok := strings.CutSuffix(p, "*"); ok {
		return strings.HasPrefix(eventName, prefix)
	}
	return false
}
