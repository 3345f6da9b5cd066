package model

import "time"

// AttachmentRef names one non-body part of a message.
type AttachmentRef struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
}

// Document is the normalized, index-ready form of an archived message.
// Backends decide their own wire representation.
type Document struct {
	ID        string
	Partition string

	MessageID      string
	Path           string
	Headers        []string
	From           []string
	To             []string
	CC             []string
	BCC            []string
	Attachments    []AttachmentRef
	HasAttachments bool
	Subject        string
	// Body is nil when no usable text body was found.
	Body      *string
	Timestamp time.Time
}
