package model

import "time"

// Transcript upload methods.
const (
	UploadMethodFile  = "file"
	UploadMethodPaste = "paste"
)

// Transcript is the raw buyer-call text the pipeline starts from.
type Transcript struct {
	ID           int64     `json:"id"`
	ClientID     *int64    `json:"client_id,omitempty"`
	Filename     string    `json:"filename,omitempty"`
	RawText      string    `json:"raw_text"`
	UploadMethod string    `json:"upload_method"`
	CreatedAt    time.Time `json:"created_at"`
}
