package dto

import "time"

type IngestEventRequest struct {
	ID           string     `json:"id" binding:"required"`
	Kind         string     `json:"kind" binding:"required"`
	AuthorHandle string     `json:"author_handle" binding:"required"`
	Text         string     `json:"text"`
	ParentID     string     `json:"parent_id,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
}

type IngestEventResponse struct {
	ID       string `json:"id"`
	StreamID string `json:"stream_id"`
}
