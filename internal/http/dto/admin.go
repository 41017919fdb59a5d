package dto

import "basegraph.app/courier/internal/domain"

type RecordListResponse struct {
	Records []domain.QueueRecord `json:"records"`
	Count   int                  `json:"count"`
}

type DropResponse struct {
	EventID string `json:"event_id"`
	Dropped int    `json:"dropped"`
}
