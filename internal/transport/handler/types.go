package handler

import "github.com/petmatch/dispatchhub/internal/entities"

// Item selection happens upstream in the API layer; these bodies carry
// the already-selected lists. Item-level shape checks belong to the
// producer and the queue sender, not the HTTP edge.

type ScreenshotDispatchRequest struct {
	Source string                    `json:"source" validate:"required,max=64"`
	Items  []entities.ScreenshotItem `json:"items"`
}

type ConversionDispatchRequest struct {
	Source string                    `json:"source" validate:"required,max=64"`
	Items  []entities.ConversionItem `json:"items"`
}

type CrawlerDispatchRequest struct {
	Source string `json:"source" validate:"required,max=64"`
}

type DispatchResponse struct {
	Success   bool   `json:"success"`
	BatchID   string `json:"batchId,omitempty"`
	ItemCount int    `json:"itemCount"`
	Skipped   int    `json:"skipped,omitempty"`
}
