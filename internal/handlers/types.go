package handlers

import "github.com/Brownie44l1/aidetect-api/internal/score"

// RawRequest carries an already-decoded image as HWC floats in [0, 1].
type RawRequest struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Pixels []float32 `json:"pixels"`
}

type ClassifyResponse struct {
	RequestID string        `json:"request_id"`
	Verdict   score.Verdict `json:"verdict"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	ElapsedMS int64         `json:"elapsed_ms"`
}

type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
}
