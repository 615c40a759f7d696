package model

// ProgressStatus is the lifecycle stage a progress event reports.
type ProgressStatus string

const (
	StatusProcessing ProgressStatus = "processing"
	StatusComplete   ProgressStatus = "complete"
	StatusError      ProgressStatus = "error"
)

// ProgressEvent is a transient notification about one module run. It is
// never persisted.
type ProgressEvent struct {
	Type    string         `json:"type"`
	Module  Module         `json:"module"`
	Status  ProgressStatus `json:"status"`
	AssetID string         `json:"assetId"`
	Error   string         `json:"error,omitempty"`
}

// NewProgressEvent builds a progress event with the wire type set.
func NewProgressEvent(assetID string, module Module, status ProgressStatus, errMsg string) ProgressEvent {
	return ProgressEvent{
		Type:    "progress",
		Module:  module,
		Status:  status,
		AssetID: assetID,
		Error:   errMsg,
	}
}
