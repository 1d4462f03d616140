package models

import (
	"time"
)

// Analysis statuses
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Analysis represents one dose-response analysis job (for internal use)
type Analysis struct {
	ID          string     `json:"id"`
	Project     string     `json:"project"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	DatasetKey  *string    `json:"dataset_key,omitempty"`
	ReportKey   *string    `json:"report_key,omitempty"`
	ErrorMsg    *string    `json:"error_message,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SelectionRecord is the best model chosen for one target.
// Statistics that could not be computed are nil rather than reported.
type SelectionRecord struct {
	ID      int      `json:"id" doc:"Row number in the ED10-sorted table"`
	Model   string   `json:"model" doc:"Selected model"`
	Target  string   `json:"target" doc:"Target identifier"`
	P       float64  `json:"p" doc:"Lack-of-fit p-value"`
	AIC     float64  `json:"aic" doc:"Akaike information criterion"`
	TotalSE *float64 `json:"total_se,omitempty" doc:"Residual standard error"`
	ED10    *float64 `json:"ed10,omitempty" doc:"Dose producing a 10% effect"`
	ED10SE  *float64 `json:"ed10_se,omitempty" doc:"Delta-method standard error of ED10"`
}

// Rejection names a target for which no model passed the adequacy filter
type Rejection struct {
	Target string `json:"target" doc:"Target identifier"`
	Reason string `json:"reason" doc:"Why every candidate model was excluded"`
}

// AnalysisResults represents the stored results of a completed analysis
type AnalysisResults struct {
	ID         string            `json:"id"`
	AnalysisID string            `json:"analysis_id"`
	Records    []SelectionRecord `json:"records"`
	Rejections []Rejection       `json:"rejections"`
	Curves     []TargetCurve     `json:"curves,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
