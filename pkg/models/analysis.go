package models

import (
	"time"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Body struct {
		Status  string    `json:"status" example:"healthy" doc:"Service health status"`
		Version string    `json:"version" example:"1.0.0" doc:"API version"`
		Time    time.Time `json:"time" doc:"Current server time"`
	}
}

// CreateAnalysisRequestBody is the body of the create analysis request
type CreateAnalysisRequestBody struct {
	Project  string `json:"project" minLength:"1" maxLength:"100" required:"true" doc:"Study or project the dataset belongs to"`
	Name     string `json:"name" maxLength:"200" doc:"Human-readable analysis name"`
	FileSize int64  `json:"file_size" minimum:"1" maximum:"10485760" required:"true" doc:"Dataset file size in bytes"`
	MimeType string `json:"mime_type" enum:"text/csv,application/csv" required:"true" doc:"Dataset MIME type"`
}

// CreateAnalysisRequest represents a request to create a new analysis
type CreateAnalysisRequest struct {
	Body CreateAnalysisRequestBody
}

// CreateAnalysisResponseBody is the body of the create analysis response
type CreateAnalysisResponseBody struct {
	ID        string `json:"id" doc:"Analysis unique identifier"`
	UploadURL string `json:"upload_url" doc:"Pre-signed URL for the dataset upload"`
	ExpiresIn int    `json:"expires_in" doc:"URL expiration time in seconds"`
}

// CreateAnalysisResponse represents the response from creating an analysis
type CreateAnalysisResponse struct {
	Body CreateAnalysisResponseBody
}

// ListAnalysesRequest lists the analyses of a project
type ListAnalysesRequest struct {
	Project string `query:"project" required:"true" doc:"Project name"`
}

// ListAnalysesResponse returns analyses newest first
type ListAnalysesResponse struct {
	Body struct {
		Analyses []*Analysis `json:"analyses" doc:"Analyses of the project"`
	}
}

// GetAnalysisStatusRequest represents a request to get analysis status
type GetAnalysisStatusRequest struct {
	ID string `path:"id" doc:"Analysis ID"`
}

// GetAnalysisStatusResponseBody is the body of the status response
type GetAnalysisStatusResponseBody struct {
	ID        string  `json:"id" doc:"Analysis ID"`
	Status    string  `json:"status" enum:"pending,processing,completed,failed" doc:"Analysis status"`
	Progress  int     `json:"progress" minimum:"0" maximum:"100" doc:"Analysis progress percentage"`
	Message   string  `json:"message,omitempty" doc:"Human-readable status message"`
	Error     *string `json:"error,omitempty" doc:"Failure reason"`
	ResultsID *string `json:"results_id,omitempty" doc:"Results ID when analysis completes"`
}

// GetAnalysisStatusResponse represents the current status of an analysis
type GetAnalysisStatusResponse struct {
	Body GetAnalysisStatusResponseBody
}

// GetAnalysisResultsRequest represents a request to get analysis results
type GetAnalysisResultsRequest struct {
	ID string `path:"id" doc:"Analysis ID"`
}

// GetAnalysisResultsResponseBody is the body of the results response
type GetAnalysisResultsResponseBody struct {
	ID         string            `json:"id" doc:"Results ID"`
	Records    []SelectionRecord `json:"records" doc:"Selected model per target, sorted by ED10"`
	Rejections []Rejection       `json:"rejections" doc:"Targets without an adequate model"`
	ReportURL  string            `json:"report_url,omitempty" doc:"Pre-signed URL of the CSV report"`
	CreatedAt  time.Time         `json:"created_at" doc:"Results creation timestamp"`
}

// GetAnalysisResultsResponse represents the complete analysis results
type GetAnalysisResultsResponse struct {
	Body GetAnalysisResultsResponseBody
}

// GetTargetCurveRequest requests the prediction curve of one target
type GetTargetCurveRequest struct {
	ID     string `path:"id" doc:"Analysis ID"`
	Target string `path:"target" doc:"Target identifier"`
}

// GetTargetCurveResponse returns the prediction curve of one target
type GetTargetCurveResponse struct {
	Body *TargetCurve
}

// StartProcessingRequest represents a request to start processing an uploaded dataset
type StartProcessingRequest struct {
	ID string `path:"id" doc:"Analysis ID"`
}

// StartProcessingResponse represents the response from starting processing
type StartProcessingResponse struct {
	Body struct {
		Message string `json:"message" doc:"Confirmation message"`
	}
}

// DeleteAnalysisRequest deletes an analysis and its stored objects
type DeleteAnalysisRequest struct {
	ID string `path:"id" doc:"Analysis ID"`
}
