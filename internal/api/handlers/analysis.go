package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/RMahshie/dosefit/internal/processing"
	"github.com/RMahshie/dosefit/internal/repository"
	"github.com/RMahshie/dosefit/internal/storage"
	"github.com/RMahshie/dosefit/pkg/models"
)

// AnalysisHandler handles analysis-related HTTP requests
type AnalysisHandler struct {
	repo          repository.AnalysisRepository
	s3Service     storage.S3Service
	processingSvc processing.ProcessingService
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(repo repository.AnalysisRepository, s3Service storage.S3Service, processingSvc processing.ProcessingService) *AnalysisHandler {
	return &AnalysisHandler{
		repo:          repo,
		s3Service:     s3Service,
		processingSvc: processingSvc,
	}
}

// CreateAnalysis creates a new analysis and returns a dataset upload URL
func (h *AnalysisHandler) CreateAnalysis(ctx context.Context, req *models.CreateAnalysisRequest) (*models.CreateAnalysisResponse, error) {
	analysisID := uuid.New().String()
	datasetKey := fmt.Sprintf("datasets/%s.csv", analysisID)

	log.Info().
		Str("analysisID", analysisID).
		Str("project", req.Body.Project).
		Int64("fileSize", req.Body.FileSize).
		Msg("Creating new analysis")

	uploadURL, err := h.s3Service.GenerateUploadURL(ctx, datasetKey, req.Body.MimeType)
	if err != nil {
		if strings.Contains(err.Error(), "invalid content type") {
			return nil, huma.Error400BadRequest("Dataset must be a CSV file", err)
		}
		return nil, huma.Error500InternalServerError("Failed to prepare upload", err)
	}

	now := time.Now()
	analysis := &models.Analysis{
		ID:         analysisID,
		Project:    req.Body.Project,
		Name:       req.Body.Name,
		Status:     models.StatusPending,
		Progress:   0,
		DatasetKey: &datasetKey,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.repo.Create(ctx, analysis); err != nil {
		return nil, huma.Error500InternalServerError("Failed to create analysis", err)
	}

	return &models.CreateAnalysisResponse{
		Body: models.CreateAnalysisResponseBody{
			ID:        analysis.ID,
			UploadURL: uploadURL,
			ExpiresIn: int(storage.UploadURLExpiry.Seconds()),
		},
	}, nil
}

// ListAnalyses returns the analyses of a project
func (h *AnalysisHandler) ListAnalyses(ctx context.Context, req *models.ListAnalysesRequest) (*models.ListAnalysesResponse, error) {
	analyses, err := h.repo.GetByProject(ctx, req.Project)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list analyses", err)
	}

	resp := &models.ListAnalysesResponse{}
	resp.Body.Analyses = analyses
	if resp.Body.Analyses == nil {
		resp.Body.Analyses = []*models.Analysis{}
	}

	return resp, nil
}

// GetAnalysisStatus returns the current status of an analysis
func (h *AnalysisHandler) GetAnalysisStatus(ctx context.Context, req *models.GetAnalysisStatusRequest) (*models.GetAnalysisStatusResponse, error) {
	analysis, err := h.lookup(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	var resultsID *string
	if analysis.Status == models.StatusCompleted {
		results, err := h.repo.GetResults(ctx, analysis.ID)
		if err == nil && results != nil {
			resultsID = &results.ID
		}
	}

	return &models.GetAnalysisStatusResponse{
		Body: models.GetAnalysisStatusResponseBody{
			ID:        analysis.ID,
			Status:    analysis.Status,
			Progress:  analysis.Progress,
			Message:   statusMessage(analysis.Status, analysis.Progress),
			Error:     analysis.ErrorMsg,
			ResultsID: resultsID,
		},
	}, nil
}

// GetAnalysisResults returns the selection table, the rejected targets and a
// download link for the CSV report
func (h *AnalysisHandler) GetAnalysisResults(ctx context.Context, req *models.GetAnalysisResultsRequest) (*models.GetAnalysisResultsResponse, error) {
	analysis, err := h.lookup(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if analysis.Status != models.StatusCompleted {
		return nil, huma.Error409Conflict("Analysis not yet completed",
			fmt.Errorf("analysis status is %s", analysis.Status))
	}

	results, err := h.repo.GetResults(ctx, analysis.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to get results", err)
	}

	body := models.GetAnalysisResultsResponseBody{
		ID:         results.ID,
		Records:    results.Records,
		Rejections: results.Rejections,
		CreatedAt:  results.CreatedAt,
	}
	if body.Records == nil {
		body.Records = []models.SelectionRecord{}
	}
	if body.Rejections == nil {
		body.Rejections = []models.Rejection{}
	}
	if analysis.ReportKey != nil {
		url, err := h.s3Service.GenerateDownloadURL(ctx, *analysis.ReportKey)
		if err != nil {
			log.Warn().Err(err).Str("analysisID", analysis.ID).Msg("Report URL unavailable")
		} else {
			body.ReportURL = url
		}
	}

	return &models.GetAnalysisResultsResponse{Body: body}, nil
}

// GetTargetCurve returns the fitted curve and confidence band of one target
func (h *AnalysisHandler) GetTargetCurve(ctx context.Context, req *models.GetTargetCurveRequest) (*models.GetTargetCurveResponse, error) {
	analysis, err := h.lookup(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	curve, err := h.repo.GetCurve(ctx, analysis.ID, req.Target)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, huma.Error404NotFound("No curve for target", err)
		}
		return nil, huma.Error500InternalServerError("Failed to get curve", err)
	}

	return &models.GetTargetCurveResponse{Body: curve}, nil
}

// StartProcessing starts processing an uploaded dataset
func (h *AnalysisHandler) StartProcessing(ctx context.Context, req *models.StartProcessingRequest) (*models.StartProcessingResponse, error) {
	analysis, err := h.lookup(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if analysis.Status == models.StatusProcessing {
		return nil, huma.Error409Conflict("Analysis is already processing")
	}

	// Start processing in background (don't wait for completion)
	analysisID := analysis.ID
	log.Info().Str("analysisID", analysisID).Msg("Starting background processing goroutine")
	go func() {
		if err := h.processingSvc.ProcessAnalysis(context.Background(), analysisID); err != nil {
			log.Error().Err(err).Str("analysisID", analysisID).Msg("Processing failed")
			if uerr := h.repo.UpdateError(context.Background(), analysisID, fmt.Sprintf("Processing failed: %v", err)); uerr != nil {
				log.Error().Err(uerr).Str("analysisID", analysisID).Msg("Failed to record processing error")
			}
		}
	}()

	resp := &models.StartProcessingResponse{}
	resp.Body.Message = "Processing started successfully"
	return resp, nil
}

// DeleteAnalysis removes an analysis, its results and its stored objects
func (h *AnalysisHandler) DeleteAnalysis(ctx context.Context, req *models.DeleteAnalysisRequest) (*struct{}, error) {
	analysis, err := h.lookup(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if analysis.Status == models.StatusProcessing {
		return nil, huma.Error409Conflict("Analysis is processing")
	}

	for _, key := range []*string{analysis.DatasetKey, analysis.ReportKey} {
		if key == nil {
			continue
		}
		if err := h.s3Service.DeleteFile(ctx, *key); err != nil {
			log.Warn().Err(err).Str("key", *key).Msg("Failed to delete stored object")
		}
	}

	if err := h.repo.Delete(ctx, analysis.ID); err != nil {
		return nil, huma.Error500InternalServerError("Failed to delete analysis", err)
	}

	return &struct{}{}, nil
}

// lookup validates an analysis ID and loads the analysis
func (h *AnalysisHandler) lookup(ctx context.Context, id string) (*models.Analysis, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, huma.Error400BadRequest("Invalid analysis ID", err)
	}

	analysis, err := h.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, huma.Error404NotFound("Analysis not found", err)
		}
		return nil, huma.Error500InternalServerError("Failed to load analysis", err)
	}

	return analysis, nil
}

// statusMessage creates a human-readable status message
func statusMessage(status string, progress int) string {
	switch status {
	case models.StatusPending:
		return "Waiting for dataset upload..."
	case models.StatusProcessing:
		switch {
		case progress < 40:
			return "Downloading dataset..."
		case progress < 60:
			return "Parsing dataset..."
		case progress < 80:
			return "Fitting dose-response models..."
		default:
			return "Finalizing results..."
		}
	case models.StatusCompleted:
		return "Analysis complete!"
	case models.StatusFailed:
		return "Analysis failed."
	default:
		return "Unknown status"
	}
}
