package processing

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/RMahshie/dosefit/internal/dataset"
	"github.com/RMahshie/dosefit/internal/report"
	"github.com/RMahshie/dosefit/internal/repository"
	"github.com/RMahshie/dosefit/internal/selection"
	"github.com/RMahshie/dosefit/internal/storage"
	"github.com/RMahshie/dosefit/pkg/models"
)

type ProcessingService interface {
	ProcessAnalysis(ctx context.Context, analysisID string) error
}

type processingService struct {
	s3         storage.S3Service
	repository repository.AnalysisRepository
	selector   *selection.Selector
}

func NewProcessingService(s3Service storage.S3Service, repo repository.AnalysisRepository, selector *selection.Selector) ProcessingService {
	return &processingService{
		s3:         s3Service,
		repository: repo,
		selector:   selector,
	}
}

// ReportKey is the object key of the CSV report of an analysis
func ReportKey(analysisID string) string {
	return fmt.Sprintf("reports/%s.csv", analysisID)
}

func (s *processingService) ProcessAnalysis(ctx context.Context, analysisID string) error {
	logger := log.With().Str("analysis_id", analysisID).Logger()

	// Step 1: Update to processing status
	if err := s.repository.UpdateStatus(ctx, analysisID, models.StatusProcessing, 10); err != nil {
		return err
	}

	analysis, err := s.repository.GetByID(ctx, analysisID)
	if err != nil {
		return err
	}
	if analysis.DatasetKey == nil {
		s.fail(ctx, analysisID, "Analysis has no dataset")
		return nil
	}

	// Step 2: Download dataset
	if err := s.repository.UpdateStatus(ctx, analysisID, models.StatusProcessing, 20); err != nil {
		return err
	}
	data, err := s.s3.DownloadFile(ctx, *analysis.DatasetKey)
	if err != nil {
		logger.Error().Err(err).Str("dataset_key", *analysis.DatasetKey).Msg("Dataset download failed")
		s.fail(ctx, analysisID, "Failed to download dataset")
		return nil // Don't return error, status is updated to failed
	}

	// Step 3: Parse
	if err := s.repository.UpdateStatus(ctx, analysisID, models.StatusProcessing, 40); err != nil {
		return err
	}
	obs, err := dataset.ParseCSV(bytes.NewReader(data))
	if err != nil {
		logger.Warn().Err(err).Msg("Dataset rejected")
		s.fail(ctx, analysisID, err.Error())
		return nil
	}

	// Step 4: Fit and select models per target
	if err := s.repository.UpdateStatus(ctx, analysisID, models.StatusProcessing, 60); err != nil {
		return err
	}
	start := time.Now()
	result, err := s.selector.Run(ctx, obs)
	if err != nil {
		s.fail(ctx, analysisID, err.Error())
		return err
	}
	logger.Info().
		Int("observations", len(obs)).
		Int("records", len(result.Records)).
		Int("rejections", len(result.Rejections)).
		Dur("elapsed", time.Since(start)).
		Msg("Model selection complete")

	// Step 5: Render and upload the report
	if err := s.repository.UpdateStatus(ctx, analysisID, models.StatusProcessing, 80); err != nil {
		return err
	}
	csvData, err := report.Render(result.Records)
	if err != nil {
		s.fail(ctx, analysisID, "Failed to render report")
		return err
	}
	key := ReportKey(analysisID)
	if err := s.s3.UploadFile(ctx, key, "text/csv", csvData); err != nil {
		s.fail(ctx, analysisID, "Failed to upload report")
		return err
	}
	if err := s.repository.SetReportKey(ctx, analysisID, key); err != nil {
		return err
	}

	// Step 6: Store results
	if err := s.repository.UpdateStatus(ctx, analysisID, models.StatusProcessing, 90); err != nil {
		return err
	}
	results := &models.AnalysisResults{
		ID:         uuid.New().String(),
		AnalysisID: analysisID,
		Records:    result.Records,
		Rejections: result.Rejections,
		Curves:     result.Curves,
		CreatedAt:  time.Now(),
	}
	if err := s.repository.StoreResults(ctx, results); err != nil {
		s.fail(ctx, analysisID, "Failed to store results")
		return err
	}

	// Step 7: Mark complete
	return s.repository.UpdateStatus(ctx, analysisID, models.StatusCompleted, 100)
}

func (s *processingService) fail(ctx context.Context, analysisID, msg string) {
	if err := s.repository.UpdateError(ctx, analysisID, msg); err != nil {
		log.Error().Err(err).Str("analysis_id", analysisID).Msg("Failed to record analysis error")
	}
}
