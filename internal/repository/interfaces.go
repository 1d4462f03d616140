package repository

import (
	"context"
	"errors"

	"github.com/RMahshie/dosefit/pkg/models"
)

// ErrNotFound is returned when a requested analysis, result set or curve does not exist
var ErrNotFound = errors.New("not found")

// AnalysisRepository defines the interface for analysis data operations
type AnalysisRepository interface {
	Create(ctx context.Context, analysis *models.Analysis) error
	GetByID(ctx context.Context, id string) (*models.Analysis, error)
	GetByProject(ctx context.Context, project string) ([]*models.Analysis, error)
	UpdateStatus(ctx context.Context, id string, status string, progress int) error
	UpdateError(ctx context.Context, id string, errorMsg string) error
	SetReportKey(ctx context.Context, id string, key string) error
	StoreResults(ctx context.Context, results *models.AnalysisResults) error
	GetResults(ctx context.Context, analysisID string) (*models.AnalysisResults, error)
	GetCurve(ctx context.Context, analysisID string, target string) (*models.TargetCurve, error)
	Delete(ctx context.Context, id string) error
}
