package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/RMahshie/dosefit/internal/repository"
	"github.com/RMahshie/dosefit/pkg/models"
)

// PostgresAnalysisRepository implements AnalysisRepository for PostgreSQL
type PostgresAnalysisRepository struct {
	db *sql.DB
}

// NewPostgresAnalysisRepository creates a new PostgreSQL analysis repository
func NewPostgresAnalysisRepository(db *sql.DB) repository.AnalysisRepository {
	return &PostgresAnalysisRepository{db: db}
}

const analysisColumns = `id, project, name, status, progress, dataset_key, report_key, error_message, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*models.Analysis, error) {
	var analysis models.Analysis
	var datasetKey, reportKey, errorMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&analysis.ID,
		&analysis.Project,
		&analysis.Name,
		&analysis.Status,
		&analysis.Progress,
		&datasetKey,
		&reportKey,
		&errorMsg,
		&analysis.CreatedAt,
		&analysis.UpdatedAt,
		&completedAt)
	if err != nil {
		return nil, err
	}

	if datasetKey.Valid {
		analysis.DatasetKey = &datasetKey.String
	}
	if reportKey.Valid {
		analysis.ReportKey = &reportKey.String
	}
	if errorMsg.Valid {
		analysis.ErrorMsg = &errorMsg.String
	}
	if completedAt.Valid {
		analysis.CompletedAt = &completedAt.Time
	}

	return &analysis, nil
}

// Create inserts a new analysis record
func (r *PostgresAnalysisRepository) Create(ctx context.Context, analysis *models.Analysis) error {
	query := `
		INSERT INTO analyses (id, project, name, status, progress, dataset_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		analysis.ID,
		analysis.Project,
		analysis.Name,
		analysis.Status,
		analysis.Progress,
		analysis.DatasetKey,
		analysis.CreatedAt,
		analysis.UpdatedAt)

	return err
}

// GetByID retrieves an analysis by ID
func (r *PostgresAnalysisRepository) GetByID(ctx context.Context, id string) (*models.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE id = $1`

	analysis, err := scanAnalysis(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis %s: %w", id, repository.ErrNotFound)
	}

	return analysis, err
}

// GetByProject retrieves the analyses of a project, newest first
func (r *PostgresAnalysisRepository) GetByProject(ctx context.Context, project string) ([]*models.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE project = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var analyses []*models.Analysis
	for rows.Next() {
		analysis, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, analysis)
	}

	return analyses, rows.Err()
}

// UpdateStatus updates the status and progress of an analysis
func (r *PostgresAnalysisRepository) UpdateStatus(ctx context.Context, id string, status string, progress int) error {
	query := `
		UPDATE analyses
		SET status = $1, progress = $2, updated_at = NOW(),
		    completed_at = CASE WHEN $1 = 'completed' THEN NOW() ELSE completed_at END
		WHERE id = $3`

	return r.execOne(ctx, id, query, status, progress, id)
}

// UpdateError marks an analysis failed with an error message
func (r *PostgresAnalysisRepository) UpdateError(ctx context.Context, id string, errorMsg string) error {
	query := `
		UPDATE analyses
		SET status = 'failed', error_message = $1, updated_at = NOW()
		WHERE id = $2`

	return r.execOne(ctx, id, query, errorMsg, id)
}

// SetReportKey records where the rendered CSV report is stored
func (r *PostgresAnalysisRepository) SetReportKey(ctx context.Context, id string, key string) error {
	query := `UPDATE analyses SET report_key = $1, updated_at = NOW() WHERE id = $2`

	return r.execOne(ctx, id, query, key, id)
}

func (r *PostgresAnalysisRepository) execOne(ctx context.Context, id string, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("analysis %s: %w", id, repository.ErrNotFound)
	}

	return nil
}

// StoreResults replaces the results of an analysis in one transaction
func (r *PostgresAnalysisRepository) StoreResults(ctx context.Context, results *models.AnalysisResults) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Reprocessing overwrites earlier results
	for _, table := range []string{"analysis_results", "selection_records", "rejections", "target_curves"} {
		if _, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE analysis_id = $1`, results.AnalysisID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO analysis_results (id, analysis_id, created_at) VALUES ($1, $2, $3)`,
		results.ID, results.AnalysisID, results.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert results: %w", err)
	}

	for _, rec := range results.Records {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO selection_records (analysis_id, row_id, model, target, p_value, aic, total_se, ed10, ed10_se)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			results.AnalysisID, rec.ID, rec.Model, rec.Target, rec.P, rec.AIC, rec.TotalSE, rec.ED10, rec.ED10SE)
		if err != nil {
			return fmt.Errorf("failed to insert record for %s: %w", rec.Target, err)
		}
	}

	for _, rej := range results.Rejections {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO rejections (analysis_id, target, reason) VALUES ($1, $2, $3)`,
			results.AnalysisID, rej.Target, rej.Reason)
		if err != nil {
			return fmt.Errorf("failed to insert rejection for %s: %w", rej.Target, err)
		}
	}

	for _, c := range results.Curves {
		var points []byte
		points, err = json.Marshal(c.Points)
		if err != nil {
			return fmt.Errorf("failed to marshal curve for %s: %w", c.Target, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO target_curves (analysis_id, target, model, response_unit, points)
			VALUES ($1, $2, $3, $4, $5)`,
			results.AnalysisID, c.Target, c.Model, c.ResponseUnit, string(points))
		if err != nil {
			return fmt.Errorf("failed to insert curve for %s: %w", c.Target, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}

	return nil
}

// GetResults retrieves the selection table and rejections of an analysis.
// Curves are fetched one target at a time with GetCurve.
func (r *PostgresAnalysisRepository) GetResults(ctx context.Context, analysisID string) (*models.AnalysisResults, error) {
	results := models.AnalysisResults{AnalysisID: analysisID}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM analysis_results WHERE analysis_id = $1`, analysisID,
	).Scan(&results.ID, &results.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("results of %s: %w", analysisID, repository.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT row_id, model, target, p_value, aic, total_se, ed10, ed10_se
		FROM selection_records
		WHERE analysis_id = $1
		ORDER BY row_id`, analysisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.SelectionRecord
		var totalSE, ed10, ed10SE sql.NullFloat64
		if err := rows.Scan(&rec.ID, &rec.Model, &rec.Target, &rec.P, &rec.AIC, &totalSE, &ed10, &ed10SE); err != nil {
			return nil, err
		}
		rec.TotalSE = nullFloat(totalSE)
		rec.ED10 = nullFloat(ed10)
		rec.ED10SE = nullFloat(ed10SE)
		results.Records = append(results.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rejRows, err := r.db.QueryContext(ctx,
		`SELECT target, reason FROM rejections WHERE analysis_id = $1 ORDER BY target`, analysisID)
	if err != nil {
		return nil, err
	}
	defer rejRows.Close()

	for rejRows.Next() {
		var rej models.Rejection
		if err := rejRows.Scan(&rej.Target, &rej.Reason); err != nil {
			return nil, err
		}
		results.Rejections = append(results.Rejections, rej)
	}

	return &results, rejRows.Err()
}

// GetCurve retrieves the prediction curve of one target
func (r *PostgresAnalysisRepository) GetCurve(ctx context.Context, analysisID string, target string) (*models.TargetCurve, error) {
	query := `
		SELECT target, model, response_unit, points
		FROM target_curves
		WHERE analysis_id = $1 AND target = $2`

	var curve models.TargetCurve
	var points []byte
	err := r.db.QueryRowContext(ctx, query, analysisID, target).Scan(
		&curve.Target,
		&curve.Model,
		&curve.ResponseUnit,
		&points)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("curve %s of %s: %w", target, analysisID, repository.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(points, &curve.Points); err != nil {
		return nil, fmt.Errorf("failed to unmarshal curve points: %w", err)
	}

	return &curve, nil
}

// Delete removes an analysis; results cascade
func (r *PostgresAnalysisRepository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, id, `DELETE FROM analyses WHERE id = $1`, id)
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
