package selection

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/RMahshie/dosefit/internal/curve"
	"github.com/RMahshie/dosefit/internal/dataset"
	"github.com/RMahshie/dosefit/pkg/models"
)

// ErrNoAdequateModel means every candidate model was excluded for a target.
var ErrNoAdequateModel = errors.New("no adequate model")

// Config holds model selection settings
type Config struct {
	// Candidates are tried in this order; on equal AIC the earlier one wins.
	Candidates []curve.Kind
	// AdequacyThreshold is the lack-of-fit p-value a candidate must strictly exceed.
	AdequacyThreshold float64
	// EffectPercent is the p of EDp; the output table reports it as ED10.
	EffectPercent float64
	// MaxEffectiveDose bounds accepted ED roots; 0 means unbounded.
	MaxEffectiveDose float64
	// ZeroDoseOffset replaces zero doses for log-dose models when > 0.
	ZeroDoseOffset float64
	Fit            curve.FitOptions
	// Curve grid and confidence band.
	GridMin         float64
	GridMax         float64
	GridPoints      int
	ConfidenceLevel float64
	// Workers caps concurrently processed targets; 0 means GOMAXPROCS.
	Workers int
}

// DefaultConfig returns the reference pipeline settings.
func DefaultConfig() Config {
	return Config{
		Candidates:        curve.Kinds(),
		AdequacyThreshold: 0.01,
		EffectPercent:     10,
		Fit:               curve.DefaultFitOptions(),
		GridMin:           0.001,
		GridMax:           80,
		GridPoints:        100,
		ConfidenceLevel:   0.95,
	}
}

// Candidate is one model family tried on one target.
type Candidate struct {
	Kind     curve.Kind
	Fit      *curve.FitResult
	Score    curve.Score
	Err      error // fitting or scoring failure; nil for scored candidates
	Adequate bool
}

// Outcome is the terminal state of one target: exactly one of Record and
// Rejection is set.
type Outcome struct {
	Target     string
	Candidates []Candidate
	Selected   *Candidate
	Record     *models.SelectionRecord
	Curve      *models.TargetCurve
	Rejection  *models.Rejection
	Warnings   []string
}

// Report aggregates all targets of a dataset.
type Report struct {
	// Records are sorted by ED10 ascending; records without ED10 come last.
	Records    []models.SelectionRecord
	Rejections []models.Rejection
	Curves     []models.TargetCurve
	Outcomes   []Outcome
}

// Selector fits, scores and ranks candidate models per target
type Selector struct {
	cfg Config
}

// NewSelector creates a selector, filling unset settings from DefaultConfig.
// A zero AdequacyThreshold counts as unset.
func NewSelector(cfg Config) *Selector {
	def := DefaultConfig()
	if len(cfg.Candidates) == 0 {
		cfg.Candidates = def.Candidates
	}
	if cfg.AdequacyThreshold == 0 {
		cfg.AdequacyThreshold = def.AdequacyThreshold
	}
	if cfg.EffectPercent == 0 {
		cfg.EffectPercent = def.EffectPercent
	}
	if cfg.Fit.MaxIterations == 0 {
		cfg.Fit = def.Fit
	}
	if cfg.GridPoints == 0 {
		cfg.GridMin, cfg.GridMax, cfg.GridPoints = def.GridMin, def.GridMax, def.GridPoints
	}
	if cfg.ConfidenceLevel == 0 {
		cfg.ConfidenceLevel = def.ConfidenceLevel
	}

	return &Selector{cfg: cfg}
}

// Config returns the effective settings.
func (s *Selector) Config() Config {
	return s.cfg
}

// Run partitions observations by target, selects a model for every target
// independently and gathers the results. Per-target failures never abort the
// run; only context cancellation does.
func (s *Selector) Run(ctx context.Context, obs []models.Observation) (*Report, error) {
	groups := dataset.Partition(obs)
	outcomes := make([]Outcome, len(groups))

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, grp := range groups {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			outcomes[i] = s.SelectTarget(grp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("model selection interrupted: %w", err)
	}

	report := &Report{Outcomes: outcomes}
	for _, o := range outcomes {
		switch {
		case o.Record != nil:
			report.Records = append(report.Records, *o.Record)
			if o.Curve != nil {
				report.Curves = append(report.Curves, *o.Curve)
			}
		case o.Rejection != nil:
			report.Rejections = append(report.Rejections, *o.Rejection)
		}
	}
	SortRecords(report.Records)

	log.Info().
		Int("targets", len(groups)).
		Int("selected", len(report.Records)).
		Int("rejected", len(report.Rejections)).
		Msg("Model selection finished")

	return report, nil
}

// SelectTarget runs the selection state machine for one target. It only reads
// its argument and returns a fresh Outcome.
func (s *Selector) SelectTarget(grp dataset.Group) Outcome {
	out := Outcome{Target: grp.Target}
	doses := grp.Doses()
	responses := grp.Responses()

	// Step 1-2: fit and score every candidate
	out.Candidates = make([]Candidate, 0, len(s.cfg.Candidates))
	for _, kind := range s.cfg.Candidates {
		out.Candidates = append(out.Candidates, s.evaluateCandidate(grp.Target, kind, doses, responses))
	}

	// Step 3-4: filter by adequacy and rank by AIC; strict < keeps declaration order on ties
	for i := range out.Candidates {
		c := &out.Candidates[i]
		if !c.Adequate {
			continue
		}
		if out.Selected == nil || c.Score.AIC < out.Selected.Score.AIC {
			out.Selected = c
		}
	}

	if out.Selected == nil {
		reason := rejectionReason(out.Candidates, s.cfg.AdequacyThreshold)
		out.Rejection = &models.Rejection{Target: grp.Target, Reason: reason}
		log.Warn().
			Str("target", grp.Target).
			Str("reason", reason).
			Err(ErrNoAdequateModel).
			Msg("Target rejected")
		return out
	}

	// Step 5: effective dose and curve for the winner
	best := out.Selected
	record := &models.SelectionRecord{
		Model:  best.Kind.String(),
		Target: grp.Target,
		P:      best.Score.LackOfFitP,
		AIC:    best.Score.AIC,
	}
	if !math.IsNaN(best.Score.ResidualSE) {
		record.TotalSE = ptr(best.Score.ResidualSE)
	}

	ed, err := curve.EstimateED(best.Fit, s.cfg.EffectPercent, curve.EDOptions{MaxDose: s.cfg.MaxEffectiveDose})
	if err != nil {
		out.Warnings = append(out.Warnings, err.Error())
		log.Warn().
			Str("target", grp.Target).
			Str("model", best.Kind.String()).
			Err(err).
			Msg("Effective dose not estimable, reporting record without it")
	} else {
		record.ED10 = ptr(ed.Dose)
		record.ED10SE = ptr(ed.SE)
	}
	out.Record = record

	points, err := curve.Band(best.Fit, s.Grid(), s.cfg.ConfidenceLevel)
	if err != nil {
		out.Warnings = append(out.Warnings, err.Error())
	} else {
		out.Curve = &models.TargetCurve{
			Target:       grp.Target,
			Model:        best.Kind.String(),
			ResponseUnit: grp.ResponseUnit,
			Points:       points,
		}
	}

	log.Debug().
		Str("target", grp.Target).
		Str("model", record.Model).
		Float64("p", record.P).
		Float64("aic", record.AIC).
		Msg("Target selected")

	return out
}

// Grid returns the dose grid prediction curves are evaluated on.
func (s *Selector) Grid() []float64 {
	return curve.Grid(s.cfg.GridMin, s.cfg.GridMax, s.cfg.GridPoints)
}

// evaluateCandidate fits and scores one model family; failures are recorded
// on the candidate and logged, never returned.
func (s *Selector) evaluateCandidate(target string, kind curve.Kind, doses, responses []float64) Candidate {
	c := Candidate{Kind: kind}
	x := doses
	if kind.RequiresPositiveDose() && s.cfg.ZeroDoseOffset > 0 {
		x = offsetZeroDoses(doses, s.cfg.ZeroDoseOffset)
	}

	fit, err := curve.Fit(kind, x, responses, s.cfg.Fit)
	if err != nil {
		c.Err = err
		log.Info().Str("target", target).Str("model", kind.String()).Err(err).Msg("Candidate fit dropped")
		return c
	}
	c.Fit = fit

	score, err := curve.Evaluate(fit, x)
	c.Score = score
	if err != nil {
		c.Err = err
		log.Info().Str("target", target).Str("model", kind.String()).Err(err).Msg("Candidate excluded from ranking")
		return c
	}

	c.Adequate = score.LackOfFitP > s.cfg.AdequacyThreshold
	return c
}

// rejectionReason summarizes why every candidate was excluded.
func rejectionReason(candidates []Candidate, threshold float64) string {
	parts := make([]string, 0, len(candidates))
	for _, c := range candidates {
		switch {
		case c.Err != nil:
			parts = append(parts, fmt.Sprintf("%s: %v", c.Kind, c.Err))
		default:
			parts = append(parts, fmt.Sprintf("%s: lack-of-fit p=%.4g <= %g", c.Kind, c.Score.LackOfFitP, threshold))
		}
	}
	if len(parts) == 0 {
		return ErrNoAdequateModel.Error()
	}

	return ErrNoAdequateModel.Error() + ": " + strings.Join(parts, "; ")
}

// SortRecords orders records by ED10 ascending, records without ED10 last,
// then by target, and renumbers their IDs from 1.
func SortRecords(records []models.SelectionRecord) {
	slices.SortStableFunc(records, func(a, b models.SelectionRecord) int {
		switch {
		case a.ED10 == nil && b.ED10 == nil:
			return strings.Compare(a.Target, b.Target)
		case a.ED10 == nil:
			return 1
		case b.ED10 == nil:
			return -1
		case *a.ED10 < *b.ED10:
			return -1
		case *a.ED10 > *b.ED10:
			return 1
		default:
			return strings.Compare(a.Target, b.Target)
		}
	})
	for i := range records {
		records[i].ID = i + 1
	}
}

func offsetZeroDoses(doses []float64, offset float64) []float64 {
	out := make([]float64, len(doses))
	for i, x := range doses {
		if x == 0 {
			x = offset
		}
		out[i] = x
	}

	return out
}

func ptr(v float64) *float64 {
	return &v
}
