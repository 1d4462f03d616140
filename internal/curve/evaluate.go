package curve

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Score holds the goodness-of-fit diagnostics of one fit.
// Undefined statistics are NaN.
type Score struct {
	Kind       Kind
	N          int
	DoseLevels int
	RSS        float64
	LackOfFitP float64
	AIC        float64
	ResidualSE float64
}

// Evaluate scores a fit against the doses it was fitted on.
//
// The lack-of-fit p-value is the upper tail of an F-test comparing the fit's
// RSS with the pure-error RSS of a saturated model holding one mean per
// distinct dose, on (k - |θ|, n - k) degrees of freedom. AIC uses the Gaussian
// approximation n·ln(RSS/n) + 2(|θ|+1), with RSS floored at minRSS.
//
// A Score is always returned. When the p-value or the residual standard error
// cannot be computed, the field is NaN and the returned error wraps
// ErrUndefinedStatistic.
func Evaluate(fit *FitResult, doses []float64) (Score, error) {
	n := fit.N()
	p := fit.Kind.ParamCount()
	if len(doses) != n {
		return Score{}, fmt.Errorf("mismatched data lengths: %d doses vs %d residuals", len(doses), n)
	}

	levels := doseLevels(doses, fit.Residuals)
	score := Score{
		Kind:       fit.Kind,
		N:          n,
		DoseLevels: len(levels),
		RSS:        fit.RSS,
		AIC:        aic(fit.RSS, n, p),
		LackOfFitP: math.NaN(),
		ResidualSE: math.NaN(),
	}

	var errs []error
	if n > p {
		score.ResidualSE = math.Sqrt(fit.RSS / float64(n-p))
	} else {
		errs = append(errs, fmt.Errorf("%w: residual SE of %s needs more than %d observations, got %d",
			ErrUndefinedStatistic, fit.Kind, p, n))
	}

	pv, err := lackOfFit(fit, doses, levels)
	if err != nil {
		errs = append(errs, err)
	} else {
		score.LackOfFitP = pv
	}

	return score, errors.Join(errs...)
}

// minRSS keeps the AIC of an exact fit finite.
const minRSS = 1e-300

func aic(rss float64, n, p int) float64 {
	return float64(n)*math.Log(math.Max(rss, minRSS)/float64(n)) + 2*float64(p+1)
}

// lackOfFit runs the F-test against the saturated one-mean-per-dose model.
// Predictions are constant within a dose level, so the pure-error sum of
// squares can be taken over the residuals.
func lackOfFit(fit *FitResult, doses []float64, levels []level) (float64, error) {
	n := fit.N()
	p := fit.Kind.ParamCount()
	k := len(levels)
	if k <= p {
		return math.NaN(), fmt.Errorf("%w: lack-of-fit of %s needs more than %d dose levels, got %d",
			ErrUndefinedStatistic, fit.Kind, p, k)
	}
	if n <= k {
		return math.NaN(), fmt.Errorf("%w: lack-of-fit of %s needs replicated doses",
			ErrUndefinedStatistic, fit.Kind)
	}

	means := make(map[float64]float64, k)
	for _, l := range levels {
		means[l.dose] = l.mean
	}
	var pureErr float64
	for i, x := range doses {
		dev := fit.Residuals[i] - means[x]
		pureErr += dev * dev
	}
	lof := math.Max(fit.RSS-pureErr, 0)

	// Exact replicates leave no error to test against.
	if pureErr <= 1e-12*math.Max(fit.RSS, 1e-300) {
		if lof <= 1e-12*math.Max(fit.RSS, 1) {
			return 1, nil
		}
		return 0, nil
	}

	df1 := float64(k - p)
	df2 := float64(n - k)
	f := (lof / df1) / (pureErr / df2)
	dist := distuv.F{D1: df1, D2: df2}

	return dist.Survival(f), nil
}
