package curve

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/RMahshie/dosefit/pkg/models"
)

// Grid returns n evenly spaced doses from lo to hi inclusive.
func Grid(lo, hi float64, n int) []float64 {
	if n < 2 {
		return []float64{lo}
	}

	return floats.Span(make([]float64, n), lo, hi)
}

// Band evaluates the fitted curve on doses with a pointwise confidence band
// prediction ± t(level)·se(x), where se(x)² = ∇fᵀ Cov ∇f and t has the fit's
// residual degrees of freedom. It reads nothing but its arguments.
func Band(fit *FitResult, doses []float64, level float64) ([]models.CurvePoint, error) {
	if !(level > 0 && level < 1) {
		return nil, fmt.Errorf("confidence level must be in (0, 1), got %v", level)
	}
	if fit.Cov == nil || fit.DF <= 0 {
		return nil, fmt.Errorf("%w: confidence band of %s needs residual degrees of freedom", ErrUndefinedStatistic, fit.Kind)
	}

	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(fit.DF)}.Quantile(0.5 + level/2)
	p := len(fit.Params)
	grad := make([]float64, p)
	g := mat.NewVecDense(p, grad)

	points := make([]models.CurvePoint, 0, len(doses))
	for _, x := range doses {
		y := fit.Predict(x)
		fit.Kind.gradient(x, fit.Params, grad)
		half := t * math.Sqrt(math.Max(mat.Inner(g, fit.Cov, g), 0))
		if math.IsNaN(y) || math.IsInf(y, 0) || math.IsNaN(half) || math.IsInf(half, 0) {
			return nil, fmt.Errorf("%w: confidence band of %s is not finite at dose %g",
				ErrUndefinedStatistic, fit.Kind, x)
		}
		points = append(points, models.CurvePoint{
			Dose:      x,
			Predicted: y,
			Lower:     y - half,
			Upper:     y + half,
		})
	}

	return points, nil
}
