package curve

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// EffectiveDose is an ED estimate with its delta-method standard error.
type EffectiveDose struct {
	Percent float64
	Dose    float64
	SE      float64
}

// EDOptions bounds the physically meaningful dose range.
type EDOptions struct {
	// MaxDose is the largest dose accepted as a root; 0 means unbounded.
	MaxDose float64
}

const (
	bracketLimit   = 1e12
	bisectionSteps = 200
	// psdTolerance is the relative eigenvalue slack accepted when checking
	// that a covariance matrix is positive semi-definite.
	psdTolerance = 1e-10
)

// EstimateED returns the dose at which the fitted curve reaches percent of its
// range above the fixed lower asymptote, i.e. f(ED) = p/100·d, together with
// SE² = ∇gᵀ Cov ∇g where g maps θ to ED.
//
// LL.3 uses the closed-form inverse; AR.2 is solved by bracketed root finding.
// Failures wrap ErrNumerical.
func EstimateED(fit *FitResult, percent float64, opts EDOptions) (EffectiveDose, error) {
	if !(percent > 0 && percent < 100) {
		return EffectiveDose{}, fmt.Errorf("effect percent must be in (0, 100), got %v", percent)
	}

	var (
		dose float64
		grad []float64
		err  error
	)
	switch fit.Kind {
	case LogLogistic3:
		dose, grad, err = effectiveDoseLogLogistic(fit.Params, percent)
	case AsymptoticRegression2:
		dose, grad, err = effectiveDoseNumeric(fit.Kind, fit.Params, percent, opts.MaxDose)
	default:
		err = fmt.Errorf("%w: unknown model kind %d", ErrNumerical, int(fit.Kind))
	}
	if err != nil {
		return EffectiveDose{}, err
	}

	if math.IsNaN(dose) || math.IsInf(dose, 0) || dose < 0 {
		return EffectiveDose{}, fmt.Errorf("%w: %s: ED%g = %v", ErrNumerical, fit.Kind, percent, dose)
	}
	if opts.MaxDose > 0 && dose > opts.MaxDose {
		return EffectiveDose{}, fmt.Errorf("%w: %s: ED%g = %g beyond dose range %g",
			ErrNumerical, fit.Kind, percent, dose, opts.MaxDose)
	}

	se, err := deltaSE(fit.Cov, grad)
	if err != nil {
		return EffectiveDose{}, fmt.Errorf("%s: ED%g: %w", fit.Kind, percent, err)
	}

	return EffectiveDose{Percent: percent, Dose: dose, SE: se}, nil
}

// effectiveDoseLogLogistic inverts d/(1+(x/e)^b) = p/100·d:
// x = e·r^(1/b) with r = 100/p - 1.
func effectiveDoseLogLogistic(theta []float64, percent float64) (float64, []float64, error) {
	b, e := theta[0], theta[2]
	if b == 0 {
		return 0, nil, fmt.Errorf("%w: LL.3: flat curve (b = 0)", ErrNumerical)
	}
	r := 100/percent - 1
	x := e * math.Pow(r, 1/b)

	grad := []float64{
		-x * math.Log(r) / (b * b),
		0,
		x / e,
	}

	return x, grad, nil
}

// effectiveDoseNumeric solves f(x) = p/100·d(θ) by bisection and
// differentiates the root through the implicit function theorem:
// ∂x/∂θ = -(∂f/∂θ - p/100·∂d/∂θ) / (∂f/∂x).
func effectiveDoseNumeric(kind Kind, theta []float64, percent, maxDose float64) (float64, []float64, error) {
	p := len(theta)
	dGrad := make([]float64, p)
	target := percent / 100 * kind.upperAsymptote(theta, dGrad)

	h := func(x float64) float64 { return kind.Predict(x, theta) - target }

	limit := bracketLimit
	if maxDose > 0 {
		limit = maxDose
	}

	lo, hi := 0.0, math.Min(1, limit)
	hLo := h(lo)
	if math.IsNaN(hLo) {
		return 0, nil, fmt.Errorf("%w: %s: curve undefined at dose 0", ErrNumerical, kind)
	}
	if hLo == 0 {
		return 0, nil, fmt.Errorf("%w: %s: degenerate curve, f(0) equals the effect level", ErrNumerical, kind)
	}
	for sameSign(hLo, h(hi)) {
		if hi >= limit {
			return 0, nil, fmt.Errorf("%w: %s: no ED%g in (0, %g]", ErrNumerical, kind, percent, limit)
		}
		lo = hi
		hi = math.Min(hi*2, limit)
	}

	for i := 0; i < bisectionSteps && hi-lo > 1e-14*hi; i++ {
		mid := lo + (hi-lo)/2
		if sameSign(hLo, h(mid)) {
			lo = mid
		} else {
			hi = mid
		}
	}
	x := lo + (hi-lo)/2

	slope := kind.doseDerivative(x, theta)
	if slope == 0 || math.IsNaN(slope) {
		return 0, nil, fmt.Errorf("%w: %s: flat curve at ED%g", ErrNumerical, kind, percent)
	}
	fGrad := make([]float64, p)
	kind.gradient(x, theta, fGrad)
	grad := make([]float64, p)
	for i := range grad {
		grad[i] = -(fGrad[i] - percent/100*dGrad[i]) / slope
	}

	return x, grad, nil
}

func sameSign(a, b float64) bool {
	return (a < 0) == (b < 0)
}

// deltaSE returns sqrt(gᵀ Cov g) after checking Cov is positive semi-definite.
func deltaSE(cov *mat.SymDense, grad []float64) (float64, error) {
	if cov == nil {
		return 0, fmt.Errorf("%w: no parameter covariance (zero residual degrees of freedom)", ErrNumerical)
	}
	if err := checkPSD(cov); err != nil {
		return 0, err
	}

	g := mat.NewVecDense(len(grad), grad)
	v := mat.Inner(g, cov, g)
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: variance %v", ErrNumerical, v)
	}

	return math.Sqrt(v), nil
}

func checkPSD(cov *mat.SymDense) error {
	var eig mat.EigenSym
	if ok := eig.Factorize(cov, false); !ok {
		return fmt.Errorf("%w: covariance eigendecomposition failed", ErrNumerical)
	}
	values := eig.Values(nil)
	largest := 0.0
	for _, v := range values {
		largest = math.Max(largest, math.Abs(v))
	}
	for _, v := range values {
		if math.IsNaN(v) || v < -psdTolerance*largest {
			return fmt.Errorf("%w: covariance not positive semi-definite (eigenvalue %g)", ErrNumerical, v)
		}
	}

	return nil
}
