package curve

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// FitOptions bounds the Levenberg-Marquardt iteration.
type FitOptions struct {
	// MaxIterations is the iteration budget; exceeding it is a convergence failure.
	MaxIterations int
	// StepTolerance stops the iteration once every |Δθᵢ| ≤ tol·(|θᵢ| + tol).
	StepTolerance float64
	// RSSTolerance stops the iteration once the relative RSS decrease falls below it.
	RSSTolerance float64
}

// DefaultFitOptions returns the solver settings used by the pipeline.
func DefaultFitOptions() FitOptions {
	return FitOptions{
		MaxIterations: 200,
		StepTolerance: 1e-8,
		RSSTolerance:  1e-12,
	}
}

const (
	initialDamping = 1e-3
	maxDamping     = 1e16
	// maxCondition is the largest acceptable condition number of JᵀJ.
	maxCondition = 1e14
)

// FitResult is one curve family fitted to one target's observations.
type FitResult struct {
	Kind       Kind
	Params     []float64
	Residuals  []float64 // observed - predicted, in input order
	RSS        float64
	DF         int // n - |θ|
	Converged  bool
	Iterations int
	// Cov is s²(JᵀJ)⁻¹ with s² = RSS/DF; nil when DF is 0.
	Cov *mat.SymDense
}

// N returns the number of observations behind the fit.
func (r *FitResult) N() int {
	return len(r.Residuals)
}

// Predict evaluates the fitted curve at dose.
func (r *FitResult) Predict(dose float64) float64 {
	return r.Kind.Predict(dose, r.Params)
}

// Fit estimates θ for kind by nonlinear least squares using damped
// Gauss-Newton (Levenberg-Marquardt) steps from self-starting values.
//
// Returns ErrDomain when the sample violates the family's preconditions and
// ErrConvergence when the system is underdetermined, the iteration budget is
// exhausted, or JᵀJ is singular at the solution.
func Fit(kind Kind, doses, responses []float64, opts FitOptions) (*FitResult, error) {
	if len(doses) != len(responses) {
		return nil, fmt.Errorf("mismatched data lengths: %d doses vs %d responses", len(doses), len(responses))
	}
	p := kind.ParamCount()
	if p == 0 {
		return nil, fmt.Errorf("unknown model kind %d", int(kind))
	}
	if err := kind.checkDomain(doses, responses); err != nil {
		return nil, err
	}
	n := len(doses)
	if n < p {
		return nil, fmt.Errorf("%w: %s: %d observations for %d parameters", ErrConvergence, kind, n, p)
	}
	if opts.MaxIterations <= 0 {
		opts = DefaultFitOptions()
	}

	theta := kind.startingValues(doses, responses)
	if !kind.validParams(theta) {
		return nil, fmt.Errorf("%w: %s: no valid starting values", ErrConvergence, kind)
	}

	jac := mat.NewDense(n, p, nil)
	resid := mat.NewVecDense(n, nil)
	jtj := mat.NewSymDense(p, nil)
	damped := mat.NewSymDense(p, nil)
	var jtr, step mat.VecDense
	var chol mat.Cholesky

	rss := evalResiduals(kind, doses, responses, theta, resid)
	lambda := initialDamping
	candidate := make([]float64, p)
	converged := false
	iter := 0

	for iter < opts.MaxIterations && !converged {
		iter++
		evalJacobian(kind, doses, theta, jac)
		normalMatrix(jac, jtj)
		jtr.MulVec(jac.T(), resid)

		accepted := false
		var newRSS float64
		for lambda <= maxDamping {
			damped.CopySym(jtj)
			for i := 0; i < p; i++ {
				damped.SetSym(i, i, jtj.At(i, i)+lambda*math.Max(jtj.At(i, i), 1e-12))
			}
			if ok := chol.Factorize(damped); !ok {
				lambda *= 10
				continue
			}
			if err := chol.SolveVecTo(&step, &jtr); err != nil {
				lambda *= 10
				continue
			}
			for i := range candidate {
				candidate[i] = theta[i] + step.AtVec(i)
			}
			if kind.validParams(candidate) {
				newRSS = sumSquares(kind, doses, responses, candidate)
				if !math.IsNaN(newRSS) && newRSS <= rss {
					accepted = true
					break
				}
			}
			lambda *= 10
		}

		if !accepted {
			// No descent direction left at any damping: θ is a minimum to
			// working precision.
			converged = true
			break
		}

		smallStep := true
		for i := range theta {
			if math.Abs(step.AtVec(i)) > opts.StepTolerance*(math.Abs(theta[i])+opts.StepTolerance) {
				smallStep = false
				break
			}
		}
		smallGain := rss-newRSS <= opts.RSSTolerance*(rss+opts.RSSTolerance)

		copy(theta, candidate)
		rss = evalResiduals(kind, doses, responses, theta, resid)
		lambda = math.Max(lambda/10, 1e-12)
		converged = smallStep || smallGain
	}

	if !converged {
		return nil, fmt.Errorf("%w: %s: no convergence after %d iterations", ErrConvergence, kind, iter)
	}

	// Information matrix at the solution.
	evalJacobian(kind, doses, theta, jac)
	normalMatrix(jac, jtj)
	if ok := chol.Factorize(jtj); !ok || chol.Cond() > maxCondition {
		return nil, fmt.Errorf("%w: %s: singular Jacobian at solution", ErrConvergence, kind)
	}

	res := &FitResult{
		Kind:       kind,
		Params:     theta,
		Residuals:  append([]float64(nil), resid.RawVector().Data...),
		RSS:        rss,
		DF:         n - p,
		Converged:  true,
		Iterations: iter,
	}
	if res.DF > 0 {
		cov := mat.NewSymDense(p, nil)
		if err := chol.InverseTo(cov); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrConvergence, kind, err)
		}
		cov.ScaleSym(rss/float64(res.DF), cov)
		res.Cov = cov
	}

	return res, nil
}

// evalResiduals fills resid with observed - predicted and returns the RSS.
func evalResiduals(kind Kind, doses, responses, theta []float64, resid *mat.VecDense) float64 {
	for i, x := range doses {
		resid.SetVec(i, responses[i]-kind.Predict(x, theta))
	}
	raw := resid.RawVector().Data

	return floats.Dot(raw, raw)
}

func sumSquares(kind Kind, doses, responses, theta []float64) float64 {
	var rss float64
	for i, x := range doses {
		r := responses[i] - kind.Predict(x, theta)
		rss += r * r
	}

	return rss
}

// evalJacobian fills jac with ∂f/∂θ, one row per observation.
func evalJacobian(kind Kind, doses, theta []float64, jac *mat.Dense) {
	_, p := jac.Dims()
	row := make([]float64, p)
	for i, x := range doses {
		kind.gradient(x, theta, row)
		jac.SetRow(i, row)
	}
}

// normalMatrix writes JᵀJ into dst.
func normalMatrix(jac *mat.Dense, dst *mat.SymDense) {
	_, p := jac.Dims()
	cols := make([][]float64, p)
	for j := range cols {
		cols[j] = mat.Col(nil, j, jac)
	}
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			dst.SetSym(i, j, floats.Dot(cols[i], cols[j]))
		}
	}
}

// IsFitFailure reports whether err is one of the recoverable per-candidate
// fitting failures.
func IsFitFailure(err error) bool {
	return errors.Is(err, ErrDomain) || errors.Is(err, ErrConvergence)
}
