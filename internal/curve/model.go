package curve

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Kind identifies a dose-response curve family. The set is closed: every
// operation in this package switches exhaustively over it.
type Kind int

const (
	// LogLogistic3 is the three-parameter log-logistic model with the lower
	// limit fixed at 0: f(x) = d / (1 + exp(b(ln x - ln e))), θ = (b, d, e).
	LogLogistic3 Kind = iota
	// AsymptoticRegression2 is the two-parameter asymptotic regression model
	// with the lower limit fixed at 0: f(x) = d(1 - exp(-x/e)), θ = (d, e).
	AsymptoticRegression2
)

// kindNames maps Kind to the names used in reports.
var kindNames = map[Kind]string{
	LogLogistic3:          "LL.3",
	AsymptoticRegression2: "AR.2",
}

// String returns the report name of the model family.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return "unknown"
}

// KindFromName parses a report name such as "LL.3". Matching is case-insensitive.
func KindFromName(name string) (Kind, error) {
	for k, n := range kindNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return k, nil
		}
	}

	return 0, fmt.Errorf("unknown model %q", name)
}

// Kinds returns every model family in declaration order.
func Kinds() []Kind {
	return []Kind{LogLogistic3, AsymptoticRegression2}
}

// ParamCount returns |θ| for the family.
func (k Kind) ParamCount() int {
	switch k {
	case LogLogistic3:
		return 3
	case AsymptoticRegression2:
		return 2
	default:
		return 0
	}
}

// ParamNames returns parameter names in θ order.
func (k Kind) ParamNames() []string {
	switch k {
	case LogLogistic3:
		return []string{"b", "d", "e"}
	case AsymptoticRegression2:
		return []string{"d", "e"}
	default:
		return nil
	}
}

// RequiresPositiveDose reports whether the family log-transforms the dose.
func (k Kind) RequiresPositiveDose() bool {
	switch k {
	case LogLogistic3:
		return true
	case AsymptoticRegression2:
		return false
	default:
		return false
	}
}

// Predict evaluates the curve at dose for parameters theta.
func (k Kind) Predict(dose float64, theta []float64) float64 {
	switch k {
	case LogLogistic3:
		b, d, e := theta[0], theta[1], theta[2]
		return d * logisticTail(b*(math.Log(dose)-math.Log(e)))
	case AsymptoticRegression2:
		d, e := theta[0], theta[1]
		return d * (1 - math.Exp(-dose/e))
	default:
		return math.NaN()
	}
}

// gradient writes ∂f/∂θ at dose into grad.
func (k Kind) gradient(dose float64, theta, grad []float64) {
	switch k {
	case LogLogistic3:
		b, d, e := theta[0], theta[1], theta[2]
		z := math.Log(dose) - math.Log(e)
		s := logisticTail(b * z)
		w := s * (1 - s) // u/(1+u)^2 with u = exp(bz)
		if dose <= 0 {
			// z·w vanishes as the dose reaches 0
			grad[0], grad[1], grad[2] = 0, s, 0
			return
		}
		grad[0] = -d * z * w
		grad[1] = s
		grad[2] = d * b * w / e
	case AsymptoticRegression2:
		d, e := theta[0], theta[1]
		ex := math.Exp(-dose / e)
		grad[0] = 1 - ex
		grad[1] = -d * ex * dose / (e * e)
	}
}

// doseDerivative returns ∂f/∂x at dose.
func (k Kind) doseDerivative(dose float64, theta []float64) float64 {
	switch k {
	case LogLogistic3:
		b, d, e := theta[0], theta[1], theta[2]
		if dose <= 0 {
			return logLogisticSlopeAtZero(b, d, e)
		}
		s := logisticTail(b * (math.Log(dose) - math.Log(e)))
		return -d * b * s * (1 - s) / dose
	case AsymptoticRegression2:
		d, e := theta[0], theta[1]
		return d * math.Exp(-dose/e) / e
	default:
		return math.NaN()
	}
}

// logLogisticSlopeAtZero is the limit of ∂f/∂x as x → 0, where s(1-s)/x
// behaves like x^(|b|-1)/e^|b|.
func logLogisticSlopeAtZero(b, d, e float64) float64 {
	switch a := math.Abs(b); {
	case a > 1:
		return 0
	case a == 1:
		return -d * b / e
	default:
		return math.Copysign(math.Inf(1), -d*b)
	}
}

// upperAsymptote returns d and writes ∂d/∂θ into grad.
func (k Kind) upperAsymptote(theta, grad []float64) float64 {
	for i := range grad {
		grad[i] = 0
	}
	switch k {
	case LogLogistic3:
		grad[1] = 1
		return theta[1]
	case AsymptoticRegression2:
		grad[0] = 1
		return theta[0]
	default:
		return math.NaN()
	}
}

// validParams rejects parameter vectors outside the family's support.
// Both families need a positive scale e.
func (k Kind) validParams(theta []float64) bool {
	for _, v := range theta {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	switch k {
	case LogLogistic3:
		return theta[2] > 0
	case AsymptoticRegression2:
		return theta[1] > 0
	default:
		return false
	}
}

// checkDomain validates the fitting sample against the family's preconditions.
func (k Kind) checkDomain(doses, responses []float64) error {
	for i, x := range doses {
		if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
			return fmt.Errorf("%w: %s: dose %v at index %d", ErrDomain, k, x, i)
		}
		if x == 0 && k.RequiresPositiveDose() {
			return fmt.Errorf("%w: %s: zero dose at index %d under log transform", ErrDomain, k, i)
		}
		if math.IsNaN(responses[i]) || math.IsInf(responses[i], 0) {
			return fmt.Errorf("%w: %s: response %v at index %d", ErrDomain, k, responses[i], i)
		}
	}

	return nil
}

// startingValues derives deterministic initial guesses from the sample.
// The upper asymptote starts just above the largest dose-level mean; the
// remaining parameters come from a linearizing transform of the points
// strictly between 0 and that asymptote.
func (k Kind) startingValues(doses, responses []float64) []float64 {
	lv := doseLevels(doses, responses)
	top := lv[0].mean
	for _, l := range lv[1:] {
		top = math.Max(top, l.mean)
	}
	d0 := top + 0.05*math.Abs(top)
	if d0 == 0 {
		d0 = 1
	}
	midDose := lv[len(lv)/2].dose
	if midDose <= 0 {
		midDose = 1
	}

	switch k {
	case LogLogistic3:
		// ln(d/y - 1) = b ln x - b ln e
		var lx, lz []float64
		for i, x := range doses {
			y := responses[i]
			if x > 0 && y > 0 && y < d0 {
				lx = append(lx, math.Log(x))
				lz = append(lz, math.Log(d0/y-1))
			}
		}
		if len(lx) >= 2 && stat.Variance(lx, nil) > 0 {
			alpha, beta := stat.LinearRegression(lx, lz, nil, false)
			if beta != 0 && !math.IsNaN(beta) {
				e0 := math.Exp(-alpha / beta)
				if e0 > 0 && !math.IsInf(e0, 0) {
					return []float64{beta, d0, e0}
				}
			}
		}
		return []float64{-1, d0, midDose}
	case AsymptoticRegression2:
		// -ln(1 - y/d) = x/e, regression through the origin
		var sxx, sxz float64
		for i, x := range doses {
			y := responses[i]
			if x > 0 && y > 0 && y < d0 {
				sxx += x * x
				sxz += x * -math.Log(1-y/d0)
			}
		}
		if sxz > 0 {
			return []float64{d0, sxx / sxz}
		}
		return []float64{d0, midDose}
	default:
		return nil
	}
}

// logisticTail returns 1/(1+exp(z)) without overflowing for large |z|.
func logisticTail(z float64) float64 {
	if z > 0 {
		ez := math.Exp(-z)
		return ez / (1 + ez)
	}

	return 1 / (1 + math.Exp(z))
}

// level is one distinct dose with its replicate responses summarized.
type level struct {
	dose float64
	mean float64
	n    int
}

// doseLevels groups values by exact dose, sorted by dose ascending.
func doseLevels(doses, values []float64) []level {
	byDose := make(map[float64][]float64)
	for i, x := range doses {
		byDose[x] = append(byDose[x], values[i])
	}

	levels := make([]level, 0, len(byDose))
	for x, ys := range byDose {
		levels = append(levels, level{dose: x, mean: stat.Mean(ys, nil), n: len(ys)})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].dose < levels[j].dose })

	return levels
}
