package curve

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// asymptoticSample is 5(1 - exp(-x/3)) at eight doses with three replicates
// whose offsets cancel within each dose.
func asymptoticSample() ([]float64, []float64) {
	levels := []float64{0.5, 1, 2, 3, 5, 8, 12, 20}
	offsets := []float64{0.03, -0.03, 0}
	var doses, responses []float64
	for _, x := range levels {
		for _, off := range offsets {
			doses = append(doses, x)
			responses = append(responses, 5*(1-math.Exp(-x/3))+off)
		}
	}
	return doses, responses
}

func TestKindNames(t *testing.T) {
	assert.Equal(t, "LL.3", LogLogistic3.String())
	assert.Equal(t, "AR.2", AsymptoticRegression2.String())
	assert.Equal(t, "unknown", Kind(42).String())

	k, err := KindFromName(" ar.2 ")
	require.NoError(t, err)
	assert.Equal(t, AsymptoticRegression2, k)

	_, err = KindFromName("W1.4")
	assert.Error(t, err)

	assert.Equal(t, []Kind{LogLogistic3, AsymptoticRegression2}, Kinds())
	assert.Equal(t, []string{"b", "d", "e"}, LogLogistic3.ParamNames())
	assert.Equal(t, 2, AsymptoticRegression2.ParamCount())
	assert.True(t, LogLogistic3.RequiresPositiveDose())
	assert.False(t, AsymptoticRegression2.RequiresPositiveDose())
}

func TestPredict(t *testing.T) {
	ll := []float64{2, 10, 15}
	assert.InDelta(t, 5.0, LogLogistic3.Predict(15, ll), 1e-12, "f(e) is half of d")
	assert.InDelta(t, 1.0, LogLogistic3.Predict(45, ll), 1e-12)
	assert.InDelta(t, 10.0, LogLogistic3.Predict(0, ll), 1e-12, "decreasing curve starts at d")

	ar := []float64{5, 3}
	assert.Equal(t, 0.0, AsymptoticRegression2.Predict(0, ar))
	assert.InDelta(t, 5*(1-math.Exp(-1)), AsymptoticRegression2.Predict(3, ar), 1e-12)
	assert.InDelta(t, 5.0, AsymptoticRegression2.Predict(1e6, ar), 1e-12)
}

func TestGradientMatchesFiniteDifferences(t *testing.T) {
	cases := []struct {
		kind  Kind
		theta []float64
	}{
		{LogLogistic3, []float64{-1.3, 5.4, 2.2}},
		{LogLogistic3, []float64{2, 10, 15}},
		{AsymptoticRegression2, []float64{5, 3}},
	}

	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			for _, x := range []float64{0.5, 3, 20} {
				grad := make([]float64, len(tc.theta))
				tc.kind.gradient(x, tc.theta, grad)
				for i := range tc.theta {
					h := 1e-6 * math.Max(1, math.Abs(tc.theta[i]))
					up := append([]float64(nil), tc.theta...)
					dn := append([]float64(nil), tc.theta...)
					up[i] += h
					dn[i] -= h
					num := (tc.kind.Predict(x, up) - tc.kind.Predict(x, dn)) / (2 * h)
					assert.InDelta(t, num, grad[i], 1e-6, "param %d at dose %g", i, x)
				}

				h := 1e-6 * x
				num := (tc.kind.Predict(x+h, tc.theta) - tc.kind.Predict(x-h, tc.theta)) / (2 * h)
				assert.InDelta(t, num, tc.kind.doseDerivative(x, tc.theta), 1e-6)
			}
		})
	}
}

func TestFit_AsymptoticRegressionRecoversTruth(t *testing.T) {
	doses, responses := asymptoticSample()

	fit, err := Fit(AsymptoticRegression2, doses, responses, DefaultFitOptions())
	require.NoError(t, err)

	assert.True(t, fit.Converged)
	assert.InDelta(t, 5.0, fit.Params[0], 1e-5)
	assert.InDelta(t, 3.0, fit.Params[1], 1e-5)
	assert.InDelta(t, 0.0144, fit.RSS, 1e-8)
	assert.Equal(t, 22, fit.DF)
	assert.Equal(t, 24, fit.N())
	require.NotNil(t, fit.Cov)
	assert.Greater(t, fit.Cov.At(0, 0), 0.0)
	assert.Greater(t, fit.Cov.At(1, 1), 0.0)
	assert.InDelta(t, fit.Cov.At(0, 1), fit.Cov.At(1, 0), 1e-15)
}

func TestFit_LogLogisticOnAsymptoticData(t *testing.T) {
	doses, responses := asymptoticSample()

	fit, err := Fit(LogLogistic3, doses, responses, DefaultFitOptions())
	require.NoError(t, err)

	assert.Less(t, fit.Params[0], 0.0, "increasing curve has negative slope")
	assert.Greater(t, fit.Params[2], 0.0)
	assert.Greater(t, fit.RSS, 0.0144)
	assert.Equal(t, 21, fit.DF)
}

func TestFit_Failures(t *testing.T) {
	tests := []struct {
		name      string
		kind      Kind
		doses     []float64
		responses []float64
		wantErr   error
	}{
		{
			name:      "zero dose under log transform",
			kind:      LogLogistic3,
			doses:     []float64{0, 1, 2, 4},
			responses: []float64{0, 1, 2, 3},
			wantErr:   ErrDomain,
		},
		{
			name:      "negative dose",
			kind:      AsymptoticRegression2,
			doses:     []float64{-1, 1, 2},
			responses: []float64{0, 1, 2},
			wantErr:   ErrDomain,
		},
		{
			name:      "non-finite response",
			kind:      AsymptoticRegression2,
			doses:     []float64{1, 2, 3},
			responses: []float64{1, math.NaN(), 2},
			wantErr:   ErrDomain,
		},
		{
			name:      "fewer observations than parameters",
			kind:      LogLogistic3,
			doses:     []float64{1, 4},
			responses: []float64{2, 4},
			wantErr:   ErrConvergence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fit(tt.kind, tt.doses, tt.responses, DefaultFitOptions())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.True(t, IsFitFailure(err))
		})
	}

	_, err := Fit(AsymptoticRegression2, []float64{1, 2}, []float64{1}, DefaultFitOptions())
	assert.Error(t, err)
}

func TestFit_TwoPointsExactFit(t *testing.T) {
	fit, err := Fit(AsymptoticRegression2, []float64{1, 4}, []float64{2, 4}, DefaultFitOptions())
	require.NoError(t, err)

	assert.InDelta(t, 4.383, fit.Params[0], 1e-3)
	assert.InDelta(t, 1.641, fit.Params[1], 1e-3)
	assert.InDelta(t, 0.0, fit.RSS, 1e-12)
	assert.Equal(t, 0, fit.DF)
	assert.Nil(t, fit.Cov, "no covariance without residual degrees of freedom")
}

func TestEvaluate_AsymptoticSample(t *testing.T) {
	doses, responses := asymptoticSample()

	ar, err := Fit(AsymptoticRegression2, doses, responses, DefaultFitOptions())
	require.NoError(t, err)
	arScore, err := Evaluate(ar, doses)
	require.NoError(t, err)

	assert.Equal(t, 24, arScore.N)
	assert.Equal(t, 8, arScore.DoseLevels)
	assert.InDelta(t, 1.0, arScore.LackOfFitP, 1e-6)
	assert.InDelta(t, -172.046, arScore.AIC, 1e-2)
	assert.InDelta(t, 0.025584, arScore.ResidualSE, 1e-5)

	ll, err := Fit(LogLogistic3, doses, responses, DefaultFitOptions())
	require.NoError(t, err)
	llScore, err := Evaluate(ll, doses)
	require.NoError(t, err)

	assert.Less(t, llScore.LackOfFitP, 0.01)
	assert.Greater(t, llScore.AIC, arScore.AIC)
}

func TestEvaluate_UndefinedStatistics(t *testing.T) {
	doses := []float64{1, 4}
	fit, err := Fit(AsymptoticRegression2, doses, []float64{2, 4}, DefaultFitOptions())
	require.NoError(t, err)

	score, err := Evaluate(fit, doses)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUndefinedStatistic))
	assert.True(t, math.IsNaN(score.ResidualSE))
	assert.True(t, math.IsNaN(score.LackOfFitP))
	assert.Equal(t, 2, score.N)

	_, err = Evaluate(fit, []float64{1})
	assert.Error(t, err)
}

func TestEvaluate_NoReplicates(t *testing.T) {
	doses := []float64{0.5, 1, 2, 3, 5, 8}
	responses := make([]float64, len(doses))
	for i, x := range doses {
		responses[i] = 5 * (1 - math.Exp(-x/3))
	}
	responses[2] += 0.05

	fit, err := Fit(AsymptoticRegression2, doses, responses, DefaultFitOptions())
	require.NoError(t, err)

	score, err := Evaluate(fit, doses)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUndefinedStatistic))
	assert.True(t, math.IsNaN(score.LackOfFitP))
	assert.False(t, math.IsNaN(score.ResidualSE), "residual SE is defined with n > p")
}

func diagCov(values ...float64) *mat.SymDense {
	cov := mat.NewSymDense(len(values), nil)
	for i, v := range values {
		cov.SetSym(i, i, v)
	}
	return cov
}

func TestEstimateED_LogLogisticClosedForm(t *testing.T) {
	fit := &FitResult{
		Kind:   LogLogistic3,
		Params: []float64{2, 10, 15},
		Cov:    diagCov(0.01, 0.04, 0.25),
	}

	ed, err := EstimateED(fit, 10, EDOptions{})
	require.NoError(t, err)
	assert.Equal(t, 10.0, ed.Percent)
	assert.InDelta(t, 45.0, ed.Dose, 1e-9)
	assert.InDelta(t, 1.0, fit.Predict(ed.Dose), 1e-9)

	// ∂x/∂b = -x ln 9 / b², ∂x/∂e = x/e
	gb := -45 * math.Log(9) / 4
	ge := 45.0 / 15
	assert.InDelta(t, math.Sqrt(gb*gb*0.01+ge*ge*0.25), ed.SE, 1e-9)
}

func TestEstimateED_NumericMatchesClosedForm(t *testing.T) {
	theta := []float64{2, 10, 15}

	closed, closedGrad, err := effectiveDoseLogLogistic(theta, 10)
	require.NoError(t, err)
	numeric, numericGrad, err := effectiveDoseNumeric(LogLogistic3, theta, 10, 0)
	require.NoError(t, err)

	assert.InDelta(t, closed, numeric, 1e-9)
	require.Len(t, numericGrad, 3)
	for i := range closedGrad {
		assert.InDelta(t, closedGrad[i], numericGrad[i], 1e-6, "gradient %d", i)
	}
}

func TestEstimateED_AsymptoticRegression(t *testing.T) {
	fit := &FitResult{
		Kind:   AsymptoticRegression2,
		Params: []float64{5, 3},
		Cov:    diagCov(0.001, 0.002),
	}

	ed, err := EstimateED(fit, 10, EDOptions{})
	require.NoError(t, err)
	assert.InDelta(t, -3*math.Log(0.9), ed.Dose, 1e-9)
	assert.InDelta(t, 0.5, fit.Predict(ed.Dose), 1e-9)
	// x = -e ln(0.9) does not depend on d
	assert.InDelta(t, -math.Log(0.9)*math.Sqrt(0.002), ed.SE, 1e-9)
}

func TestEstimateED_Failures(t *testing.T) {
	ll := &FitResult{Kind: LogLogistic3, Params: []float64{2, 10, 15}, Cov: diagCov(1, 1, 1)}

	_, err := EstimateED(ll, 0, EDOptions{})
	assert.Error(t, err)
	_, err = EstimateED(ll, 100, EDOptions{})
	assert.Error(t, err)

	_, err = EstimateED(ll, 10, EDOptions{MaxDose: 40})
	assert.True(t, errors.Is(err, ErrNumerical), "root beyond dose range: %v", err)

	flat := &FitResult{Kind: LogLogistic3, Params: []float64{0, 10, 15}, Cov: diagCov(1, 1, 1)}
	_, err = EstimateED(flat, 10, EDOptions{})
	assert.True(t, errors.Is(err, ErrNumerical))

	noCov := &FitResult{Kind: AsymptoticRegression2, Params: []float64{4.383, 1.641}}
	_, err = EstimateED(noCov, 10, EDOptions{})
	assert.True(t, errors.Is(err, ErrNumerical))

	indefinite := &FitResult{Kind: LogLogistic3, Params: []float64{2, 10, 15}, Cov: diagCov(1, -1, 1)}
	_, err = EstimateED(indefinite, 10, EDOptions{})
	assert.True(t, errors.Is(err, ErrNumerical))

	_, _, err = effectiveDoseNumeric(AsymptoticRegression2, []float64{5, 3}, 10, 0.1)
	assert.True(t, errors.Is(err, ErrNumerical), "no root below the dose limit")
}

func TestGrid(t *testing.T) {
	grid := Grid(0.001, 80, 100)
	require.Len(t, grid, 100)
	assert.Equal(t, 0.001, grid[0])
	assert.InDelta(t, 80, grid[99], 1e-12)
	for i := 1; i < len(grid); i++ {
		assert.Greater(t, grid[i], grid[i-1])
	}

	assert.Equal(t, []float64{3}, Grid(3, 10, 1))
}

func TestBand(t *testing.T) {
	doses, responses := asymptoticSample()
	fit, err := Fit(AsymptoticRegression2, doses, responses, DefaultFitOptions())
	require.NoError(t, err)

	grid := Grid(0.001, 80, 100)
	points, err := Band(fit, grid, 0.95)
	require.NoError(t, err)
	require.Len(t, points, 100)

	for i, pt := range points {
		assert.Equal(t, grid[i], pt.Dose)
		assert.InDelta(t, fit.Predict(pt.Dose), pt.Predicted, 1e-12)
		assert.LessOrEqual(t, pt.Lower, pt.Predicted)
		assert.GreaterOrEqual(t, pt.Upper, pt.Predicted)
		assert.InDelta(t, pt.Predicted-pt.Lower, pt.Upper-pt.Predicted, 1e-12, "symmetric band")
	}

	narrow, err := Band(fit, grid, 0.5)
	require.NoError(t, err)
	assert.Less(t, narrow[50].Upper-narrow[50].Lower, points[50].Upper-points[50].Lower)

	_, err = Band(fit, grid, 1.5)
	assert.Error(t, err)

	exact, err := Fit(AsymptoticRegression2, []float64{1, 4}, []float64{2, 4}, DefaultFitOptions())
	require.NoError(t, err)
	_, err = Band(exact, grid, 0.95)
	assert.True(t, errors.Is(err, ErrUndefinedStatistic))
}

func TestEvaluate_ExactFitKeepsFiniteAIC(t *testing.T) {
	doses := []float64{1, 1, 2, 2, 4, 4}
	fit := &FitResult{
		Kind:      AsymptoticRegression2,
		Params:    []float64{5, 3},
		Residuals: make([]float64, len(doses)),
		DF:        4,
	}

	score, err := Evaluate(fit, doses)
	require.NoError(t, err)
	assert.False(t, math.IsInf(score.AIC, 0))
	assert.False(t, math.IsNaN(score.AIC))
	assert.Equal(t, 1.0, score.LackOfFitP)
	assert.Equal(t, 0.0, score.ResidualSE)

	_, err = json.Marshal(score.AIC)
	assert.NoError(t, err)
}

func TestLogLogisticAtZeroDose(t *testing.T) {
	theta := []float64{2, 10, 15}
	grad := make([]float64, 3)
	LogLogistic3.gradient(0, theta, grad)
	assert.Equal(t, []float64{0, 1, 0}, grad)

	declining := []float64{-2, 10, 15}
	LogLogistic3.gradient(0, declining, grad)
	assert.Equal(t, []float64{0, 0, 0}, grad)

	assert.Equal(t, 0.0, LogLogistic3.doseDerivative(0, theta))
	assert.InDelta(t, -10.0/15, LogLogistic3.doseDerivative(0, []float64{1, 10, 15}), 1e-12)
	assert.True(t, math.IsInf(LogLogistic3.doseDerivative(0, []float64{0.5, 10, 15}), -1))
}

func TestBand_LogLogisticFromZeroDose(t *testing.T) {
	levels := []float64{1, 2, 5, 10, 15, 20, 40, 80}
	var doses, responses []float64
	for _, x := range levels {
		for _, off := range []float64{0.05, -0.05, 0} {
			doses = append(doses, x)
			responses = append(responses, LogLogistic3.Predict(x, []float64{2, 10, 15})+off)
		}
	}
	fit, err := Fit(LogLogistic3, doses, responses, DefaultFitOptions())
	require.NoError(t, err)

	points, err := Band(fit, Grid(0, 80, 5), 0.95)
	require.NoError(t, err)
	require.Len(t, points, 5)

	first := points[0]
	assert.Equal(t, 0.0, first.Dose)
	assert.InDelta(t, fit.Params[1], first.Predicted, 1e-12)
	assert.Less(t, first.Lower, first.Predicted)
	assert.Greater(t, first.Upper, first.Predicted)

	_, err = json.Marshal(points)
	assert.NoError(t, err)
}

func TestBand_NonFiniteIsUndefined(t *testing.T) {
	fit := &FitResult{
		Kind:      LogLogistic3,
		Params:    []float64{0, 10, 15},
		Residuals: make([]float64, 8),
		DF:        5,
		Cov:       diagCov(1, 1, 1),
	}

	_, err := Band(fit, []float64{0, 1}, 0.95)
	assert.True(t, errors.Is(err, ErrUndefinedStatistic))
}
