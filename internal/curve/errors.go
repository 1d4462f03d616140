package curve

import "errors"

// Failure categories for fitting and scoring. Callers test them with errors.Is;
// every error returned by this package wraps exactly one of them.
var (
	// ErrDomain means an input violates a model's mathematical precondition,
	// e.g. a zero dose fed to a log-transform model.
	ErrDomain = errors.New("input outside model domain")

	// ErrConvergence means the nonlinear solver ran out of iterations or the
	// Jacobian became singular.
	ErrConvergence = errors.New("nonlinear fit did not converge")

	// ErrUndefinedStatistic means a score cannot be computed because there are
	// not enough degrees of freedom or no replication to test against.
	ErrUndefinedStatistic = errors.New("statistic undefined")

	// ErrNumerical means effective-dose estimation failed: no root in the
	// meaningful dose range, or a degenerate covariance matrix.
	ErrNumerical = errors.New("numerical failure")
)
