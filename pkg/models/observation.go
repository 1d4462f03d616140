package models

// Observation is one measured (dose, response) pair for a target.
type Observation struct {
	Target       string  `json:"target"`
	Dose         float64 `json:"dose" doc:"Dose (MEAS1_VALUE)"`
	Response     float64 `json:"response" doc:"Response (MEAS2_VALUE)"`
	ResponseUnit string  `json:"response_unit,omitempty" doc:"Response unit (MEAS2_UNIT)"`
}

// CurvePoint is a single point of a fitted prediction curve with its confidence band
type CurvePoint struct {
	Dose      float64 `json:"dose" doc:"Dose"`
	Predicted float64 `json:"predicted" doc:"Predicted response"`
	Lower     float64 `json:"lower" doc:"Lower confidence limit"`
	Upper     float64 `json:"upper" doc:"Upper confidence limit"`
}

// TargetCurve is the dense prediction curve of the model selected for a target
type TargetCurve struct {
	Target       string       `json:"target" doc:"Target identifier"`
	Model        string       `json:"model" doc:"Selected model (e.g. LL.3, AR.2)"`
	ResponseUnit string       `json:"response_unit,omitempty" doc:"Response unit for display"`
	Points       []CurvePoint `json:"points" doc:"Prediction curve over the dose grid"`
}
