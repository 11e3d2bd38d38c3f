package services

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/coilworks/hvac-backend/internal/logger"
	"github.com/coilworks/hvac-backend/internal/types"
)

// AnomalyCandidate is one out-of-band measurement with the expected
// band it violated and a composed diagnosis line.
type AnomalyCandidate struct {
	Parameter        string      `json:"parameter"`
	MeasuredValue    float64     `json:"measured_value"`
	ExpectedRange    types.Range `json:"expected_range"`
	DeviationPercent float64     `json:"deviation_percent"`
	Diagnosis        string      `json:"diagnosis"`
}

// expectedRanges are the known-good bands per parameter. Units:
// pressures psi (R410A typical), superheat/subcooling degrees F,
// voltage volts (120V circuit), current amps. Parameters without an
// entry are never flagged.
var expectedRanges = map[string]types.Range{
	"suction_pressure": {Min: 50, Max: 85},
	"head_pressure":    {Min: 200, Max: 400},
	"superheat":        {Min: 5, Max: 15},
	"subcooling":       {Min: 5, Max: 15},
	"voltage":          {Min: 110, Max: 130},
	"current":          {Min: 5, Max: 50},
}

// ExpectedRangeFor exposes the band for a parameter, if one is known.
func ExpectedRangeFor(parameter string) (types.Range, bool) {
	r, ok := expectedRanges[parameter]
	return r, ok
}

type AnomalyDetector struct {
	log *logger.Logger
}

func NewAnomalyDetector(baseLog *logger.Logger) *AnomalyDetector {
	return &AnomalyDetector{log: baseLog.With("service", "AnomalyDetector")}
}

// Detect flags every measured parameter that has a known band and falls
// outside it. Results are ordered by parameter name so repeated calls
// with the same input yield the same slice.
func (d *AnomalyDetector) Detect(measurements map[string]float64, diagnosis string) []AnomalyCandidate {
	if len(measurements) == 0 {
		return nil
	}
	if diagnosis == "" {
		diagnosis = "Unknown"
	}

	params := make([]string, 0, len(measurements))
	for p := range measurements {
		params = append(params, p)
	}
	sort.Strings(params)

	var out []AnomalyCandidate
	for _, parameter := range params {
		value := measurements[parameter]
		band, known := expectedRanges[parameter]
		if !known || band.Contains(value) {
			continue
		}
		deviation, ok := DeviationPercent(value, band)
		if !ok {
			d.log.Warn("Skipping anomaly with zero-midpoint range", "parameter", parameter)
			continue
		}
		out = append(out, AnomalyCandidate{
			Parameter:        parameter,
			MeasuredValue:    value,
			ExpectedRange:    band,
			DeviationPercent: deviation,
			Diagnosis:        fmt.Sprintf("%s - Abnormal %s", diagnosis, strings.ReplaceAll(parameter, "_", " ")),
		})
	}
	return out
}

// DeviationPercent is |value - midpoint| / midpoint * 100. Returns
// false for a zero midpoint rather than propagating Inf/NaN.
func DeviationPercent(value float64, band types.Range) (float64, bool) {
	mid := band.Midpoint()
	if mid == 0 {
		return 0, false
	}
	return math.Abs((value-mid)/mid) * 100, true
}
