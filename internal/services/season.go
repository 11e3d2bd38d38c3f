package services

import "time"

// seasonOf buckets a date into the meteorological season used across
// the engine: Mar-May spring, Jun-Aug summer, Sep-Nov fall, else winter.
func seasonOf(t time.Time) string {
	switch m := t.Month(); {
	case m >= time.March && m <= time.May:
		return "spring"
	case m >= time.June && m <= time.August:
		return "summer"
	case m >= time.September && m <= time.November:
		return "fall"
	default:
		return "winter"
	}
}

// seasonalSymptoms are complaints whose base rates swing with the
// season; they earn extra seasonal relevance during matching.
var seasonalSymptoms = map[string]struct{}{
	"no_cooling":           {},
	"no_heating":           {},
	"freeze_up":            {},
	"overheating":          {},
	"high_head_pressure":   {},
	"low_suction_pressure": {},
}

// seasonalRelevance scores how strongly the live symptoms line up with
// the current season: 0.8 when a hallmark symptom matches its season,
// 0.6 when any seasonal symptom is present, 0.5 otherwise.
func seasonalRelevance(symptoms []string, season string) float64 {
	hasSeasonal := false
	for _, s := range symptoms {
		if _, ok := seasonalSymptoms[s]; ok {
			hasSeasonal = true
			break
		}
	}
	if !hasSeasonal {
		return 0.5
	}
	for _, s := range symptoms {
		if (season == "summer" && s == "no_cooling") || (season == "winter" && s == "no_heating") {
			return 0.8
		}
	}
	return 0.6
}
