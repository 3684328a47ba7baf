package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/irisdrone/trafficguard/models"
)

// Raw types reported by the analysis service
const (
	RawAccident     = "accident"
	RawCongestion   = "congestion"
	RawRoadBlockage = "road_blockage"
)

// highConfidence is the threshold above which accidents and congestion are upgraded
const highConfidence = 0.7

// Classification is the canonical view of a raw detection
type Classification struct {
	RawType    string
	Type       models.IncidentType
	Severity   models.Severity
	Confidence *float64
}

// Classify derives the canonical incident type and severity from a raw type and confidence.
// A nil confidence counts as 0.
func Classify(rawType string, confidence *float64) Classification {
	c := 0.0
	if confidence != nil {
		c = *confidence
	}
	return Classification{
		RawType:    rawType,
		Type:       canonicalType(rawType),
		Severity:   severityFor(rawType, c),
		Confidence: confidence,
	}
}

func severityFor(rawType string, c float64) models.Severity {
	switch rawType {
	case RawAccident:
		if c > highConfidence {
			return models.SeverityCritical
		}
		return models.SeverityHigh
	case RawRoadBlockage:
		return models.SeverityHigh
	case RawCongestion:
		if c > highConfidence {
			return models.SeverityMedium
		}
		return models.SeverityLow
	}
	return models.SeverityLow
}

func canonicalType(rawType string) models.IncidentType {
	switch rawType {
	case RawAccident:
		return models.IncidentAccident
	case RawCongestion:
		return models.IncidentTrafficJam
	case RawRoadBlockage:
		return models.IncidentRoadBlockage
	}
	return models.IncidentOther
}

// ConfidencePercent rounds a 0..1 confidence to a whole percentage, halves rounding up
func ConfidencePercent(confidence *float64) int {
	if confidence == nil {
		return 0
	}
	return int(math.Floor(*confidence*100 + 0.5))
}

// Describe renders the human readable incident description
func Describe(r *Result) string {
	kind := r.Type
	if kind == "" {
		kind = "incident"
	}
	parts := []string{
		fmt.Sprintf("AI-detected %s", kind),
		fmt.Sprintf("%d vehicles observed", r.VehicleCount),
		fmt.Sprintf("average speed %d km/h", int(math.Floor(r.AvgSpeed+0.5))),
	}
	if r.StationaryCount > 0 {
		parts = append(parts, fmt.Sprintf("%d stationary vehicles", r.StationaryCount))
	}
	parts = append(parts, fmt.Sprintf("(%d%% confidence)", ConfidencePercent(r.Confidence)))
	return strings.Join(parts, ", ") + "."
}
