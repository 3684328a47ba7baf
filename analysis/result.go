// Package analysis turns traffic analysis results into classified incidents
package analysis

import (
	"errors"
	"fmt"

	"github.com/golang/geo/s2"
)

// ErrValidation marks a result that cannot enter the pipeline
var ErrValidation = errors.New("invalid analysis result")

// Location is an optional geolocation attached to a result by the submitter
type Location struct {
	Lat  float64 `json:"latitude"`
	Lon  float64 `json:"longitude"`
	Name string  `json:"location_name,omitempty"`
}

// Result is one analysis of a video clip as reported by the analysis service
type Result struct {
	Detected        bool     `json:"incident_detected"`
	Type            string   `json:"incident_type"`
	Confidence      *float64 `json:"confidence"`
	VehicleCount    int      `json:"vehicle_count"`
	MaxVehicleCount int      `json:"max_vehicle_count"`
	AvgSpeed        float64  `json:"avg_speed"`
	StationaryCount int      `json:"stationary_count"`
	FramesAnalyzed  int      `json:"frames_analyzed"`
	AnalysisTime    float64  `json:"analysis_time"`

	Location *Location `json:"-"`
}

// ConfidenceValue returns the confidence, treating an absent value as 0
func (r *Result) ConfidenceValue() float64 {
	if r == nil || r.Confidence == nil {
		return 0
	}
	return *r.Confidence
}

// Metadata is the detection detail stored alongside an incident
func (r *Result) Metadata() map[string]interface{} {
	return map[string]interface{}{
		"vehicle_count":     r.VehicleCount,
		"max_vehicle_count": r.MaxVehicleCount,
		"avg_speed":         r.AvgSpeed,
		"stationary_count":  r.StationaryCount,
		"frames_analyzed":   r.FramesAnalyzed,
		"analysis_time":     r.AnalysisTime,
	}
}

// Validate rejects results that would produce a malformed incident
func Validate(r *Result) error {
	if r == nil {
		return fmt.Errorf("%w: missing result", ErrValidation)
	}
	if !r.Detected {
		return nil
	}
	if c := r.Confidence; c != nil && (*c < 0 || *c > 1) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrValidation, *c)
	}
	if r.VehicleCount < 0 || r.StationaryCount < 0 || r.MaxVehicleCount < 0 {
		return fmt.Errorf("%w: negative vehicle count", ErrValidation)
	}
	if loc := r.Location; loc != nil && !s2.LatLngFromDegrees(loc.Lat, loc.Lon).IsValid() {
		return fmt.Errorf("%w: coordinates (%v, %v) out of range", ErrValidation, loc.Lat, loc.Lon)
	}
	return nil
}
