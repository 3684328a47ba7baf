package pipeline

import (
	"errors"

	"github.com/irisdrone/trafficguard/analysis"
	"github.com/irisdrone/trafficguard/escalation"
	"github.com/irisdrone/trafficguard/notify"
)

// Failure classes. Callers match them with errors.Is.
var (
	// ErrValidation: the input was rejected before any side effect
	ErrValidation = analysis.ErrValidation
	// ErrUpstreamUnavailable: the analysis service could not be reached, retry later
	ErrUpstreamUnavailable = analysis.ErrUpstreamUnavailable
	// ErrPersistence: the incident was not stored and nothing downstream ran
	ErrPersistence = errors.New("incident persistence failed")

	// Post-persistence stage failures. Logged, never returned by Process.
	ErrFanout     = notify.ErrFanout
	ErrEscalation = escalation.ErrEscalation
)
