package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityOrdering(t *testing.T) {
	ordered := []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, ordered[i].Level(), ordered[i-1].Level(), "%s must outrank %s", ordered[i], ordered[i-1])
	}
	assert.Equal(t, -1, Severity("bogus").Level())
}

func TestSeverityAtLeast(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityHigh.AtLeast(SeverityHigh))
	assert.False(t, SeverityMedium.AtLeast(SeverityHigh))
	assert.False(t, Severity("bogus").AtLeast(SeverityInfo))
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, ParseSeverity("critical"))
	assert.Equal(t, SeverityLow, ParseSeverity("urgent"), "unknown severities coerce to low")
	assert.Equal(t, SeverityLow, ParseSeverity(""))
}

func TestMaxSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, MaxSeverity(SeverityLow, SeverityCritical))
	assert.Equal(t, SeverityCritical, MaxSeverity(SeverityCritical, SeverityLow))
	assert.Equal(t, SeverityMedium, MaxSeverity(SeverityMedium, SeverityMedium))
}

func TestObservationTypeValid(t *testing.T) {
	for _, valid := range []ObservationType{TypeFormInput, TypeNetwork, TypeStorage, TypeClipboard, TypeScriptAnalysis} {
		assert.True(t, valid.Valid())
	}
	assert.False(t, ObservationType("telemetry").Valid())
	assert.False(t, ObservationType("").Valid())
}

func TestEventHighRisk(t *testing.T) {
	assert.True(t, (&Event{Severity: SeverityHigh}).HighRisk())
	assert.True(t, (&Event{Severity: SeverityCritical}).HighRisk())
	assert.False(t, (&Event{Severity: SeverityMedium}).HighRisk())
	assert.False(t, (&Event{Severity: SeverityLow}).HighRisk())
}
