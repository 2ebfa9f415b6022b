package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfileValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultProfile().Validate())

	tests := []struct {
		name string
		mut  func(*Profile)
	}{
		{"missing id", func(p *Profile) { p.ID = "" }},
		{"position size", func(p *Profile) { p.MaxPositionSizePct = 0 }},
		{"var over one", func(p *Profile) { p.MaxVaR = 2 }},
		{"leverage", func(p *Profile) { p.MaxLeverage = 0 }},
		{"correlation", func(p *Profile) { p.MaxCorrelation = 1.5 }},
		{"overlap", func(p *Profile) {
			p.AllowedInstruments = []string{"AAPL"}
			p.ForbiddenInstruments = []string{"AAPL"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := DefaultProfile()
			tt.mut(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestSizing(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 500, SizeByRisk(100_000, 0.01, 100, 98), 1e-9)
	assert.Zero(t, SizeByRisk(100_000, 0.01, 100, 100))
	assert.InDelta(t, 2, RR(100, 98, 104), 1e-12)
	assert.Zero(t, RR(1, 1, 2))
	assert.InDelta(t, 0.01, RiskPct(1000, 100_000), 1e-12)
}
