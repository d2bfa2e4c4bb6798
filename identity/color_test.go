package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideColor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ev       ColorEvidence
		resolved bool
		color    bool
		source   Source
		conf     Confidence
	}{
		{
			name:     "four colorants",
			ev:       ColorEvidence{Colorants: []string{"black", "cyan", "magenta", "yellow"}},
			resolved: true, color: true, source: SourceProtocol, conf: ConfidenceHigh,
		},
		{
			name:     "duplicate black only",
			ev:       ColorEvidence{Colorants: []string{"black", "Black "}},
			resolved: true, color: false, source: SourceProtocol, conf: ConfidenceHigh,
		},
		{
			name:     "black plus colour supply descriptions",
			ev:       ColorEvidence{Colorants: []string{"black"}, SupplyDescriptions: []string{"Black Toner", "Cyan Toner Cartridge"}},
			resolved: true, color: true, source: SourceProtocol, conf: ConfidenceMedium,
		},
		{
			name:     "black plus two colour levels",
			ev:       ColorEvidence{Colorants: []string{"black"}, ColorLevels: []int64{40, 80, -2}},
			resolved: true, color: true, source: SourceProtocol, conf: ConfidenceMedium,
		},
		{
			name:     "black plus one valid colour level",
			ev:       ColorEvidence{Colorants: []string{"black"}, ColorLevels: []int64{40, -3, 250}},
			resolved: true, color: false, source: SourceProtocol, conf: ConfidenceHigh,
		},
		{
			name:     "drum description is not a colour signal",
			ev:       ColorEvidence{Colorants: []string{"black"}, SupplyDescriptions: []string{"Cyan Drum Unit"}},
			resolved: true, color: false, source: SourceProtocol, conf: ConfidenceHigh,
		},
		{
			name:     "no colorants but colour supplies",
			ev:       ColorEvidence{SupplyDescriptions: []string{"Magenta Toner"}},
			resolved: true, color: true, source: SourceProtocol, conf: ConfidenceLow,
		},
		{
			name:     "nothing known",
			ev:       ColorEvidence{Colorants: []string{"unknown", ""}},
			resolved: false,
		},
		{
			name:     "known mono overrides spurious colorants",
			ev:       ColorEvidence{Model: "Lexmark MS810dn", Colorants: []string{"black", "cyan"}},
			resolved: true, color: false, source: SourceOverride, conf: ConfidenceHigh,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := DecideColor(tt.ev, normalizeList(DefaultKnownMono))
			require.Equal(t, tt.resolved, got.Resolved)
			if !tt.resolved {
				assert.ErrorIs(t, got.Err, ErrInconclusive)
				return
			}
			assert.NoError(t, got.Err)
			assert.Equal(t, tt.color, got.Value)
			assert.Equal(t, tt.source, got.Source)
			assert.Equal(t, tt.conf, got.Confidence)
		})
	}
}
