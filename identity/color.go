package identity

import (
	"strings"

	"printmaster/telemetry/supplies"
)

// DefaultKnownMono lists model substrings of monochrome devices whose MIBs
// report spurious secondary colorant rows.
var DefaultKnownMono = []string{
	"laserjet pro m40", "laserjet m50", "laserjet enterprise m60", "laserjet pro mfp m42",
	"b412", "b432", "b512", "mb472", "mb492", "mb562",
	"hl-l2", "hl-l5", "hl-l6", "mfc-l2", "mfc-l5", "dcp-l2",
	"ms610", "ms810", "mx510", "mx611", "b2338", "mb2338",
	"sp 3600", "sp 5300", "im 430", "im 550",
	"wf-m5", "et-m",
}

// ColorEvidence is what the colour heuristic looks at.
type ColorEvidence struct {
	Model              string
	Colorants          []string // prtMarkerColorantValue entries
	SupplyDescriptions []string
	ColorLevels        []int64 // cyan/magenta/yellow toner level readings
}

// DecideColor applies the colour heuristic. The known-mono list wins over
// everything; more than one distinct colorant means colour; a lone black
// colorant means mono unless secondary signals name colour supplies.
func DecideColor(ev ColorEvidence, knownMono []string) Field[bool] {
	model := strings.ToLower(ev.Model)
	for _, m := range knownMono {
		if m != "" && strings.Contains(model, m) {
			return resolved(false, SourceOverride, ConfidenceHigh)
		}
	}

	distinct := make(map[string]bool)
	onlyBlack := true
	for _, c := range ev.Colorants {
		key := strings.ToLower(strings.TrimSpace(c))
		if key == "" || key == "unknown" || key == "other" {
			continue
		}
		distinct[key] = true
		if supplies.ClassifyColor(c) != supplies.Black && !strings.Contains(key, "black") {
			onlyBlack = false
		}
	}

	switch {
	case len(distinct) > 1:
		return resolved(true, SourceProtocol, ConfidenceHigh)
	case len(distinct) == 1 && onlyBlack:
		if secondaryColor(ev) {
			return resolved(true, SourceProtocol, ConfidenceMedium)
		}
		return resolved(false, SourceProtocol, ConfidenceHigh)
	case len(distinct) == 1:
		// A single non-black colorant, e.g. a spot-colour device.
		return resolved(true, SourceProtocol, ConfidenceLow)
	}

	if secondaryColor(ev) {
		return resolved(true, SourceProtocol, ConfidenceLow)
	}
	return unresolved[bool]("no colorant information")
}

// secondaryColor reports supply descriptions naming non-black colours, or at
// least two colour toner levels inside 0..100.
func secondaryColor(ev ColorEvidence) bool {
	for _, d := range ev.SupplyDescriptions {
		if supplies.MentionsNonBlack(d) {
			return true
		}
	}
	valid := 0
	for _, lvl := range ev.ColorLevels {
		if lvl >= 0 && lvl <= 100 {
			valid++
		}
	}
	return valid >= 2
}
