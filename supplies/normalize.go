// Package supplies classifies printer consumable descriptions into colorants
// and non-colorant parts (drums, fusers, waste containers).
package supplies

import (
	"regexp"
	"strings"

	"printmaster/telemetry/common/snmp/oids"
)

// Color is a toner/ink colorant.
type Color int

const (
	None Color = iota
	Black
	Cyan
	Magenta
	Yellow
)

// Colors lists the classified colorants in reporting order.
var Colors = []Color{Black, Cyan, Magenta, Yellow}

func (c Color) String() string {
	switch c {
	case Black:
		return "black"
	case Cyan:
		return "cyan"
	case Magenta:
		return "magenta"
	case Yellow:
		return "yellow"
	}
	return ""
}

// MetricKey returns the canonical level key ("toner_black", ...).
func (c Color) MetricKey() string {
	if c == None {
		return ""
	}
	return "toner_" + c.String()
}

// partNumberPattern matches vendor part numbers that end with color codes:
// - Kyocera: TK-8517K, TK-8517C, TK-8517M, TK-8517Y
// - HP: CE400A (K), CE401A (C), etc.
var partNumberPattern = regexp.MustCompile(`(?i)^(tk|tn|ce|cf|w\d|cb|cc|q\d|c\d)[- ]?\d{3,5}([kcmy])$`)

// monoTonerPattern matches monochrome toner part numbers without color suffix
// (TK-3182, TN-760). These are always black.
var monoTonerPattern = regexp.MustCompile(`(?i)^(tk|tn)[- ]?\d{3,5}$`)

// Localized keyword tables. Short codes carry surrounding spaces so they do
// not match inside longer words.
var (
	blackWords   = []string{"black", " bk", "bk ", "blk", "negro", "noir", "schwarz", "nero", "preto", "zwart", "czarny", "черн", "чёрн", "ブラック", "黒"}
	cyanWords    = []string{"cyan", " cy", "cy ", "cyn", "cian", "ciano", "голуб", "シアン"}
	magentaWords = []string{"magenta", " mg", "mg ", " mag", "mag ", "пурпур", "マゼンタ"}
	yellowWords  = []string{"yellow", " yl", "yl ", "yel", "amarillo", "jaune", "gelb", "giallo", "amarelo", "geel", "żółt", "желт", "жёлт", "イエロー"}

	tonerWords = []string{"toner", "ink", "cartridge", "developer", "supply", "tinte", "encre", "tinta", "картридж", "тонер", "トナー"}
	drumWords  = []string{"drum", "imaging", "image", "opc", "photoconductor", "trommel", "tambour", "tambor", "барабан", "ドラム"}
	otherParts = []string{"waste", "used", "fuser", "fusing", "transfer", "belt", "maintenance", "kit", "roller"}
)

// ClassifyColor maps a supply or colorant description to a colorant.
// Drums, fusers and other non-toner parts return None even when they name a
// colour ("Black Drum"), unless the text also says toner/ink/cartridge.
func ClassifyColor(desc string) Color {
	clean := strings.TrimSpace(desc)
	if clean == "" {
		return None
	}

	switch extractColorFromPartNumber(clean) {
	case "toner_black":
		return Black
	case "toner_cyan":
		return Cyan
	case "toner_magenta":
		return Magenta
	case "toner_yellow":
		return Yellow
	}

	lower := normalizeText(clean)
	if lower == "" {
		return None
	}

	isToner := containsAny(lower, tonerWords)
	if !isToner && (containsAny(lower, drumWords) || containsAny(lower, otherParts)) {
		return None
	}

	switch {
	case containsAny(" "+lower+" ", blackWords) || lower == "k":
		return Black
	case containsAny(" "+lower+" ", cyanWords) || lower == "c":
		return Cyan
	case containsAny(" "+lower+" ", magentaWords) || lower == "m":
		return Magenta
	case containsAny(" "+lower+" ", yellowWords) || lower == "y":
		return Yellow
	}
	return None
}

// NormalizeDescription maps a raw supply description to a canonical metric key
// (e.g., "Black Toner" -> "toner_black", "Fuser Kit" -> "fuser_life").
// Returns an empty string if the description cannot be classified.
func NormalizeDescription(desc string) string {
	if c := ClassifyColor(desc); c != None {
		return c.MetricKey()
	}

	lower := normalizeText(desc)
	switch {
	case lower == "":
		return ""
	case containsAny(lower, drumWords):
		return "drum_life"
	case containsAny(lower, []string{"waste", "used"}):
		return "waste_toner"
	case containsAny(lower, []string{"fuser", "fusing"}):
		return "fuser_life"
	case containsAny(lower, []string{"transfer", "belt"}):
		return "transfer_belt"
	}
	return ""
}

// IsColorantType reports whether a prtMarkerSuppliesType value holds a colorant.
func IsColorantType(supplyType int) bool {
	switch supplyType {
	case oids.SupplyTypeToner, oids.SupplyTypeInk, oids.SupplyTypeInkCartridge,
		oids.SupplyTypeInkRibbon, oids.SupplyTypeTonerCartridge:
		return true
	}
	return false
}

// MentionsNonBlack reports whether a description names cyan, magenta or yellow.
func MentionsNonBlack(desc string) bool {
	switch ClassifyColor(desc) {
	case Cyan, Magenta, Yellow:
		return true
	}
	return false
}

func normalizeText(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	lower = strings.NewReplacer("_", " ", "-", " ", "\t", " ", "\n", " ").Replace(lower)
	return strings.TrimSpace(lower)
}

// extractColorFromPartNumber checks if the description is a vendor part number
// with color encoded in the suffix (K=black, C=cyan, M=magenta, Y=yellow)
// or a monochrome toner part number (no suffix = black)
func extractColorFromPartNumber(desc string) string {
	if matches := partNumberPattern.FindStringSubmatch(desc); len(matches) >= 3 {
		switch strings.ToLower(matches[2]) {
		case "k":
			return "toner_black"
		case "c":
			return "toner_cyan"
		case "m":
			return "toner_magenta"
		case "y":
			return "toner_yellow"
		}
	}

	if monoTonerPattern.MatchString(desc) {
		return "toner_black"
	}

	// Prefixed variants ("Supply TK-8517K"): a digit followed by a colour code.
	lower := strings.TrimSpace(strings.TrimPrefix(strings.ToLower(desc), "supply "))
	if len(lower) >= 4 && lower[len(lower)-2] >= '0' && lower[len(lower)-2] <= '9' {
		switch lower[len(lower)-1] {
		case 'k':
			return "toner_black"
		case 'c':
			return "toner_cyan"
		case 'm':
			return "toner_magenta"
		case 'y':
			return "toner_yellow"
		}
	}
	return ""
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
