package identity

import (
	"regexp"
	"strings"
	"unicode"

	"printmaster/telemetry/scanner/vendor"
	"printmaster/telemetry/util"
	"printmaster/telemetry/webui"
)

const minSerialLength = 6

var (
	serialPrefixPattern = regexp.MustCompile(`(?i)^\s*(?:s/?n|serial(?:\s*(?:no\.?|number|#))?)(?:\s*[:#=]\s*|\s+)`)
	serialSuffixPattern = regexp.MustCompile(`(?i)(?:[\s_/]+v(?:er(?:sion)?)?\.?\s*\d+(?:\.\d+)*|[\s_/\-]*\brev(?:ision)?\.?\s*[a-z0-9.]+|[\s_/]+fw\s*[\w.]+)$`)
	serialCharset       = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9\-]*$`)
	realSerialPattern   = regexp.MustCompile(`^[A-Z]{1,4}[0-9]{2}[A-Z0-9]{4,14}$`)
	pageSerialPattern   = regexp.MustCompile(`(?i)\b(?:sn|s/n|serial(?:\s*(?:no\.?|number|#))?)\s*[:=#]?\s*([A-Za-z0-9\-]{4,40})`)
)

var (
	modelFragments = []string{"laserjet", "officejet", "pagewide", "workforce", "ecotank", "aficio", "printer", "mfp", "jetdirect", "series"}
	vendorTokens   = map[string]bool{
		"hp": true, "hewlett": true, "packard": true, "oki": true, "okidata": true, "brother": true,
		"lexmark": true, "epson": true, "ricoh": true, "savin": true, "lanier": true, "canon": true,
		"kyocera": true, "xerox": true, "sharp": true, "konica": true, "minolta": true, "samsung": true,
	}
	consumableWords = []string{"toner", "cartridge", "drum", "ink", "fuser", "waste", "maintenance", "kit", "developer", "black", "cyan", "magenta", "yellow"}
	locationWords   = []string{"floor", "room", "office", "building", "bldg", "street", "suite", "desk", "reception", "lobby", "wing", "hall"}
)

// AcceptSerial applies the validity filter and cleanup to a raw candidate.
// Vendor and model names, consumable descriptions and location-like text are
// rejected; accepted values carry letters and digits and are at least six
// characters long, except where the vendor's serial conventions say otherwise.
func AcceptSerial(raw string, v vendor.Vendor) (string, bool) {
	s := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `"'`))
	if s == "" || rejectSerialText(s) {
		return "", false
	}
	s = cleanupSerial(s)
	if s == "" || !serialCharset.MatchString(s) || placeholder(s) {
		return "", false
	}

	hasLetter, hasDigit := classes(s)
	switch {
	case !hasLetter && hasDigit:
		// Lexmark ships purely numeric serials.
		return s, v == vendor.Lexmark && len(s) >= 7
	case hasLetter && hasDigit && len(s) >= minSerialLength:
		return s, true
	case hasLetter && hasDigit && hasVendorPrefix(s, v) && len(s) >= 5:
		return s, true
	}
	return "", false
}

// IsRealSerial reports whether a serial matches a recognized manufacturer
// pattern: a known vendor prefix or the common letters-then-digits layout,
// or a long Lexmark numeric serial.
func IsRealSerial(s string, v vendor.Vendor) bool {
	if s == "" {
		return false
	}
	hasLetter, hasDigit := classes(s)
	if v == vendor.Lexmark && !hasLetter && hasDigit && len(s) >= 7 {
		return true
	}
	if hasVendorPrefix(s, v) && len(s) >= 8 {
		return true
	}
	return realSerialPattern.MatchString(strings.ToUpper(s)) && len(s) >= 8
}

func serialConfidence(s string, v vendor.Vendor) Confidence {
	if IsRealSerial(s, v) {
		return ConfidenceHigh
	}
	return ConfidenceMedium
}

// MergeSerial combines a protocol-derived field with a console-derived
// serial. A console serial matching a real-serial pattern wins over a
// missing, weaker or shorter protocol value; agreement raises confidence.
func MergeSerial(protocol Field[string], page string, v vendor.Vendor) Field[string] {
	if page == "" {
		return protocol
	}
	pageField := resolved(page, SourceScrape, serialConfidence(page, v))
	if !protocol.Resolved {
		return pageField
	}
	if strings.EqualFold(protocol.Value, page) {
		protocol.Confidence = ConfidenceHigh
		return protocol
	}
	if IsRealSerial(page, v) && (!IsRealSerial(protocol.Value, v) || len(page) > len(protocol.Value)) {
		return pageField
	}
	return protocol
}

// SerialFromPages extracts the best serial from console page bodies: table
// cells labelled "serial" first, then free-text "S/N" style mentions.
func SerialFromPages(bodies []string, v vendor.Vendor) (string, bool) {
	var fallback string
	consider := func(raw string) bool {
		s, ok := AcceptSerial(raw, v)
		if !ok {
			return false
		}
		if IsRealSerial(s, v) {
			fallback = s
			return true
		}
		if fallback == "" {
			fallback = s
		}
		return false
	}

	for _, body := range bodies {
		if cell, ok := webui.FindLabeledValue(body, "serial"); ok && consider(cell) {
			return fallback, true
		}
		for _, m := range pageSerialPattern.FindAllStringSubmatch(webui.VisibleText(body), -1) {
			if consider(m[1]) {
				return fallback, true
			}
		}
	}
	return fallback, fallback != ""
}

// parseDeviceIDPayload extracts key/value pairs from IEEE-1284 style descriptors.
func parseDeviceIDPayload(raw string) map[string]string {
	fields := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		sep := strings.IndexAny(part, ":=")
		if sep == -1 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(part[:sep]))
		val := strings.TrimSpace(part[sep+1:])
		if key != "" && val != "" {
			fields[key] = val
		}
	}
	return fields
}

func rejectSerialText(s string) bool {
	lower := strings.ToLower(s)
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }) {
		if vendorTokens[tok] {
			return true
		}
	}
	for _, frag := range modelFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	for _, w := range consumableWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	for _, w := range locationWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return len(strings.Fields(s)) > 3
}

func cleanupSerial(s string) string {
	s = util.DecodeOctetString([]byte(s))
	s = serialPrefixPattern.ReplaceAllString(s, "")
	for {
		next := strings.TrimSpace(serialSuffixPattern.ReplaceAllString(s, ""))
		if next == s {
			break
		}
		s = next
	}
	return strings.TrimRight(s, ".-_ ")
}

func placeholder(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

func classes(s string) (hasLetter, hasDigit bool) {
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return
}

// hasVendorPrefix checks the vendor's known prefixes, or every vendor's
// multi-character prefixes when the vendor is generic.
func hasVendorPrefix(s string, v vendor.Vendor) bool {
	upper := strings.ToUpper(s)
	var profiles []vendor.Profile
	if v == vendor.Generic {
		profiles = vendor.Profiles()
	} else if p, ok := vendor.Lookup(v); ok {
		profiles = []vendor.Profile{p}
	}
	for _, p := range profiles {
		for _, prefix := range p.SerialPrefixes {
			if v == vendor.Generic && len(prefix) < 2 {
				continue
			}
			if strings.HasPrefix(upper, strings.ToUpper(prefix)) {
				return true
			}
		}
	}
	return false
}
