// Package util holds small value-conversion helpers shared by the SNMP, identity and web packages.
package util

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DecodeOctetString attempts to convert raw octet string bytes into a
// human-friendly UTF-8 string. Valid UTF-8 is kept as-is; anything else is
// mapped byte-for-rune (ISO-8859-1 best effort). Control characters are
// stripped and the result is trimmed.
func DecodeOctetString(b []byte) string {
	if b == nil {
		return ""
	}
	if utf8.Valid(b) {
		return sanitizeString(string(b))
	}
	runes := make([]rune, 0, len(b))
	for _, by := range b {
		runes = append(runes, rune(by))
	}
	return sanitizeString(string(runes))
}

// sanitizeString removes C0 control characters (except tab, newline and
// carriage return) and trims surrounding whitespace.
func sanitizeString(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// CoerceToInt converts the value types SNMP agents return for numeric
// objects (signed/unsigned integers, decimal or 0x-prefixed strings, byte
// slices holding digits) into an int64. Returns (value, ok).
func CoerceToInt(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), true
	case string:
		return parseStringInt(t)
	case []byte:
		return parseStringInt(string(t))
	}
	return 0, false
}

func parseStringInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if i, err := strconv.ParseInt(s, 0, 64); err == nil {
			return i, true
		}
		return 0, false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	// Some consoles render counters with thousands separators ("12,345").
	if cleaned := strings.NewReplacer(",", "", " ", "", "\u00a0", "").Replace(s); cleaned != s {
		if i, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

// ValueString renders an SNMP value as text. Byte slices go through DecodeOctetString.
func ValueString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return DecodeOctetString(t)
	case string:
		return sanitizeString(t)
	default:
		return fmt.Sprint(t)
	}
}

// Percent converts a supply level/max pair to 0..100. Printer-MIB sentinels
// (-3 someRemaining, -2 unknown, -1 unrestricted) and a missing max yield -1.
func Percent(level, max int64) int {
	if level < 0 || max <= 0 {
		return -1
	}
	if level >= max {
		return 100
	}
	return int(level * 100 / max)
}
