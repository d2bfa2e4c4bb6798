package identity

import (
	"testing"

	"printmaster/telemetry/scanner/vendor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptSerial(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		raw    string
		vendor vendor.Vendor
		want   string
		ok     bool
	}{
		{"plain hp serial", "CNB8K1234X", vendor.HP, "CNB8K1234X", true},
		{"quoted and padded", ` "VNB3R12345" `, vendor.HP, "VNB3R12345", true},
		{"sn prefix stripped", "SN: E78123456", vendor.Brother, "E78123456", true},
		{"version suffix stripped", "AK12345678 v1.02", vendor.OKI, "AK12345678", true},
		{"revision suffix stripped", "X5QZ012345-Rev.B", vendor.Epson, "X5QZ012345", true},
		{"too short", "AB12", vendor.Generic, "", false},
		{"short with vendor prefix", "AK123", vendor.OKI, "AK123", true},
		{"letters only", "UNKNOWN", vendor.Generic, "", false},
		{"digits only generic", "123456789", vendor.Generic, "", false},
		{"digits only lexmark", "701612345", vendor.Lexmark, "701612345", true},
		{"short digits lexmark", "70161", vendor.Lexmark, "", false},
		{"placeholder", "0000000000", vendor.Lexmark, "", false},
		{"vendor name", "HP LaserJet M402", vendor.HP, "", false},
		{"model string", "MFC-L8900CDW series", vendor.Brother, "", false},
		{"consumable", "Black Toner TN-421BK", vendor.Brother, "", false},
		{"location", "Room 214B", vendor.Generic, "", false},
		{"free text", "please set the asset tag", vendor.Generic, "", false},
		{"spaces inside", "AB 12 34", vendor.Generic, "", false},
		{"empty", "   ", vendor.Generic, "", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := AcceptSerial(tt.raw, tt.vendor)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestIsRealSerial(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRealSerial("CNB8K1234X", vendor.HP))
	assert.True(t, IsRealSerial("E78123456", vendor.Brother))
	assert.True(t, IsRealSerial("7016123", vendor.Lexmark))
	assert.True(t, IsRealSerial("ZQ5123456", vendor.Generic))
	assert.False(t, IsRealSerial("NPI4B2C1D", vendor.HP), "hostname-like value is not a real serial")
	assert.False(t, IsRealSerial("AK123", vendor.OKI))
	assert.False(t, IsRealSerial("", vendor.Generic))
}

func TestMergeSerial(t *testing.T) {
	t.Parallel()

	weak := resolved("NPI4B2C1D", SourceProtocol, ConfidenceMedium)
	strong := resolved("CNB8K1234X", SourceProtocol, ConfidenceHigh)

	t.Run("page fills unresolved", func(t *testing.T) {
		got := MergeSerial(unresolved[string]("none"), "CNB8K1234X", vendor.HP)
		assert.True(t, got.Resolved)
		assert.Equal(t, SourceScrape, got.Source)
		assert.Equal(t, ConfidenceHigh, got.Confidence)
		assert.NoError(t, got.Err)
	})
	t.Run("real page serial beats weak protocol", func(t *testing.T) {
		got := MergeSerial(weak, "CNB8K1234X", vendor.HP)
		assert.Equal(t, "CNB8K1234X", got.Value)
		assert.Equal(t, SourceScrape, got.Source)
	})
	t.Run("strong protocol kept over equally long page serial", func(t *testing.T) {
		got := MergeSerial(strong, "CNB8K9999X", vendor.HP)
		assert.Equal(t, "CNB8K1234X", got.Value)
		assert.Equal(t, SourceProtocol, got.Source)
	})
	t.Run("longer real page serial beats shorter protocol", func(t *testing.T) {
		got := MergeSerial(resolved("CN812345", SourceProtocol, ConfidenceHigh), "CN81234567", vendor.HP)
		assert.Equal(t, "CN81234567", got.Value)
	})
	t.Run("agreement raises confidence", func(t *testing.T) {
		got := MergeSerial(weak, "npi4b2c1d", vendor.HP)
		assert.Equal(t, SourceProtocol, got.Source)
		assert.Equal(t, ConfidenceHigh, got.Confidence)
	})
	t.Run("weak page serial never replaces protocol", func(t *testing.T) {
		got := MergeSerial(weak, "ABC123", vendor.HP)
		assert.Equal(t, "NPI4B2C1D", got.Value)
	})
}

func TestSerialFromPages(t *testing.T) {
	t.Parallel()

	table := `<table><tr><td>Serial Number</td><td>CNB8K1234X</td></tr></table>`
	s, ok := SerialFromPages([]string{table}, vendor.HP)
	require.True(t, ok)
	assert.Equal(t, "CNB8K1234X", s)

	freeText := `<p>Device information</p><p>Model: X</p><p>S/N: ZQ5123456</p>`
	s, ok = SerialFromPages([]string{"<p>nothing here</p>", freeText}, vendor.Generic)
	require.True(t, ok)
	assert.Equal(t, "ZQ5123456", s)

	weakOnly := `<p>Serial: ABC123</p>`
	s, ok = SerialFromPages([]string{weakOnly}, vendor.Generic)
	require.True(t, ok)
	assert.Equal(t, "ABC123", s)

	_, ok = SerialFromPages([]string{"<p>Serial: Room 12</p>"}, vendor.Generic)
	assert.False(t, ok)
}

func TestParseDeviceIDPayload(t *testing.T) {
	t.Parallel()

	fields := parseDeviceIDPayload("MFG:Brother;CMD:PJL,PCL;MDL:HL-L8360CDW series;CLS:PRINTER;SN=E78123456; ;bad")
	assert.Equal(t, "Brother", fields["mfg"])
	assert.Equal(t, "HL-L8360CDW series", fields["mdl"])
	assert.Equal(t, "E78123456", fields["sn"])
	assert.NotContains(t, fields, "bad")
	assert.Empty(t, parseDeviceIDPayload(""))
}
