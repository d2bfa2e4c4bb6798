package util

import (
	"testing"
)

func TestDecodeOctetString_UTF8(t *testing.T) {
	b := []byte("Black Cartridge HP CE278A\x00")
	got := DecodeOctetString(b)
	want := "Black Cartridge HP CE278A"
	if got != want {
		t.Fatalf("DecodeOctetString UTF8: got %q want %q", got, want)
	}
}

func TestDecodeOctetString_NonUTF8(t *testing.T) {
	// Latin-1 umlaut byte that is not valid UTF-8
	b := []byte{'T', 0xf6, 'n', 'e', 'r'}
	got := DecodeOctetString(b)
	if got != "Töner" {
		t.Fatalf("DecodeOctetString latin1: got %q", got)
	}
	if DecodeOctetString(nil) != "" {
		t.Fatal("expected empty string for nil input")
	}
}

func TestCoerceToInt(t *testing.T) {
	tests := []struct {
		in   interface{}
		want int64
		ok   bool
	}{
		{int(5), 5, true},
		{uint32(4000000000), 4000000000, true},
		{uint(12), 12, true},
		{"0xb3e7", 46055, true},
		{[]byte("12345"), 12345, true},
		{" 12,345 ", 12345, true},
		{"abc", 0, false},
		{"", 0, false},
		{nil, 0, false},
		{3.5, 0, false},
	}
	for _, tt := range tests {
		got, ok := CoerceToInt(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("CoerceToInt(%#v) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestValueString(t *testing.T) {
	if got := ValueString([]byte("HP LaserJet\x00")); got != "HP LaserJet" {
		t.Errorf("ValueString bytes = %q", got)
	}
	if got := ValueString(uint(42)); got != "42" {
		t.Errorf("ValueString uint = %q", got)
	}
	if got := ValueString(nil); got != "" {
		t.Errorf("ValueString nil = %q", got)
	}
}

func TestPercent(t *testing.T) {
	cases := []struct {
		level, max int64
		want       int
	}{
		{50, 100, 50},
		{3000, 12000, 25},
		{15000, 12000, 100},
		{-3, 100, -1},
		{10, 0, -1},
		{0, 100, 0},
	}
	for _, c := range cases {
		if got := Percent(c.level, c.max); got != c.want {
			t.Errorf("Percent(%d, %d) = %d, want %d", c.level, c.max, got, c.want)
		}
	}
}
