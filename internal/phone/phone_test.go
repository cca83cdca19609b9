package phone

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		country string
		want    string
		wantErr error
	}{
		{"bare national number gets dial code", "11999998888", "BR", "+5511999998888", nil},
		{"already E.164 returned as-is", "+14155550000", "BR", "+14155550000", nil},
		{"double zero prefix converted", "0014155550000", "BR", "+14155550000", nil},
		{"country code without plus accepted", "5511999998888", "BR", "+5511999998888", nil},
		{"separators stripped before validation", "+55 (11) 99999-8888", "BR", "+5511999998888", nil},
		{"us bare national", "4155550000", "US", "+14155550000", nil},
		{"us number with country digit", "14155550000", "US", "+14155550000", nil},
		{"lowercase country accepted", "11999998888", "br", "+5511999998888", nil},
		{"empty input rejected", "", "BR", "", ErrInvalidNumber},
		{"letters rejected", "55abc99999", "BR", "", ErrInvalidNumber},
		{"unknown country rejected", "11999998888", "XX", "", ErrUnknownCountry},
		{"plus prefixed but invalid", "+0123", "BR", "", ErrInvalidNumber},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw, tt.country)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Normalize(%q, %q) error = %v, want %v", tt.raw, tt.country, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q, %q) = %q, want %q", tt.raw, tt.country, got, tt.want)
			}
		})
	}
}

func TestIsE164(t *testing.T) {
	tests := []struct {
		s    string
		want bool
	}{
		{"+5511999998888", true},
		{"+14155550000", true},
		{"5511999998888", false},
		{"+05511999998888", false},
		{"+55119999988881234567", false},
		{"120363407124580783-group", false},
		{"5511999998888@g.us", false},
		{"+", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsE164(tt.s); got != tt.want {
			t.Errorf("IsE164(%q) = %v, want %v", tt.s, got, tt.want)
		}
	}
}

func TestDigits(t *testing.T) {
	if got := Digits("+55 (11) 99999-8888"); got != "5511999998888" {
		t.Errorf("Digits = %q", got)
	}
	if got := Digits("5511999998888@s.whatsapp.net"); got != "5511999998888" {
		t.Errorf("Digits on jid = %q", got)
	}
}

func TestSplitE164(t *testing.T) {
	tests := []struct {
		s        string
		dial     string
		national string
		ok       bool
	}{
		{"+5511999998888", "55", "11999998888", true},
		{"+14155550000", "1", "4155550000", true},
		{"+35191234567", "351", "91234567", true},
		{"5511999998888", "", "", false},
	}

	for _, tt := range tests {
		dial, national, ok := SplitE164(tt.s)
		if dial != tt.dial || national != tt.national || ok != tt.ok {
			t.Errorf("SplitE164(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.s, dial, national, ok, tt.dial, tt.national, tt.ok)
		}
	}
}

func TestDialCode(t *testing.T) {
	if dial, ok := DialCode("BR"); !ok || dial != "55" {
		t.Errorf("DialCode(BR) = %q, %v", dial, ok)
	}
	if dial, ok := DialCode(" us "); !ok || dial != "1" {
		t.Errorf("DialCode with padding = %q, %v", dial, ok)
	}
	if _, ok := DialCode("ZZ"); ok {
		t.Error("DialCode(ZZ) should not resolve")
	}
}
