package phone

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrInvalidNumber  = errors.New("phone: number is not a valid E.164 candidate")
	ErrUnknownCountry = errors.New("phone: unknown country code")
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// IsE164 reports whether s is a strict E.164 number.
func IsE164(s string) bool {
	return e164Pattern.MatchString(s)
}

// Digits strips everything but decimal digits from s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Normalize maps a free-form phone string to E.164 using defaultCountry
// (ISO 3166-1 alpha-2) for bare national numbers. Rules, in order:
//
//   - a "+"-prefixed number is validated and returned as-is;
//   - a "00" international prefix is rewritten to "+";
//   - a bare number that already starts with the default country's dial
//     code and leaves a plausible national remainder is accepted as
//     already country-coded;
//   - any other bare number gets the default country's dial code
//     prepended.
//
// Group identifiers never reach this function; callers guard on the
// "@g.us" and "-group" suffixes first.
func Normalize(raw, defaultCountry string) (string, error) {
	cleaned := stripSeparators(raw)
	if cleaned == "" {
		return "", ErrInvalidNumber
	}

	if strings.HasPrefix(cleaned, "+") {
		if !IsE164(cleaned) {
			return "", ErrInvalidNumber
		}
		return cleaned, nil
	}

	if strings.HasPrefix(cleaned, "00") {
		candidate := "+" + cleaned[2:]
		if !IsE164(candidate) {
			return "", ErrInvalidNumber
		}
		return candidate, nil
	}

	if Digits(cleaned) != cleaned {
		return "", ErrInvalidNumber
	}

	dial, ok := DialCode(defaultCountry)
	if !ok {
		return "", ErrUnknownCountry
	}

	// Provider payloads often carry the country code without the plus
	// sign; a remainder of at least eight digits distinguishes those
	// from short national numbers that merely share leading digits.
	if strings.HasPrefix(cleaned, dial) && len(cleaned)-len(dial) >= 8 {
		candidate := "+" + cleaned
		if IsE164(candidate) {
			return candidate, nil
		}
	}

	candidate := "+" + dial + cleaned
	if !IsE164(candidate) {
		return "", ErrInvalidNumber
	}
	return candidate, nil
}

// SplitE164 detects the country dial code of a strict E.164 number via
// longest-prefix match over the known dial codes. ok is false when the
// number is not E.164 or no known code matches.
func SplitE164(s string) (dial, national string, ok bool) {
	if !IsE164(s) {
		return "", "", false
	}
	num := s[1:]
	for l := 3; l >= 1; l-- {
		if len(num) <= l {
			continue
		}
		if prefix := num[:l]; knownDialCodes[prefix] {
			return prefix, num[l:], true
		}
	}
	return "", "", false
}

// DialCode returns the international dial code for an ISO 3166-1 alpha-2
// country code, case-insensitively.
func DialCode(country string) (string, bool) {
	dial, ok := countryDialCodes[strings.ToUpper(strings.TrimSpace(country))]
	return dial, ok
}

func stripSeparators(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '-', '(', ')', '.', '\t':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// countryDialCodes maps ISO 3166-1 alpha-2 codes to international dial
// codes. NANP territories all map to "1".
var countryDialCodes = map[string]string{
	"AD": "376", "AE": "971", "AF": "93", "AG": "1", "AI": "1",
	"AL": "355", "AM": "374", "AO": "244", "AR": "54", "AS": "1",
	"AT": "43", "AU": "61", "AW": "297", "AZ": "994",
	"BA": "387", "BB": "1", "BD": "880", "BE": "32", "BF": "226",
	"BG": "359", "BH": "973", "BI": "257", "BJ": "229", "BM": "1",
	"BN": "673", "BO": "591", "BR": "55", "BS": "1", "BT": "975",
	"BW": "267", "BY": "375", "BZ": "501",
	"CA": "1", "CD": "243", "CF": "236", "CG": "242", "CH": "41",
	"CI": "225", "CL": "56", "CM": "237", "CN": "86", "CO": "57",
	"CR": "506", "CU": "53", "CV": "238", "CW": "599", "CY": "357",
	"CZ": "420",
	"DE": "49", "DJ": "253", "DK": "45", "DM": "1", "DO": "1",
	"DZ": "213",
	"EC": "593", "EE": "372", "EG": "20", "ER": "291", "ES": "34",
	"ET": "251",
	"FI": "358", "FJ": "679", "FM": "691", "FO": "298", "FR": "33",
	"GA": "241", "GB": "44", "GD": "1", "GE": "995", "GF": "594",
	"GH": "233", "GI": "350", "GL": "299", "GM": "220", "GN": "224",
	"GP": "590", "GQ": "240", "GR": "30", "GT": "502", "GU": "1",
	"GW": "245", "GY": "592",
	"HK": "852", "HN": "504", "HR": "385", "HT": "509", "HU": "36",
	"ID": "62", "IE": "353", "IL": "972", "IN": "91", "IQ": "964",
	"IR": "98", "IS": "354", "IT": "39",
	"JM": "1", "JO": "962", "JP": "81",
	"KE": "254", "KG": "996", "KH": "855", "KI": "686", "KM": "269",
	"KN": "1", "KR": "82", "KW": "965", "KY": "1", "KZ": "7",
	"LA": "856", "LB": "961", "LC": "1", "LI": "423", "LK": "94",
	"LR": "231", "LS": "266", "LT": "370", "LU": "352", "LV": "371",
	"LY": "218",
	"MA": "212", "MC": "377", "MD": "373", "ME": "382", "MG": "261",
	"MK": "389", "ML": "223", "MM": "95", "MN": "976", "MO": "853",
	"MQ": "596", "MR": "222", "MS": "1", "MT": "356", "MU": "230",
	"MV": "960", "MW": "265", "MX": "52", "MY": "60", "MZ": "258",
	"NA": "264", "NC": "687", "NE": "227", "NG": "234", "NI": "505",
	"NL": "31", "NO": "47", "NP": "977", "NZ": "64",
	"OM": "968",
	"PA": "507", "PE": "51", "PF": "689", "PG": "675", "PH": "63",
	"PK": "92", "PL": "48", "PR": "1", "PT": "351", "PW": "680",
	"PY": "595",
	"QA": "974",
	"RE": "262", "RO": "40", "RS": "381", "RU": "7", "RW": "250",
	"SA": "966", "SB": "677", "SC": "248", "SD": "249", "SE": "46",
	"SG": "65", "SI": "386", "SK": "421", "SL": "232", "SM": "378",
	"SN": "221", "SO": "252", "SR": "597", "SS": "211", "ST": "239",
	"SV": "503", "SX": "1", "SY": "963", "SZ": "268",
	"TC": "1", "TD": "235", "TG": "228", "TH": "66", "TJ": "992",
	"TL": "670", "TM": "993", "TN": "216", "TO": "676", "TR": "90",
	"TT": "1", "TW": "886", "TZ": "255",
	"UA": "380", "UG": "256", "US": "1", "UY": "598", "UZ": "998",
	"VC": "1", "VE": "58", "VG": "1", "VI": "1", "VN": "84",
	"VU": "678",
	"WS": "685",
	"YE": "967",
	"ZA": "27", "ZM": "260", "ZW": "263",
}

// knownDialCodes is the reverse index used for country-code detection.
var knownDialCodes = func() map[string]bool {
	m := make(map[string]bool, len(countryDialCodes))
	for _, dial := range countryDialCodes {
		m[dial] = true
	}
	return m
}()
