package devices

import (
	"regexp"
	"strings"
)

// sentinelMAC is what unconfigured firmware reports before reading its NIC
const sentinelMAC = "000000000000"

// minMACHexLen is the number of hex digits in a 48-bit MAC
const minMACHexLen = 12

var (
	separatedMACRe = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)
	bareMACRe      = regexp.MustCompile(`^[0-9A-Fa-f]{12}$`)
)

// NormalizeMAC strips colon/dash separators and whitespace and uppercases the rest
func NormalizeMAC(mac string) string {
	r := strings.NewReplacer(":", "", "-", "", " ", "", ".", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(mac)))
}

// ColonMAC re-inserts a colon every two characters of a normalized MAC
func ColonMAC(normalized string) string {
	var b strings.Builder
	for i := 0; i < len(normalized); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		end := i + 2
		if end > len(normalized) {
			end = len(normalized)
		}
		b.WriteString(normalized[i:end])
	}
	return b.String()
}

// macCandidates lists the spellings tried by FindByMAC, in order, without duplicates
func macCandidates(mac string) []string {
	upper := strings.ToUpper(strings.TrimSpace(mac))
	stripped := NormalizeMAC(mac)
	out := make([]string, 0, 3)
	for _, c := range []string{upper, stripped, ColonMAC(stripped)} {
		if c == "" {
			continue
		}
		dup := false
		for _, o := range out {
			if o == c {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

// validForAutoRegistration checks the minimal sanity rules for a MAC seen from firmware
func validForAutoRegistration(normalized string) bool {
	if normalized == sentinelMAC || len(normalized) < minMACHexLen {
		return false
	}
	for _, c := range normalized {
		if !strings.ContainsRune("0123456789ABCDEF", c) {
			return false
		}
	}
	return true
}

// validForRegistration checks the stricter format accepted from users
func validForRegistration(mac string) bool {
	mac = strings.TrimSpace(mac)
	return separatedMACRe.MatchString(mac) || bareMACRe.MatchString(mac)
}
