// Package redact detects and masks PII in strings and nested structures.
// It is applied on every HTTP body boundary so card numbers, emails and
// government identifiers never reach logs or the audit ledger in the clear.
package redact

import (
	"regexp"
	"strings"
	"time"
)

const (
	panMask     = "****REDACTED****"
	ssnMask     = "***-**-****"
	aadhaarMask = "**** **** ****"
)

var (
	// PAN: 13-19 consecutive digits.
	panRe = regexp.MustCompile(`\d{13,19}`)
	// Email: local part truncated to two chars, domain preserved.
	emailRe = regexp.MustCompile(`([A-Za-z0-9._%+-]+)@([A-Za-z0-9.-]+\.[A-Za-z]{2,})`)
	// US SSN ###-##-####.
	ssnRe = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	// Aadhaar #### #### ####.
	aadhaarRe = regexp.MustCompile(`\b\d{4} \d{4} \d{4}\b`)
)

// Result carries a redacted value and whether anything was masked.
type Result struct {
	Value  any
	Masked bool
}

// String masks PII patterns in a single string.
func String(s string) (string, bool) {
	masked := false

	out := panRe.ReplaceAllStringFunc(s, func(string) string {
		masked = true
		return panMask
	})
	out = ssnRe.ReplaceAllStringFunc(out, func(string) string {
		masked = true
		return ssnMask
	})
	out = aadhaarRe.ReplaceAllStringFunc(out, func(string) string {
		masked = true
		return aadhaarMask
	})
	out = emailRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := emailRe.FindStringSubmatch(m)
		local, domain := sub[1], sub[2]
		if len(local) > 2 {
			local = local[:2]
		}
		masked = true
		return local + "***@" + domain
	})

	return out, masked
}

// Value walks nested maps and slices, masking every string it finds.
// Keys whose lowercased name contains "pan" have their entire value
// replaced regardless of content. Time values are serialized to ISO-8601
// before inspection so they survive the walk as strings.
func Value(v any) Result {
	return walk(v, false)
}

func walk(v any, forceMask bool) Result {
	switch t := v.(type) {
	case string:
		if forceMask {
			return Result{Value: panMask, Masked: true}
		}
		s, masked := String(t)
		return Result{Value: s, Masked: masked}
	case time.Time:
		return walk(t.UTC().Format(time.RFC3339), forceMask)
	case map[string]any:
		out := make(map[string]any, len(t))
		masked := false
		for k, val := range t {
			r := walk(val, forceMask || strings.Contains(strings.ToLower(k), "pan"))
			out[k] = r.Value
			masked = masked || r.Masked
		}
		return Result{Value: out, Masked: masked}
	case []any:
		out := make([]any, len(t))
		masked := false
		for i, val := range t {
			r := walk(val, forceMask)
			out[i] = r.Value
			masked = masked || r.Masked
		}
		return Result{Value: out, Masked: masked}
	default:
		if forceMask && v != nil {
			return Result{Value: panMask, Masked: true}
		}
		return Result{Value: v, Masked: false}
	}
}
