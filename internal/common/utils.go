package common

import (
	"math"
	"strconv"
	"strings"
)

// ParseOptionalFloat parses s as a float. Empty strings and "null" yield nil.
func ParseOptionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"`))
	if s == "" || s == "null" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, nil
	}
	return &v, nil
}

// FormatMeasure renders v rounded to one decimal without trailing zeros ("40", "120.5").
func FormatMeasure(v float64) string {
	return strconv.FormatFloat(math.Round(v*10)/10, 'f', -1, 64)
}
