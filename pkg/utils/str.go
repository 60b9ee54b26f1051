package utils

import (
	"regexp"
	"strings"
)

// SplitByMultipleDelimiters splits s on any of the given single-character delimiters
func SplitByMultipleDelimiters(s string, delimiters ...string) []string {
	if len(delimiters) == 0 {
		return []string{s}
	}
	delimiterPattern := "[" + regexp.QuoteMeta(strings.Join(delimiters, "")) + "]"
	re := regexp.MustCompile(delimiterPattern)
	return re.Split(s, -1)
}

// SplitAddrs splits an address list such as "h1:6379;h2:6379, h3:6379",
// dropping blanks and surrounding whitespace
func SplitAddrs(s string) []string {
	parts := SplitByMultipleDelimiters(s, ";", ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			addrs = append(addrs, p)
		}
	}
	return addrs
}
