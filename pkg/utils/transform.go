package utils

import (
	"fmt"
	"strings"
)

// Dedup trims trailing slashes and drops repeated entries, keeping the first occurrence.
func Dedup(in []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, e := range in {
		e = strings.TrimRight(strings.TrimSpace(e), "/")
		if e == "" {
			continue
		}
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// SplitList splits a comma separated list, e.g. an endpoint env var.
func SplitList(s string) []string {
	return Dedup(strings.Split(s, ","))
}

// FormatSeconds renders elapsed seconds as H:MM:SS.ss.
func FormatSeconds(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := int(seconds) / 3600
	m := (int(seconds) % 3600) / 60
	s := seconds - float64(h*3600+m*60)
	return fmt.Sprintf("%d:%02d:%05.2f", h, m, s)
}
