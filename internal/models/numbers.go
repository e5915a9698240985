package models

import (
	"strings"
	"time"
)

// DocumentNumber builds human-facing numbers such as CMT-20260314-1A2B3C4D
// from a prefix, the creation date and the first eight characters of id.
func DocumentNumber(prefix, id string, at time.Time) string {
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return prefix + "-" + at.Format("20060102") + "-" + strings.ToUpper(short)
}
