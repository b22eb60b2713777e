package ics

import (
	"errors"
	"strings"
	"time"
)

const (
	layoutUTC   = "20060102T150405Z"
	layoutLocal = "20060102T150405"
	layoutDate  = "20060102"
)

// parseICSTime parses a DATE or DATE-TIME value. A trailing Z means UTC;
// otherwise the value is read in tzid, falling back to time.Local when tzid
// is empty or unknown to the tz database.
func parseICSTime(v, tzid string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		return time.Parse(layoutUTC, v)
	}

	loc := time.Local
	if tzid != "" {
		if l, err := time.LoadLocation(strings.Trim(tzid, `"`)); err == nil {
			loc = l
		}
	}

	if strings.Contains(v, "T") {
		return time.ParseInLocation(layoutLocal, v, loc)
	}
	return time.ParseInLocation(layoutDate, v, loc)
}

// FormatUTC renders t as a UTC DATE-TIME value.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(layoutUTC)
}
