package resolver

import (
	"fmt"
	"strings"
	"time"
)

const (
	minAge = 18
	maxAge = 80
)

var birthDateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"January 2, 2006",
	"2 January 2006",
	"Jan 2, 2006",
}

// ParseBirthDate accepts the handful of date shapes people actually
// type and normalizes them to a UTC date.
func ParseBirthDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range birthDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// AgeAt returns completed years between birth and now.
func AgeAt(birth, now time.Time) int {
	years := now.Year() - birth.Year()
	anniversary := birth.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	return years
}

// ValidateBirthDate enforces the 18-80 age window. The returned
// message is safe to surface to the person directly.
func ValidateBirthDate(raw string, now time.Time) (time.Time, string) {
	birth, err := ParseBirthDate(raw)
	if err != nil {
		return time.Time{}, "Please provide a valid date of birth (age 18-80)."
	}
	if birth.After(now) {
		return time.Time{}, "Date of birth cannot be in the future."
	}
	age := AgeAt(birth, now)
	if age < minAge {
		return time.Time{}, "You must be at least 18 years old to use this service."
	}
	if age > maxAge {
		return time.Time{}, "Please provide a valid date of birth (age 18-80)."
	}
	return birth, ""
}
