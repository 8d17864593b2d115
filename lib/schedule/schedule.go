// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

// Package schedule parses 5-field cron expressions and computes the
// next occurrence in an arbitrary time zone.
//
//	┌───────────── minute (0-59)
//	│ ┌───────────── hour (0-23)
//	│ │ ┌───────────── day of month (1-31)
//	│ │ │ ┌───────────── month (1-12)
//	│ │ │ │ ┌───────────── day of week (0-6, 0=Sunday; 7 accepted as Sunday)
//	│ │ │ │ │
//	* * * * *
//
// Fields support single values, ranges (1-5), lists (1,3,5), steps
// (*/15, 1-30/5), and wildcards. No @hourly shortcuts, no seconds
// field, no named days or months. Next evaluates in the zone of the
// time it is given, so polling runs land on site-local wall-clock
// boundaries.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed cron expression. The zero value matches nothing;
// obtain one through Parse.
type Schedule struct {
	minute fieldSet
	hour   fieldSet
	dom    fieldSet
	month  fieldSet
	dow    fieldSet
}

// fieldSet is a set of small ints packed into a uint64.
type fieldSet uint64

func (f fieldSet) contains(v int) bool { return f&(1<<uint(v)) != 0 }
func (f *fieldSet) add(v int)          { *f |= 1 << uint(v) }

// Parse parses a 5-field cron expression.
func Parse(expression string) (Schedule, error) {
	fields := strings.Fields(expression)
	if len(fields) != 5 {
		return Schedule{}, fmt.Errorf("schedule: expected 5 fields, got %d in %q", len(fields), expression)
	}

	var s Schedule
	var err error
	if s.minute, err = parseField(fields[0], 0, 59); err != nil {
		return Schedule{}, fmt.Errorf("schedule: minute field: %w", err)
	}
	if s.hour, err = parseField(fields[1], 0, 23); err != nil {
		return Schedule{}, fmt.Errorf("schedule: hour field: %w", err)
	}
	if s.dom, err = parseField(fields[2], 1, 31); err != nil {
		return Schedule{}, fmt.Errorf("schedule: day-of-month field: %w", err)
	}
	if s.month, err = parseField(fields[3], 1, 12); err != nil {
		return Schedule{}, fmt.Errorf("schedule: month field: %w", err)
	}
	if s.dow, err = parseField(fields[4], 0, 7); err != nil {
		return Schedule{}, fmt.Errorf("schedule: day-of-week field: %w", err)
	}
	// Fold the 7-as-Sunday alias onto 0 so matching only checks 0-6.
	if s.dow.contains(7) {
		s.dow.add(0)
	}
	return s, nil
}

// MustParse is Parse for compile-time-constant expressions; it panics
// on error.
func MustParse(expression string) Schedule {
	s, err := Parse(expression)
	if err != nil {
		panic(err)
	}
	return s
}

// Next returns the earliest instant strictly after t that matches the
// schedule, computed on wall-clock fields in t's location. An error is
// returned when nothing matches within four years, which covers
// impossible dates like February 30.
func (s Schedule) Next(t time.Time) (time.Time, error) {
	loc := t.Location()
	t = t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(4, 0, 0)

	for t.Before(limit) {
		if !s.month.contains(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		// Both day fields must match. A wildcard field has every bit
		// set, so this collapses to the restricted field's constraint
		// when only one is restricted.
		if !s.dom.contains(t.Day()) || !s.dow.contains(int(t.Weekday())) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !s.hour.contains(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if !s.minute.contains(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("schedule: no occurrence within 4 years of %s", t.Format(time.RFC3339))
}

func parseField(field string, minimum, maximum int) (fieldSet, error) {
	var set fieldSet
	for _, term := range strings.Split(field, ",") {
		bits, err := parseTerm(term, minimum, maximum)
		if err != nil {
			return 0, err
		}
		set |= bits
	}
	if set == 0 {
		return 0, fmt.Errorf("field %q matches nothing", field)
	}
	return set, nil
}

// parseTerm handles *, */N, V, V-V, and V-V/N.
func parseTerm(term string, minimum, maximum int) (fieldSet, error) {
	base, stepText, hasStep := strings.Cut(term, "/")
	step := 1
	if hasStep {
		parsed, err := strconv.Atoi(stepText)
		if err != nil {
			return 0, fmt.Errorf("bad step %q: %w", stepText, err)
		}
		if parsed <= 0 {
			return 0, fmt.Errorf("step must be positive, got %d", parsed)
		}
		step = parsed
	}

	var lo, hi int
	switch {
	case base == "*":
		lo, hi = minimum, maximum
	case strings.ContainsRune(base, '-'):
		loText, hiText, _ := strings.Cut(base, "-")
		var err error
		if lo, err = strconv.Atoi(loText); err != nil {
			return 0, fmt.Errorf("bad range start %q: %w", loText, err)
		}
		if hi, err = strconv.Atoi(hiText); err != nil {
			return 0, fmt.Errorf("bad range end %q: %w", hiText, err)
		}
		if lo > hi {
			return 0, fmt.Errorf("range %d-%d reversed", lo, hi)
		}
	default:
		value, err := strconv.Atoi(base)
		if err != nil {
			return 0, fmt.Errorf("bad value %q: %w", base, err)
		}
		lo, hi = value, value
	}

	if lo < minimum || hi > maximum {
		return 0, fmt.Errorf("value outside [%d-%d]: %d-%d", minimum, maximum, lo, hi)
	}

	var set fieldSet
	for v := lo; v <= hi; v += step {
		set.add(v)
	}
	return set, nil
}
