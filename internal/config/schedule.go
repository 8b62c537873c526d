package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Schedules default to Asia/Seoul on hosts without a zoneinfo database
)

const (
	defaultTimezone        = "Asia/Seoul"
	defaultRecentAt        = "03:20"
	defaultRecentMonths    = 1
	defaultBackfillAt      = "04:00"
	defaultBackfillWeekday = "monday"
	defaultBackfillMonths  = 24
)

// ScheduleConfig defines the calendar that triggers ingestion runs
type ScheduleConfig struct {
	// Disabled turns the calendar trigger off; manual endpoints keep working
	Disabled bool `yaml:"disabled,omitempty"`

	// Timezone is an IANA location name used to interpret the firing times
	Timezone string `yaml:"timezone,omitempty"`

	// RunOnStartup triggers a backfill run as soon as the service starts
	RunOnStartup bool `yaml:"runOnStartup,omitempty"`

	// Recent is the frequent small-window run
	Recent *JobConfig `yaml:"recent,omitempty"`

	// Backfill is the rare deep run
	Backfill *JobConfig `yaml:"backfill,omitempty"`
}

// JobConfig defines one calendar entry
type JobConfig struct {
	// At is the local firing time as HH:MM
	At string `yaml:"at,omitempty"`

	// Weekday restricts firing to one day of the week; empty means daily
	Weekday string `yaml:"weekday,omitempty"`

	// Months is the window size in months
	Months int `yaml:"months,omitempty"`

	// Parallelism overrides the ingest default for this job
	Parallelism int `yaml:"parallelism,omitempty"`
}

// GetLocation returns the schedule time zone
func (s *ScheduleConfig) GetLocation() (*time.Location, error) {
	name := defaultTimezone
	if s != nil && s.Timezone != "" {
		name = s.Timezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %q: %w", name, err)
	}
	return loc, nil
}

// GetRecent returns the recent-window job with defaults applied
func (s *ScheduleConfig) GetRecent() JobConfig {
	job := JobConfig{At: defaultRecentAt, Months: defaultRecentMonths}
	if s != nil && s.Recent != nil {
		job = mergeJob(job, *s.Recent)
	}
	return job
}

// GetBackfill returns the deep backfill job with defaults applied
func (s *ScheduleConfig) GetBackfill() JobConfig {
	job := JobConfig{At: defaultBackfillAt, Weekday: defaultBackfillWeekday, Months: defaultBackfillMonths}
	if s != nil && s.Backfill != nil {
		job = mergeJob(job, *s.Backfill)
	}
	return job
}

func mergeJob(base, override JobConfig) JobConfig {
	if override.At != "" {
		base.At = override.At
	}
	if override.Weekday != "" {
		base.Weekday = override.Weekday
	}
	if override.Months > 0 {
		base.Months = override.Months
	}
	if override.Parallelism > 0 {
		base.Parallelism = override.Parallelism
	}
	return base
}

// ParseClock parses an HH:MM time of day
func ParseClock(value string) (hour, minute int, err error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time of day must be HH:MM, got %q", value)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour, minute, nil
}

// ParseWeekday parses an English weekday name or its three-letter abbreviation
func ParseWeekday(value string) (time.Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if v == name || v == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", value)
}

func (s *ScheduleConfig) validate() error {
	prefix := "schedule"
	if _, err := s.GetLocation(); err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	for name, job := range map[string]JobConfig{"recent": s.GetRecent(), "backfill": s.GetBackfill()} {
		if _, _, err := ParseClock(job.At); err != nil {
			return fmt.Errorf("%s: %s.at: %w", prefix, name, err)
		}
		if job.Weekday != "" {
			if _, err := ParseWeekday(job.Weekday); err != nil {
				return fmt.Errorf("%s: %s.weekday: %w", prefix, name, err)
			}
		}
		if job.Parallelism < 0 {
			return fmt.Errorf("%s: %s.parallelism must not be negative", prefix, name)
		}
	}
	return nil
}
