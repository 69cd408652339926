// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package rtsched is the external scheduler named throughout the core's
// design as an out-of-scope collaborator: it owns the polling timer, the
// retry budget, day-rollover resets, and handing measurements to the
// publishing layer. The core itself never retries and never sleeps on a
// calendar.
package rtsched

import (
	"time"

	"github.com/tve/yc600bridge"
	"github.com/tve/yc600bridge/internal/publish"
	"github.com/tve/yc600bridge/measure"
)

// Config tunes the scheduler loop. Zero values are replaced by the
// defaults below in New.
type Config struct {
	PollInterval   time.Duration // how often each inverter is polled
	MaxPollRetries int           // retry budget for poll_inverter, default 5
	RetryDelay     time.Duration // delay between poll retries
	Epoch          time.Time     // wall-clock sentinel: before this, day rollover and publish are skipped
	Logger         func(format string, v ...interface{})
}

const (
	DefaultPollInterval   = 5 * time.Minute
	DefaultMaxPollRetries = 5
	DefaultRetryDelay     = 2 * time.Second
)

// defaultEpoch mirrors the reference driver's literal sentinel
// (time.time() < 692284226, 1991-12-09 UTC) used to detect an unset clock
// before NTP has synced.
var defaultEpoch = time.Unix(692284226, 0)

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxPollRetries <= 0 {
		c.MaxPollRetries = DefaultMaxPollRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Epoch.IsZero() {
		c.Epoch = defaultEpoch
	}
	return c
}

// Target is one inverter the scheduler is responsible for: its registry
// index in the core and the name it publishes under.
type Target struct {
	Index int
	Name  string
}

// Scheduler drives Core.PollInverter on a timer for a fixed set of
// inverters, publishing results and performing the once-a-day counter
// reset. It is the sole caller into Core for the targets it owns; the
// core's no-concurrent-calls rule is the caller's responsibility to honor
// if more than one Scheduler is ever run against the same Core, which
// spec.md does not contemplate.
type Scheduler struct {
	core    *yc600.Core
	pub     publish.Publisher
	cfg     Config
	targets []Target
	lastDay int // day-of-year of the last reset_counters pass, -1 until first set
}

// New constructs a Scheduler. cfg's zero fields are replaced with defaults.
func New(core *yc600.Core, pub publish.Publisher, targets []Target, cfg Config) *Scheduler {
	return &Scheduler{
		core:    core,
		pub:     pub,
		cfg:     cfg.withDefaults(),
		targets: targets,
		lastDay: -1,
	}
}

func (s *Scheduler) log(format string, v ...interface{}) {
	if s.cfg.Logger != nil {
		s.cfg.Logger(format, v...)
	}
}

// Run loops forever, polling every target every PollInterval and checking
// for day rollover before each pass. It returns only if stop is closed.
func (s *Scheduler) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	s.cycle()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.cycle()
		}
	}
}

// cycle runs one ping -> retrying poll -> publish pass over every target,
// plus the day-rollover check, exactly as spec.md's scheduler contract
// describes it.
func (s *Scheduler) cycle() {
	s.maybeRollover()

	healthy, err := s.core.PingRadio()
	if err != nil || !healthy {
		s.log("rtsched: radio unhealthy, skipping cycle: %v", err)
		return
	}

	for _, t := range s.targets {
		m, err := s.pollWithRetry(t)
		if err != nil {
			s.log("rtsched: %s: poll failed after retries: %s", t.Name, err)
			continue
		}
		if !s.clockSet() {
			s.log("rtsched: %s: wall clock not set, skipping publish", t.Name)
			continue
		}
		if err := s.pub.Publish(t.Name, m); err != nil {
			s.log("rtsched: %s: publish failed: %s", t.Name, err)
		}
	}
}

// pollWithRetry retries PollInverter up to MaxPollRetries times, pausing
// RetryDelay between attempts, per spec.md's "core never retries, scheduler
// retries polls up to 5 times" recovery policy. NoRoute and Timeout and
// DataError are all treated as retryable; RadioUnhealthy and InvalidArg are
// not (the former is handled by the ping check above, the latter is a
// configuration bug that won't fix itself on retry).
func (s *Scheduler) pollWithRetry(t Target) (measure.Measurement, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxPollRetries; attempt++ {
		m, err := s.core.PollInverter(t.Index)
		if err == nil {
			return m, nil
		}
		lastErr = err
		if !retryable(err) {
			return measure.Measurement{}, err
		}
		time.Sleep(s.cfg.RetryDelay)
	}
	return measure.Measurement{}, lastErr
}

func retryable(err error) bool {
	kind, ok := yc600.KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case yc600.NoRoute, yc600.Timeout, yc600.DataError, yc600.Corrupt:
		return true
	default:
		return false
	}
}

// clockSet reports whether the wall clock is past the sentinel epoch,
// guarding against publishing or resetting counters with an unset clock
// before NTP sync.
func (s *Scheduler) clockSet() bool {
	return time.Now().After(s.cfg.Epoch)
}

// maybeRollover calls ResetCounters on every target once per local
// calendar day, and pushes a zeroed measurement to the publishing layer
// right after so dashboards show a clean break at midnight, per the
// reference driver's reset_data behavior.
func (s *Scheduler) maybeRollover() {
	if !s.clockSet() {
		return
	}
	yday := time.Now().Local().YearDay()
	if yday == s.lastDay {
		return
	}
	s.lastDay = yday

	for _, t := range s.targets {
		if err := s.core.ResetCounters(t.Index); err != nil {
			s.log("rtsched: %s: reset_counters failed: %s", t.Name, err)
			continue
		}
		if err := s.pub.Publish(t.Name, measure.Measurement{}); err != nil {
			s.log("rtsched: %s: zero-push after reset failed: %s", t.Name, err)
		}
	}
}
