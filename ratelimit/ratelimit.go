/*
Copyright 2025 The Jib Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ratelimit implements the sliding-window counters that keep the
// gateway's GitHub traffic well under the authenticated hourly ceiling.
// Every accepted request counts against both its operation class and the
// combined safety cap.
package ratelimit

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ClassCombined is the aggregate bucket across all operation classes.
const ClassCombined = "combined"

// Window is the sliding window all limits are evaluated over.
const Window = 3600 * time.Second

// DefaultLimits returns the per-hour limits. The combined cap keeps the
// total below GitHub's 5000/h authenticated ceiling with headroom.
func DefaultLimits() map[string]int {
	return map[string]int{
		"git_push":      1000,
		"git_fetch":     2000,
		"gh_pr_create":  500,
		"gh_pr_comment": 2000,
		"gh_pr_edit":    500,
		"gh_pr_close":   500,
		"gh_execute":    2000,
		ClassCombined:   4000,
	}
}

// Result reports a limiter decision. On deny, Class names the bucket that
// refused and Count/Limit its current occupancy.
type Result struct {
	Allowed bool
	Class   string
	Count   int
	Limit   int
}

// Limiter holds per-class timestamp lists. One lock guards all buckets;
// checking the class and the combined bucket under it keeps the two
// counters incremented on exactly the same events.
type Limiter struct {
	mu     sync.Mutex
	limits map[string]int
	events map[string][]time.Time
	now    func() time.Time
}

// NewLimiter builds a limiter from limits, filling in defaults for any
// class not named. A class limit above the combined cap is clamped to it.
func NewLimiter(limits map[string]int) *Limiter {
	merged := DefaultLimits()
	for class, limit := range limits {
		merged[class] = limit
	}
	combinedCap := merged[ClassCombined]
	for class, limit := range merged {
		if class != ClassCombined && limit > combinedCap {
			logrus.WithFields(logrus.Fields{"class": class, "limit": limit, "cap": combinedCap}).Warn("Rate limit exceeds the combined cap, clamping.")
			merged[class] = combinedCap
		}
	}
	return &Limiter{
		limits: merged,
		events: map[string][]time.Time{},
		now:    time.Now,
	}
}

// prune drops timestamps older than the window. Callers hold the lock.
func (l *Limiter) prune(class string, now time.Time) []time.Time {
	cutoff := now.Add(-Window)
	events := l.events[class]
	kept := events[:0]
	for _, event := range events {
		if event.After(cutoff) {
			kept = append(kept, event)
		}
	}
	l.events[class] = kept
	return kept
}

// Record accounts one attempted operation of the given class. It denies
// when either the class bucket or the combined bucket is full, and
// otherwise appends the event to both.
func (l *Limiter) Record(class string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	classEvents := l.prune(class, now)
	if limit, ok := l.limits[class]; ok && len(classEvents) >= limit {
		return Result{Allowed: false, Class: class, Count: len(classEvents), Limit: limit}
	}
	combinedEvents := l.prune(ClassCombined, now)
	if limit := l.limits[ClassCombined]; len(combinedEvents) >= limit {
		return Result{Allowed: false, Class: ClassCombined, Count: len(combinedEvents), Limit: limit}
	}

	l.events[class] = append(classEvents, now)
	l.events[ClassCombined] = append(combinedEvents, now)
	return Result{Allowed: true, Class: class, Count: len(l.events[class]), Limit: l.limits[class]}
}

// Count returns the current occupancy of a class bucket.
func (l *Limiter) Count(class string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(class, l.now()))
}
