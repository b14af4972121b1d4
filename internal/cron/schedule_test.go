package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayedIntervalFirstFireIsAnchorPlusDelay(t *testing.T) {
	anchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewDelayedInterval(anchor, 19*time.Second, 11*time.Minute)

	assert.Equal(t, anchor.Add(19*time.Second), s.Next(anchor))
}

func TestDelayedIntervalStepsByIntervalAfterFirstFire(t *testing.T) {
	anchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewDelayedInterval(anchor, 19*time.Second, 11*time.Minute)

	firstFire := anchor.Add(19 * time.Second)
	assert.Equal(t, firstFire.Add(11*time.Minute), s.Next(firstFire))
	assert.Equal(t, firstFire.Add(22*time.Minute), s.Next(firstFire.Add(11*time.Minute)))
}

func TestDelayedIntervalHandlesMidIntervalQuery(t *testing.T) {
	anchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewDelayedInterval(anchor, time.Minute, 10*time.Minute)

	firstFire := anchor.Add(time.Minute)
	mid := firstFire.Add(4 * time.Minute)
	assert.Equal(t, firstFire.Add(10*time.Minute), s.Next(mid))
}
