package telegram

import (
	"math/rand"
	"regexp"
	"strconv"
	"time"
)

const (
	defaultBaseDelay    = 1500 * time.Millisecond
	minDelay            = 500 * time.Millisecond
	maxDelay            = 60 * time.Second
	randomizationFactor = 0.2
)

var floodWaitPattern = regexp.MustCompile(`(?i)FLOOD_WAIT_(\d+)`)

// FloodWaitSeconds extracts the wait duration from a platform flood-wait
// error. The platform signals it as text ("FLOOD_WAIT_15" means 15 seconds).
// Returns false when the error is not a flood wait.
func FloodWaitSeconds(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	match := floodWaitPattern.FindStringSubmatch(err.Error())
	if match == nil {
		return 0, false
	}
	seconds, convErr := strconv.Atoi(match[1])
	if convErr != nil || seconds <= 0 {
		return 0, false
	}
	return seconds, true
}

// RandomizeDelay applies +/-20% jitter so send pacing does not look
// machine-regular, clamped to [500ms, 60s].
func RandomizeDelay(base time.Duration) time.Duration {
	if base <= 0 {
		return minDelay
	}
	jitter := float64(base) * randomizationFactor
	low := float64(base) - jitter
	randomized := low + rand.Float64()*2*jitter
	return clampDelay(time.Duration(randomized))
}

// AdaptiveDelay widens the base pacing delay when recent sends are failing or
// the sending account is young, both of which attract platform throttling.
func AdaptiveDelay(failureRate float64, accountAgeDays int) time.Duration {
	if failureRate < 0 {
		failureRate = 0
	}
	if failureRate > 1 {
		failureRate = 1
	}

	delay := defaultBaseDelay

	if failureRate > 0.05 {
		delay += time.Duration(failureRate * 4000 * float64(time.Millisecond))
	}

	switch {
	case accountAgeDays < 30:
		delay += 2 * time.Second
	case accountAgeDays < 90:
		delay += time.Second
	}

	return clampDelay(delay)
}

func clampDelay(d time.Duration) time.Duration {
	if d < minDelay {
		return minDelay
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}
