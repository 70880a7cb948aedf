package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottle(t *testing.T) {
	now := time.Unix(100, 0)
	th := newThrottle(updateInterval)
	th.now = func() time.Time { return now }

	assert.True(t, th.Allow(), "first update always passes")
	assert.False(t, th.Allow())

	now = now.Add(updateInterval - time.Millisecond)
	assert.False(t, th.Allow())

	now = now.Add(time.Millisecond)
	assert.True(t, th.Allow())
	assert.False(t, th.Allow())
}
