package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypingThrottle(t *testing.T) {
	th := newTypingThrottle(time.Hour)

	r := th.reserve("1")
	require.NotNil(t, r)
	assert.Nil(t, th.reserve("1"), "second reservation within the interval")
	assert.NotNil(t, th.reserve("2"), "conversations are throttled independently")

	th.reset("1")
	assert.NotNil(t, th.reserve("1"), "reset clears the interval")
}

func TestTypingThrottle_CancelReturnsToken(t *testing.T) {
	th := newTypingThrottle(time.Hour)

	r := th.reserve("1")
	require.NotNil(t, r)
	r.Cancel()

	assert.NotNil(t, th.reserve("1"))
}
