// internal/capture/throttle_test.go
package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottle_AdmitsOnePerInterval(t *testing.T) {
	th := NewThrottle(time.Hour)
	assert.True(t, th.Allow("hover"))
	assert.False(t, th.Allow("hover"))
}

func TestThrottle_PurposesAreIndependent(t *testing.T) {
	th := NewThrottle(time.Hour)
	assert.True(t, th.Allow("hover"))
	assert.True(t, th.Allow("scroll"), "a hover burst must not starve scroll")
	assert.False(t, th.Allow("hover"))
	assert.False(t, th.Allow("scroll"))
}

func TestThrottle_ResetClearsWindows(t *testing.T) {
	th := NewThrottle(time.Hour)
	assert.True(t, th.Allow("hover"))
	assert.False(t, th.Allow("hover"))

	th.Reset()
	assert.True(t, th.Allow("hover"))
}

func TestThrottle_DisabledAdmitsEverything(t *testing.T) {
	th := NewThrottle(0)
	for i := 0; i < 10; i++ {
		assert.True(t, th.Allow("hover"))
	}
}

func TestThrottle_RefillsAfterInterval(t *testing.T) {
	th := NewThrottle(10 * time.Millisecond)
	assert.True(t, th.Allow("scroll"))
	assert.False(t, th.Allow("scroll"))

	time.Sleep(15 * time.Millisecond)
	assert.True(t, th.Allow("scroll"))
}
