package capture

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSourceLimiterDisabled(t *testing.T) {
	var l *SourceLimiter = NewSourceLimiter(0, time.Second)
	assert.Nil(t, l)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow(client, time.Now()))
	}
	assert.Zero(t, l.Rejected())
	assert.Zero(t, l.ActiveSources())
}

func TestSourceLimiterWindow(t *testing.T) {
	l := NewSourceLimiter(2, time.Second)
	other := netip.MustParseAddr("10.9.9.9")
	now := time.Unix(1700000000, 0)

	assert.True(t, l.Allow(client, now))
	assert.True(t, l.Allow(client, now.Add(100*time.Millisecond)))
	assert.False(t, l.Allow(client, now.Add(200*time.Millisecond)))
	assert.True(t, l.Allow(other, now.Add(300*time.Millisecond)), "limits are per source")
	assert.Equal(t, 2, l.ActiveSources())
	assert.Equal(t, int64(1), l.Rejected())

	assert.True(t, l.Allow(client, now.Add(time.Second)), "window rotated")
	assert.Equal(t, 1, l.ActiveSources())
}
