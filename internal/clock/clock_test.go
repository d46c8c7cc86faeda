package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AfterAdvancesAndFires(t *testing.T) {
	c := Fake(epoch)

	fired := <-c.After(2 * time.Second)

	assert.Equal(t, epoch.Add(2*time.Second), fired)
	assert.Equal(t, epoch.Add(2*time.Second), c.Now())
	assert.Equal(t, []time.Duration{2 * time.Second}, c.Waits())
}

func TestFake_NonPositiveAfterDoesNotMoveTime(t *testing.T) {
	c := Fake(epoch)

	<-c.After(0)
	<-c.After(-time.Second)

	assert.Equal(t, epoch, c.Now())
	assert.Len(t, c.Waits(), 2)
}

func TestFake_Advance(t *testing.T) {
	c := Fake(epoch)
	c.Advance(time.Minute)

	assert.Equal(t, epoch.Add(time.Minute), c.Now())
	assert.Empty(t, c.Waits())
}

func TestReal_After(t *testing.T) {
	c := Real()
	start := c.Now()
	<-c.After(time.Millisecond)
	assert.False(t, c.Now().Before(start.Add(time.Millisecond)))
}
