package dedup

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldProcess_WithinTTL(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := New(time.Minute, 10).WithClock(func() time.Time { return now })

	assert.True(t, d.ShouldProcess("a"))
	assert.False(t, d.ShouldProcess("a"))

	now = now.Add(61 * time.Second)
	assert.True(t, d.ShouldProcess("a"), "expired ids are processed again")
}

func TestShouldProcess_EmptyID(t *testing.T) {
	d := New(time.Minute, 10)
	assert.True(t, d.ShouldProcess(""))
	assert.True(t, d.ShouldProcess(""))
	assert.Equal(t, 0, d.Len())
}

func TestShouldProcess_CapEvictsOldest(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := New(time.Hour, 3).WithClock(func() time.Time { return now })

	for i := 0; i < 4; i++ {
		now = now.Add(time.Second)
		assert.True(t, d.ShouldProcess(fmt.Sprintf("id-%d", i)))
	}
	assert.Equal(t, 3, d.Len())
	assert.True(t, d.ShouldProcess("id-0"), "oldest id was evicted")
	assert.False(t, d.ShouldProcess("id-3"))
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key([]byte(`{"a":1}`)), Key([]byte(`{"a":1}`)))
	assert.NotEqual(t, Key([]byte(`{"a":1}`)), Key([]byte(`{"a":2}`)))
	assert.Len(t, Key(nil), 64)
}
