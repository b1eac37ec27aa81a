package collector

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
)

func TestStore_UpsertCreatesWithDefaultMode(t *testing.T) {
	s := NewStore(entities.ModeManual)
	st := s.Upsert("plot-2", func(st *entities.ModeState) { st.Updates++ })

	assert.Equal(t, "plot-2", st.DeviceID)
	assert.Equal(t, entities.ModeManual, st.Mode)
	assert.EqualValues(t, 1, st.Updates)
	assert.Equal(t, 1, s.Len())
}

func TestStore_UpdateUnknown(t *testing.T) {
	s := NewStore("")
	_, err := s.Update("ghost", func(*entities.ModeState) {})
	assert.ErrorIs(t, err, ErrUnknownDevice)
	_, err = s.Get("ghost")
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.Equal(t, entities.ModeAutomatic, s.DefaultMode())
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore(entities.ModeAutomatic)
	sn := snap(entities.ConditionOptimal, nil)
	s.Upsert("plot-1", func(st *entities.ModeState) { st.Snapshot = &sn })

	got, err := s.Get("plot-1")
	require.NoError(t, err)
	got.Snapshot.SoilMoisture = 1

	again, _ := s.Get("plot-1")
	assert.Equal(t, 50.0, again.Snapshot.SoilMoisture)
}

func TestStore_ListSorted(t *testing.T) {
	s := NewStore(entities.ModeAutomatic)
	for _, id := range []string{"c", "a", "b"} {
		s.Upsert(id, func(*entities.ModeState) {})
	}
	var ids []string
	for _, st := range s.List() {
		ids = append(ids, st.DeviceID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestStore_ConcurrentDevices(t *testing.T) {
	s := NewStore(entities.ModeAutomatic)
	var wg sync.WaitGroup
	for d := 0; d < 8; d++ {
		id := fmt.Sprintf("plot-%d", d)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Upsert(id, func(st *entities.ModeState) { st.Updates++ })
			}()
		}
	}
	wg.Wait()

	require.Equal(t, 8, s.Len())
	for _, st := range s.List() {
		assert.EqualValues(t, 50, st.Updates, st.DeviceID)
	}
}

func TestStore_HeldDeviceDoesNotBlockOthers(t *testing.T) {
	s := NewStore(entities.ModeAutomatic)
	s.Upsert("plot-1", func(*entities.ModeState) {})

	locked := make(chan struct{})
	release := make(chan struct{})
	go s.Upsert("plot-1", func(*entities.ModeState) {
		close(locked)
		<-release
	})
	<-locked
	defer close(release)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Upsert("plot-2", func(st *entities.ModeState) { st.Updates++ })
		_, _ = s.Update("plot-2", func(st *entities.ModeState) { st.Mode = entities.ModeManual })
		_, _ = s.Get("plot-2")
		_ = s.IDs()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("plot-2 blocked behind plot-1's lock")
	}

	st, err := s.Get("plot-2")
	require.NoError(t, err)
	assert.Equal(t, entities.ModeManual, st.Mode)

	read := make(chan struct{})
	go func() {
		_, _ = s.Get("plot-1")
		close(read)
	}()
	select {
	case <-read:
		t.Fatal("plot-1 read while its writer held the lock")
	case <-time.After(50 * time.Millisecond):
	}
}
