package collector

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/messages"
	"github.com/LeonardoBeccarini/agrosmart/internal/services/decision"
)

func TestIngest_AutomaticRecommends(t *testing.T) {
	f := newFixture()
	st, err := f.svc.Ingest(context.Background(), "plot-1", dryPlot(), "http")
	require.NoError(t, err)

	require.NotNil(t, st.Recommendation)
	assert.Equal(t, entities.ActionIrrigate, st.Recommendation.Action)
	assert.Empty(t, st.Declined)
	assert.Equal(t, base, st.ReceivedAt)
	assert.EqualValues(t, 1, st.Updates)

	events := f.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "irrigate", events[0].Action)
	assert.Equal(t, st.Recommendation.ID, events[0].ID)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.Ingested.WithLabelValues("http")))
	assert.InDelta(t, 43.3, testutil.ToFloat64(f.m.Score.WithLabelValues("plot-1")), 1e-9)
}

func TestIngest_PublishesOnlyOnActionChange(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, _ = f.svc.Ingest(ctx, "plot-1", dryPlot(), "http")
	_, _ = f.svc.Ingest(ctx, "plot-1", dryPlot(), "http")
	_, _ = f.svc.Ingest(ctx, "plot-1", snap(entities.ConditionOptimal, nil), "http")

	events := f.sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "irrigate", events[0].Action)
	assert.Equal(t, "monitor", events[1].Action)
}

func TestIngest_EmptyDevice(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Ingest(context.Background(), "  ", dryPlot(), "http")
	assert.ErrorIs(t, err, messages.ErrInvalidSnapshot)
	assert.Zero(t, f.store.Len())
}

func TestIngest_ManualDeclines(t *testing.T) {
	f := newFixture()
	f.store.SetDefaultMode(entities.ModeManual)

	st, err := f.svc.Ingest(context.Background(), "plot-1", dryPlot(), "http")
	require.NoError(t, err)
	assert.Nil(t, st.Recommendation)
	assert.Equal(t, DeclinedManual, st.Declined)
	assert.Empty(t, f.sink.Events())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.Declined.WithLabelValues(DeclinedManual)))
}

func TestSetMode(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _ = f.svc.Ingest(ctx, "plot-1", dryPlot(), "http")

	st, err := f.svc.SetMode(ctx, "plot-1", entities.ModeManual)
	require.NoError(t, err)
	assert.Equal(t, entities.ModeManual, st.Mode)
	assert.Nil(t, st.Recommendation)
	assert.Equal(t, DeclinedManual, st.Declined)

	st, err = f.svc.SetMode(ctx, "plot-1", entities.ModeAutomatic)
	require.NoError(t, err)
	require.NotNil(t, st.Recommendation)
	assert.Len(t, f.sink.Events(), 2, "switching back republishes")

	_, err = f.svc.SetMode(ctx, "ghost", entities.ModeManual)
	assert.ErrorIs(t, err, ErrUnknownDevice)
	_, err = f.svc.SetMode(ctx, "plot-1", entities.Mode("sometimes"))
	assert.Error(t, err)
}

func TestSetGlobalMode(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _ = f.svc.Ingest(ctx, "plot-1", dryPlot(), "http")
	_, _ = f.svc.Ingest(ctx, "plot-2", dryPlot(), "http")

	require.NoError(t, f.svc.SetGlobalMode(ctx, entities.ModeManual))
	for _, st := range f.store.List() {
		assert.Equal(t, entities.ModeManual, st.Mode, st.DeviceID)
	}
	m, _ := f.svc.Mode("")
	assert.Equal(t, entities.ModeManual, m)

	st, _ := f.svc.Ingest(ctx, "plot-3", dryPlot(), "http")
	assert.Equal(t, entities.ModeManual, st.Mode, "new devices follow the default")
}

func TestRecommendation_StaleAfterMaxAge(t *testing.T) {
	f := newFixture()
	_, _ = f.svc.Ingest(context.Background(), "plot-1", dryPlot(), "http")

	rec, err := f.svc.Recommendation("plot-1")
	require.NoError(t, err)
	assert.Equal(t, entities.ActionIrrigate, rec.Action)

	f.clock.Advance(31 * time.Second)
	_, err = f.svc.Recommendation("plot-1")
	assert.ErrorIs(t, err, decision.ErrStaleSnapshot)
	assert.Equal(t, DeclinedStale, DeclineReason(err))

	st, _ := f.store.Get("plot-1")
	assert.NotNil(t, st.Recommendation, "reads do not rewrite the stored state")
	assert.False(t, f.svc.Fresh(st))

	_, err = f.svc.Recommendation("ghost")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestDeclineReason(t *testing.T) {
	assert.Equal(t, DeclinedManual, DeclineReason(decision.ErrManualMode))
	assert.Equal(t, DeclinedNone, DeclineReason(decision.ErrNoSnapshot))
	assert.Equal(t, "error", DeclineReason(assert.AnError))
}
