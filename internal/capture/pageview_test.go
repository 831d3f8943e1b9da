// internal/capture/pageview_test.go
package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webtrail/api/schemas"
)

func TestPageView_DwellTimeExcludesBackground(t *testing.T) {
	// t0 visible start, t1 hidden, t2 visible again, t3 end.
	const t0, t1, t2, t3 = int64(1000), int64(4000), int64(9000), int64(11000)

	pv := NewPageView("https://example.com", "Example", "", t0, true)
	pv.MarkHidden(t1)
	pv.MarkVisible(t2)

	payload := pv.Finalize("sess", "task", t3)
	require.NotNil(t, payload)

	assert.Equal(t, (t1-t0)+(t3-t2), payload.DwellTime)
	assert.Equal(t, []schemas.VisibilityInterval{
		{In: t0, Out: t1},
		{In: t2, Out: t3},
	}, payload.VisibilityIntervals)
}

func TestPageView_DwellTimeSingleInterval(t *testing.T) {
	const t0, t1, t3 = int64(100), int64(600), int64(900)

	pv := NewPageView("https://example.com", "", "", t0, true)
	pv.MarkHidden(t1)

	payload := pv.Finalize("sess", "", t3)
	require.NotNil(t, payload)
	assert.Equal(t, t1-t0, payload.DwellTime)
	assert.Equal(t, []schemas.VisibilityInterval{{In: t0, Out: t1}}, payload.VisibilityIntervals)
}

func TestPageView_RedundantVisibilitySignals(t *testing.T) {
	pv := NewPageView("https://example.com", "", "", 100, true)
	pv.MarkVisible(200) // already visible, no-op
	pv.MarkHidden(300)
	pv.MarkHidden(400) // already hidden, no-op

	payload := pv.Finalize("sess", "", 500)
	require.NotNil(t, payload)
	assert.Equal(t, int64(200), payload.DwellTime)
}

func TestPageView_StartsHidden(t *testing.T) {
	pv := NewPageView("https://example.com", "", "", 100, false)
	pv.MarkVisible(300)

	payload := pv.Finalize("sess", "", 500)
	require.NotNil(t, payload)
	assert.Equal(t, int64(200), payload.DwellTime)
}

func TestPageView_FinalizeIsSingleShot(t *testing.T) {
	pv := NewPageView("https://example.com", "", "", 100, true)
	pv.AddEvent(schemas.CapturedEvent{Type: schemas.EventClick})

	first := pv.Finalize("sess", "task", 200)
	require.NotNil(t, first)
	assert.Len(t, first.Events, 1)

	assert.Nil(t, pv.Finalize("sess", "task", 300))
}

func TestPageView_PayloadFields(t *testing.T) {
	pv := NewPageView("https://example.com/page", "Title", "https://ref.example", 100, true)
	pv.AddEvent(schemas.CapturedEvent{Type: schemas.EventClick, Timestamp: 150})
	pv.AddMousePoint(schemas.PathPoint{X: 1, Y: 2, Time: 120})
	pv.AddScrollPoint(schemas.PathPoint{X: 0, Y: 300, Time: 130})
	pv.AddReplay([]byte(`{"type":2}`))

	payload := pv.Finalize("sess-1", "task-9", 400)
	require.NotNil(t, payload)

	assert.Equal(t, pv.ViewID(), payload.ViewID)
	assert.Equal(t, "sess-1", payload.SessionID)
	assert.Equal(t, "task-9", payload.TaskID)
	assert.Equal(t, "https://example.com/page", payload.URL)
	assert.Equal(t, "Title", payload.Title)
	assert.Equal(t, "https://ref.example", payload.Referrer)
	assert.Equal(t, int64(100), payload.StartTimestamp)
	assert.Equal(t, int64(400), payload.EndTimestamp)
	assert.Len(t, payload.Events, 1)
	assert.Len(t, payload.MousePath, 1)
	assert.Len(t, payload.ScrollPath, 1)
	assert.Len(t, payload.ReplayEvents, 1)
}
