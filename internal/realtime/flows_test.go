package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablecraft/realtime-core/internal/protocol"
)

func progressOf(t *testing.T, ft *fakeTransport) []ProgressUpdate {
	t.Helper()
	var out []ProgressUpdate
	for _, env := range ft.ofType(t, protocol.TypeGenerationProgress) {
		var p ProgressUpdate
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		out = append(out, p)
	}
	return out
}

func TestFlow_DeliversEveryStepInOrder(t *testing.T) {
	h := newTestHub(nil)
	c1, t1 := connect(t, h)
	require.NoError(t, h.Subscribe("gen-7", c1))

	id := h.Flows().Start(Flow{
		Room:     "gen-7",
		Origin:   c1,
		Type:     protocol.TypeGenerationProgress,
		Steps:    DefaultGenerationSteps,
		Interval: time.Millisecond,
	})
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool { return h.Flows().Active() == 0 }, 2*time.Second, 5*time.Millisecond)

	envs := t1.ofType(t, protocol.TypeGenerationProgress)
	require.Len(t, envs, 4)
	for i := 1; i < len(envs); i++ {
		assert.GreaterOrEqual(t, envs[i].Timestamp, envs[i-1].Timestamp)
	}

	updates := progressOf(t, t1)
	for i, u := range updates {
		assert.Equal(t, id, u.FlowID)
		assert.Equal(t, DefaultGenerationSteps[i].Name, u.Step)
		assert.Equal(t, DefaultGenerationSteps[i].Progress, u.Progress)
		assert.Equal(t, i == 3, u.Complete)
	}
}

func TestFlow_SurvivesOriginatorWhileRoomOccupied(t *testing.T) {
	h := newTestHub(nil)
	c1, _ := connect(t, h)
	c2, t2 := connect(t, h)
	require.NoError(t, h.Subscribe("gen-7", c1))
	require.NoError(t, h.Subscribe("gen-7", c2))

	h.Flows().Start(Flow{
		Room:     "gen-7",
		Origin:   c1,
		Type:     protocol.TypeGenerationProgress,
		Steps:    DefaultGenerationSteps,
		Interval: 20 * time.Millisecond,
	})
	h.Disconnect(c1, nil)

	require.Eventually(t, func() bool { return h.Flows().Active() == 0 }, 2*time.Second, 5*time.Millisecond)
	updates := progressOf(t, t2)
	require.Len(t, updates, 4)
	assert.True(t, updates[3].Complete)
}

func TestFlow_CancelledWhenRoomEmpties(t *testing.T) {
	h := newTestHub(nil)
	c1, t1 := connect(t, h)
	require.NoError(t, h.Subscribe("gen-7", c1))

	h.Flows().Start(Flow{
		Room:     "gen-7",
		Origin:   c1,
		Type:     protocol.TypeGenerationProgress,
		Steps:    DefaultGenerationSteps,
		Interval: time.Hour,
	})
	require.Equal(t, 1, h.Flows().Active())

	h.Disconnect(c1, nil)

	require.Eventually(t, func() bool { return h.Flows().Active() == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, progressOf(t, t1))
}

func TestFlow_TimeoutEmitsError(t *testing.T) {
	h := newTestHub(nil)
	c1, t1 := connect(t, h)
	require.NoError(t, h.Subscribe("gen-7", c1))

	id := h.Flows().Start(Flow{
		Room:      "gen-7",
		Origin:    c1,
		Type:      protocol.TypeGenerationProgress,
		ErrorType: protocol.TypeGenerationError,
		Steps:     DefaultGenerationSteps,
		Interval:  time.Hour,
		Timeout:   10 * time.Millisecond,
	})

	require.Eventually(t, func() bool {
		return len(t1.ofType(t, protocol.TypeGenerationError)) == 1
	}, time.Second, 5*time.Millisecond)

	var failure FlowFailure
	require.NoError(t, json.Unmarshal(t1.ofType(t, protocol.TypeGenerationError)[0].Payload, &failure))
	assert.Equal(t, FlowFailure{FlowID: id, Error: "timed out"}, failure)
	assert.Empty(t, progressOf(t, t1))
}

func TestFlow_Cancel(t *testing.T) {
	h := newTestHub(nil)
	id := h.Flows().Start(Flow{Room: "r", Steps: DefaultGenerationSteps, Interval: time.Hour})

	assert.True(t, h.Flows().Cancel(id))
	require.Eventually(t, func() bool { return h.Flows().Active() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, h.Flows().Cancel(id))
}

func TestFlow_CancelBetweenSteps(t *testing.T) {
	h := newTestHub(nil)
	c1, t1 := connect(t, h)
	require.NoError(t, h.Subscribe("r", c1))

	id := h.Flows().Start(Flow{
		Room:     "r",
		Type:     protocol.TypeGenerationProgress,
		Steps:    DefaultGenerationSteps,
		Interval: 50 * time.Millisecond,
	})
	require.Eventually(t, func() bool { return len(progressOf(t, t1)) >= 1 }, time.Second, time.Millisecond)

	require.True(t, h.Flows().Cancel(id))
	require.Eventually(t, func() bool { return h.Flows().Active() == 0 }, time.Second, 5*time.Millisecond)
	sent := len(progressOf(t, t1))

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, sent, len(progressOf(t, t1)))
	assert.Less(t, sent, len(DefaultGenerationSteps))
}

func TestFlowRunner_Shutdown(t *testing.T) {
	h := newTestHub(nil)
	for i := 0; i < 3; i++ {
		h.Flows().Start(Flow{Room: "r", Steps: DefaultGenerationSteps, Interval: time.Hour})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Flows().Shutdown(ctx))

	assert.Zero(t, h.Flows().Active())
	assert.Empty(t, h.Flows().Start(Flow{Room: "r", Steps: DefaultGenerationSteps}))
}
