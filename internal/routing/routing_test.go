package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome_RewardIsPositiveOneOnPlainSuccess(t *testing.T) {
	assert.Equal(t, 1.0, Outcome{Success: true}.reward())
}

func TestOutcome_RewardIsNegativeOneOnPlainFailure(t *testing.T) {
	assert.Equal(t, -1.0, Outcome{Success: false}.reward())
}

func TestOutcome_RewardScaledByUserRating(t *testing.T) {
	rating := 2.5
	assert.Equal(t, 0.5, Outcome{Success: true, UserRating: &rating}.reward())
}

func TestOutcome_RewardIsOverrideSpecialCase(t *testing.T) {
	assert.Equal(t, -0.5, Outcome{Success: true, OverrodeRouter: true}.reward())
}

func TestOutcome_ShouldUpdateWeights(t *testing.T) {
	assert.True(t, Outcome{Success: true}.shouldUpdateWeights())
	assert.True(t, Outcome{Success: false, Attribution: AttributionRoutingFailure}.shouldUpdateWeights())
	assert.False(t, Outcome{Success: false, Attribution: AttributionAgentFailure}.shouldUpdateWeights())
	assert.False(t, Outcome{Success: false, Attribution: AttributionTaskImpossible}.shouldUpdateWeights())
}

func TestLearner_InitialWeightsAreUniform(t *testing.T) {
	l := New([]string{"a", "b"}, NewMemoryCheckpointStore())
	assert.Equal(t, 0.5, l.Weight("a"))
	assert.Equal(t, 0.5, l.Weight("b"))
}

func TestLearner_SuccessIncreasesAgentWeight(t *testing.T) {
	l := New([]string{"a", "b"}, NewMemoryCheckpointStore())
	before := l.Weight("a")

	res, err := l.Update("cp-1", Outcome{Agent: "a", Success: true})
	require.NoError(t, err)
	assert.True(t, res.WeightsUpdated)
	assert.Greater(t, l.Weight("a"), before)
}

func TestLearner_FailureDecreasesAgentWeight(t *testing.T) {
	l := New([]string{"a", "b"}, NewMemoryCheckpointStore())
	before := l.Weight("a")

	_, err := l.Update("cp-1", Outcome{Agent: "a", Success: false, Attribution: AttributionRoutingFailure})
	require.NoError(t, err)
	assert.Less(t, l.Weight("a"), before)
}

func TestLearner_AgentFailureDoesNotUpdateWeights(t *testing.T) {
	l := New([]string{"a", "b"}, NewMemoryCheckpointStore())
	before := l.Weight("a")

	res, err := l.Update("cp-1", Outcome{Agent: "a", Success: false, Attribution: AttributionAgentFailure})
	require.NoError(t, err)
	assert.False(t, res.WeightsUpdated)
	assert.Equal(t, before, l.Weight("a"))
}

func TestLearner_RepeatedSuccessKeepsWeightAtMostOne(t *testing.T) {
	l := New([]string{"a"}, NewMemoryCheckpointStore())
	for i := 0; i < 20; i++ {
		_, err := l.Update("cp", Outcome{Agent: "a", Success: true})
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, l.Weight("a"), 1.0)
}

func TestLearner_EWCPenaltyDampensDeltaAsImportanceGrows(t *testing.T) {
	l := New([]string{"a", "b", "c", "d", "e"}, NewMemoryCheckpointStore())

	var deltas []float64
	for i := 0; i < 20; i++ {
		res, err := l.Update("cp", Outcome{Agent: "a", Success: true})
		require.NoError(t, err)
		deltas = append(deltas, res.DeltaApplied)
	}

	// Early updates are unconstrained by drift and sit at the clip
	// ceiling; once accumulated importance makes the EWC penalty
	// term significant, later updates under the same positive reward
	// must apply a strictly smaller delta.
	require.InDelta(t, maxDeltaMagnitude, deltas[2], 1e-9)
	assert.Less(t, deltas[len(deltas)-1], deltas[2])
	assert.Less(t, l.Weight("a"), 1.0)
}

func TestLearner_WeightStaysWithinZeroOne(t *testing.T) {
	l := New([]string{"a"}, NewMemoryCheckpointStore())
	for i := 0; i < 50; i++ {
		_, err := l.Update("cp", Outcome{Agent: "a", Success: false, Attribution: AttributionRoutingFailure})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, l.Weight("a"), 0.0)
}

func TestLearner_RollsBackAfterAccuracyDegradation(t *testing.T) {
	l := New([]string{"a"}, NewMemoryCheckpointStore())

	for i := 0; i < degradationMinHistory; i++ {
		_, err := l.Update("cp-good", Outcome{Agent: "a", Success: true})
		require.NoError(t, err)
	}
	goodCheckpoint := l.CurrentCheckpoint()
	require.Greater(t, goodCheckpoint.Accuracy, 0.9)

	var lastResult UpdateResult
	for i := 0; i < degradationMinHistory; i++ {
		res, err := l.Update("cp-bad", Outcome{Agent: "a", Success: false, Attribution: AttributionRoutingFailure})
		require.NoError(t, err)
		lastResult = res
	}
	assert.True(t, lastResult.RolledBack)
}

func TestLearner_CheckpointTakenBeforeEveryUpdate(t *testing.T) {
	store := NewMemoryCheckpointStore()
	l := New([]string{"a"}, store)

	_, err := l.Update("cp-1", Outcome{Agent: "a", Success: true})
	require.NoError(t, err)

	latest, ok, err := store.Latest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cp-1", latest.ID)
}

type recordingNotifier struct {
	checkpoints int
	lastDelta   float64
}

func (n *recordingNotifier) NotifyCheckpointCreated()         { n.checkpoints++ }
func (n *recordingNotifier) NotifyWeightChange(delta float64) { n.lastDelta = delta }
func (n *recordingNotifier) SetBaselineCheckpoint(id string)  {}

func TestLearner_NotifiesTrajectoryManagerOnWeightChange(t *testing.T) {
	notifier := &recordingNotifier{}
	store := NewNotifyingCheckpointStore(NewMemoryCheckpointStore(), notifier)
	l := New([]string{"a"}, store).WithTrajectoryNotifier(notifier)

	_, err := l.Update("cp-1", Outcome{Agent: "a", Success: true})
	require.NoError(t, err)

	assert.Equal(t, 1, notifier.checkpoints)
	assert.NotZero(t, notifier.lastDelta)
}
