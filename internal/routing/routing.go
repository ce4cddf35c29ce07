// Package routing implements the EWC++-regularized routing weight
// learner: a small per-agent reinforcement signal that nudges which
// agent a request is routed to, while an importance-weighted penalty
// keeps updates from drifting too far from the last checkpoint.
package routing

import (
	"sync"
	"time"
)

// tuning constants from the specification's reward/update formulas.
const (
	learningRate          = 0.1  // eta
	ewcLambda             = 0.1  // lambda, the checkpoint-distance penalty weight
	maxDeltaMagnitude     = 0.05 // clip bound on a single update
	accuracyHistorySize   = 100
	degradationMinHistory = 10
	degradationThreshold  = 0.02
)

// FailureAttribution classifies why a routed request failed, so that
// only failures caused by routing itself move the routing weights.
type FailureAttribution int

const (
	// AttributionNone means the request succeeded; no failure to
	// attribute.
	AttributionNone FailureAttribution = iota
	// AttributionRoutingFailure means the wrong agent was chosen.
	AttributionRoutingFailure
	// AttributionAgentFailure means the right agent was chosen but it
	// failed on its own merits.
	AttributionAgentFailure
	// AttributionTaskImpossible means no agent could have succeeded.
	AttributionTaskImpossible
)

// Outcome is one routed request's result, fed into Update.
type Outcome struct {
	Agent          string
	Success        bool
	UserRating     *float64 // optional, out of 5
	Attribution    FailureAttribution
	OverrodeRouter bool // a human/operator overrode the router's choice
}

// reward computes r per the specification: +1/-1 scaled by a provided
// user rating out of 5, with a fixed -0.5 penalty when the router's
// choice was overridden by an operator but still went on to succeed.
func (o Outcome) reward() float64 {
	if o.OverrodeRouter && o.Success {
		return -0.5
	}
	sign := -1.0
	if o.Success {
		sign = 1.0
	}
	scale := 1.0
	if o.UserRating != nil {
		scale = *o.UserRating / 5.0
	}
	return sign * scale
}

// shouldUpdateWeights reports whether this outcome's attribution
// permits a routing-weight update. Only a routing failure or an
// outright success carries routing-relevant signal; an agent-local
// failure or an impossible task says nothing about whether routing
// chose well.
func (o Outcome) shouldUpdateWeights() bool {
	if o.Success {
		return true
	}
	return o.Attribution == AttributionRoutingFailure
}

// Checkpoint is a snapshot of routing state used both for the EWC++
// distance penalty and for rollback on accuracy degradation.
type Checkpoint struct {
	ID        string
	Weight    map[string]float64
	Importance map[string]float64
	Accuracy  float64
	CreatedAt time.Time
}

// accuracyRing is a fixed-capacity ring buffer of recent per-request
// success booleans, used to compute a rolling accuracy.
type accuracyRing struct {
	samples []bool
	head    int
	count   int
}

func newAccuracyRing(size int) *accuracyRing {
	if size <= 0 {
		size = accuracyHistorySize
	}
	return &accuracyRing{samples: make([]bool, size)}
}

func (r *accuracyRing) add(success bool) {
	r.samples[r.head] = success
	r.head = (r.head + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
}

func (r *accuracyRing) accuracy() float64 {
	if r.count == 0 {
		return 0
	}
	hits := 0
	for i := 0; i < r.count; i++ {
		if r.samples[i] {
			hits++
		}
	}
	return float64(hits) / float64(r.count)
}

func (r *accuracyRing) len() int { return r.count }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CheckpointStore persists and restores routing checkpoints. A caller
// typically backs this with internal/trajectory's rollback hooks, or a
// simple in-memory map for tests.
type CheckpointStore interface {
	Save(cp Checkpoint) error
	Latest() (Checkpoint, bool, error)
}

// Learner holds the live per-agent routing weights and importances and
// applies the EWC++ update rule on every outcome.
type Learner struct {
	mu         sync.Mutex
	weight     map[string]float64
	importance map[string]float64
	history    *accuracyRing
	checkpoint Checkpoint
	store      CheckpointStore
	notifier   trajectoryNotifier
}

// WithTrajectoryNotifier wires a trajectory manager's rollback-loop
// progress tracker. Every weight update is reported; the trajectory
// manager counts only changes larger than 1% in magnitude as progress.
func (l *Learner) WithTrajectoryNotifier(n trajectoryNotifier) *Learner {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notifier = n
	return l
}

// New builds a Learner over the given agent set, all starting at equal
// weight and zero importance.
func New(agents []string, store CheckpointStore) *Learner {
	weight := make(map[string]float64, len(agents))
	importance := make(map[string]float64, len(agents))
	initial := 1.0
	if n := len(agents); n > 0 {
		initial = 1.0 / float64(n)
	}
	for _, a := range agents {
		weight[a] = initial
		importance[a] = 0
	}
	l := &Learner{
		weight:     weight,
		importance: importance,
		history:    newAccuracyRing(accuracyHistorySize),
		store:      store,
	}
	l.checkpoint = l.snapshotLocked("initial")
	return l
}

func (l *Learner) snapshotLocked(id string) Checkpoint {
	w := make(map[string]float64, len(l.weight))
	for k, v := range l.weight {
		w[k] = v
	}
	imp := make(map[string]float64, len(l.importance))
	for k, v := range l.importance {
		imp[k] = v
	}
	return Checkpoint{
		ID:         id,
		Weight:     w,
		Importance: imp,
		Accuracy:   l.history.accuracy(),
		CreatedAt:  time.Now(),
	}
}

// Weight returns the current routing weight for an agent.
func (l *Learner) Weight(agent string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.weight[agent]
}

// Weights returns a snapshot of every agent's current weight.
func (l *Learner) Weights() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]float64, len(l.weight))
	for k, v := range l.weight {
		out[k] = v
	}
	return out
}

// UpdateResult reports what an Update call did, for logging/telemetry.
type UpdateResult struct {
	Reward         float64
	DeltaApplied   float64
	WeightsUpdated bool
	RolledBack     bool
	CheckpointID   string
}

// Update applies one outcome's reward signal to the routed agent's
// weight using the EWC++ penalized update, always checkpointing first
// (per the specification's checkpoint-before-update invariant), then
// checks for accuracy degradation and rolls back if detected.
func (l *Learner) Update(checkpointID string, o Outcome) (UpdateResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevCheckpoint := l.checkpoint
	cp := l.snapshotLocked(checkpointID)
	if l.store != nil {
		if err := l.store.Save(cp); err != nil {
			return UpdateResult{}, err
		}
	}

	l.history.add(o.Success)
	result := UpdateResult{Reward: o.reward(), CheckpointID: checkpointID}

	if o.shouldUpdateWeights() {
		l.applyEWCUpdate(o.Agent, result.Reward, prevCheckpoint)
		result.WeightsUpdated = true
		result.DeltaApplied = l.lastDeltaLocked(o.Agent, cp)
		if l.notifier != nil {
			l.notifier.NotifyWeightChange(result.DeltaApplied)
		}
	}

	l.checkpoint = cp

	if l.degradedLocked(cp) {
		l.rollbackToLocked(cp)
		result.RolledBack = true
	}

	return result, nil
}

// applyEWCUpdate implements delta_raw = eta*r, penalty =
// lambda*importance[a]*(weight[a]-checkpoint_weight[a]), delta_eff =
// clip(delta_raw - penalty, [-0.05, 0.05]), weight[a] += delta_eff
// clamped to [0,1], importance[a] += |r|^2. checkpointWeight is read
// from the checkpoint in effect before this call's snapshot, so the
// penalty reflects drift accumulated since the prior update rather
// than comparing the current weight against itself.
func (l *Learner) applyEWCUpdate(agent string, reward float64, prevCheckpoint Checkpoint) {
	current := l.weight[agent]
	checkpointWeight := prevCheckpoint.Weight[agent]
	importance := l.importance[agent]

	deltaRaw := learningRate * reward
	penalty := ewcLambda * importance * (current - checkpointWeight)
	deltaEff := clamp(deltaRaw-penalty, -maxDeltaMagnitude, maxDeltaMagnitude)

	l.weight[agent] = clamp(current+deltaEff, 0, 1)
	l.importance[agent] = importance + reward*reward
}

func (l *Learner) lastDeltaLocked(agent string, cp Checkpoint) float64 {
	return l.weight[agent] - cp.Weight[agent]
}

// degradedLocked reports whether accuracy has fallen enough below the
// checkpoint's recorded accuracy, with enough history to trust the
// comparison, to warrant a rollback.
func (l *Learner) degradedLocked(cp Checkpoint) bool {
	if l.history.len() < degradationMinHistory {
		return false
	}
	return cp.Accuracy-l.history.accuracy() > degradationThreshold
}

// rollbackToLocked restores weight/importance from cp but preserves
// the accuracy history, since the history itself is the evidence that
// triggered the rollback and discarding it would erase the signal.
func (l *Learner) rollbackToLocked(cp Checkpoint) {
	w := make(map[string]float64, len(cp.Weight))
	for k, v := range cp.Weight {
		w[k] = v
	}
	imp := make(map[string]float64, len(cp.Importance))
	for k, v := range cp.Importance {
		imp[k] = v
	}
	l.weight = w
	l.importance = imp
}

// Accuracy returns the current rolling accuracy.
func (l *Learner) Accuracy() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.history.accuracy()
}

// CurrentCheckpoint returns the most recently taken checkpoint.
func (l *Learner) CurrentCheckpoint() Checkpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkpoint
}
