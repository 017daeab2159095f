package workflow

import (
	"sort"
	"time"

	"github.com/BrianMills2718/kgas/pkg/types"
)

// State is the ephemeral in-memory record of an active workflow. It is
// never persisted directly: checkpoints snapshot it, and resume rebuilds
// it from the latest checkpoint.
type State struct {
	WorkflowID   string
	WorkflowType string
	CurrentStep  int
	TotalSteps   int

	// StateData is the arbitrary serializable bag carried into every
	// checkpoint. Binary payloads are held separately in BinaryState and
	// never enter the structured record.
	StateData map[string]interface{}

	// BinaryState is the non-JSON-serializable side-channel payload,
	// persisted through the blob store at checkpoint time.
	BinaryState []byte

	CompletedOperations map[string]struct{}
	PendingOperations   map[string]struct{}
	FailedOperations    map[string]struct{}

	Metadata           map[string]interface{}
	CheckpointInterval int
	StartedAt          time.Time

	// opsSinceCheckpoint counts operations since the last checkpoint;
	// reaching CheckpointInterval triggers an automatic one.
	opsSinceCheckpoint int

	// operationCount is the lifetime operation total, recorded in
	// checkpoint metadata.
	operationCount int
}

// applyUpdates merges caller-provided state updates into the bag. A value
// under types.BinaryStateKey is diverted to the binary side-channel: it
// must never enter the structured checkpoint record.
func (st *State) applyUpdates(updates map[string]interface{}) {
	for key, value := range updates {
		if key == types.BinaryStateKey {
			if data, ok := value.([]byte); ok {
				st.BinaryState = data
				continue
			}
		}
		st.StateData[key] = value
	}
}

// appendFailureRecord appends a structured failure record to state data
// under the "failures" key.
func (st *State) appendFailureRecord(operationID, errorMessage string) {
	record := map[string]interface{}{
		"operation_id": operationID,
		"error":        errorMessage,
		"timestamp":    time.Now().UTC().Format(time.RFC3339Nano),
	}

	failures, _ := st.StateData["failures"].([]interface{})
	st.StateData["failures"] = append(failures, record)
}

// snapshot captures the state into a checkpoint-shaped value. Operation
// sets come out sorted so snapshots are deterministic.
func (st *State) snapshot() *types.WorkflowCheckpoint {
	stateData := make(map[string]interface{}, len(st.StateData))
	for key, value := range st.StateData {
		if key == types.BinaryStateKey {
			continue
		}
		stateData[key] = value
	}

	return &types.WorkflowCheckpoint{
		WorkflowID:          st.WorkflowID,
		WorkflowType:        st.WorkflowType,
		StepNumber:          st.CurrentStep,
		TotalSteps:          st.TotalSteps,
		StateData:           stateData,
		CompletedOperations: sortedSet(st.CompletedOperations),
		PendingOperations:   sortedSet(st.PendingOperations),
		FailedOperations:    sortedSet(st.FailedOperations),
		HasBinaryState:      len(st.BinaryState) > 0,
	}
}

// progress returns the completion fraction in [0, 1].
func (st *State) progress() float64 {
	if st.TotalSteps <= 0 {
		return 0
	}
	p := float64(st.CurrentStep) / float64(st.TotalSteps)
	if p > 1 {
		return 1
	}
	return p
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	items := make([]string, 0, len(set))
	for item := range set {
		items = append(items, item)
	}
	sort.Strings(items)
	return items
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
