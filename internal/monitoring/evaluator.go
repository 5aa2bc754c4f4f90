// internal/monitoring/evaluator.go - Debounced status state machine
package monitoring

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vigil/internal/database"
)

// Transition is emitted when a monitor's reported status changes.
type Transition struct {
	MonitorID string
	From      database.MonitorStatus
	To        database.MonitorStatus
	Result    *database.CheckResult
	At        time.Time
}

// monitorState tracks the debounce bookkeeping for one monitor.
type monitorState struct {
	status        database.MonitorStatus
	failureCount  int       // consecutive failures while confirming
	recoveryStart time.Time // first success of the current recovery run, zero when none
	lastResultID  string    // duplicate-delivery guard
}

// Evaluator applies confirmation-threshold and recovery-window rules to a
// stream of check results and produces status transitions. Callers must
// serialize results per monitor; the internal lock only protects the state
// map across monitors.
type Evaluator struct {
	mu     sync.Mutex
	states map[string]*monitorState
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		states: make(map[string]*monitorState),
	}
}

// Observe consumes one check result for the monitor and returns the resulting
// transition, or nil when the debounce rules suppress a change. It also
// updates the monitor's Status, FailureCount and LastCheck fields so the
// caller can persist them.
func (e *Evaluator) Observe(monitor *database.Monitor, result *database.CheckResult) *Transition {
	state := e.state(monitor)

	// A duplicated delivery (e.g. a replayed webhook) must not advance the
	// confirmation counter or the recovery clock.
	if result.ID != "" && result.ID == state.lastResultID {
		logrus.WithFields(logrus.Fields{
			"monitor": monitor.ID,
			"result":  result.ID,
		}).Debug("Dropping duplicate check result")
		return nil
	}
	state.lastResultID = result.ID

	monitor.LastCheck = result.Timestamp

	var transition *Transition
	if result.Success {
		transition = e.observeSuccess(monitor, state, result)
	} else {
		transition = e.observeFailure(monitor, state, result)
	}

	monitor.Status = state.status
	monitor.FailureCount = state.failureCount

	if transition != nil {
		logrus.WithFields(logrus.Fields{
			"monitor": monitor.Name,
			"from":    transition.From,
			"to":      transition.To,
		}).Info("Monitor status transition")
	}

	return transition
}

func (e *Evaluator) observeSuccess(monitor *database.Monitor, state *monitorState, result *database.CheckResult) *Transition {
	state.failureCount = 0

	switch state.status {
	case database.StatusDown, database.StatusDegraded:
		// Recovery is measured as continuous successful time, not a count of
		// checks. A window of zero resolves on the first success.
		if state.recoveryStart.IsZero() {
			state.recoveryStart = result.Timestamp
		}
		if result.Timestamp.Sub(state.recoveryStart) >= monitor.RecoveryWindowDuration() {
			from := state.status
			state.status = database.StatusUp
			state.recoveryStart = time.Time{}
			return &Transition{
				MonitorID: monitor.ID,
				From:      from,
				To:        database.StatusUp,
				Result:    result,
				At:        result.Timestamp,
			}
		}
		return nil

	case database.StatusUnknown:
		state.status = database.StatusUp
		return &Transition{
			MonitorID: monitor.ID,
			From:      database.StatusUnknown,
			To:        database.StatusUp,
			Result:    result,
			At:        result.Timestamp,
		}

	default: // already up
		return nil
	}
}

func (e *Evaluator) observeFailure(monitor *database.Monitor, state *monitorState, result *database.CheckResult) *Transition {
	// Any failure before the recovery window elapses resets the recovery
	// clock; the existing incident continues.
	state.recoveryStart = time.Time{}

	if state.status == database.StatusDown || state.status == database.StatusDegraded {
		return nil
	}

	state.failureCount++
	if state.failureCount < monitor.ConfirmationThreshold+1 {
		// Still confirming; no user-visible change yet
		return nil
	}

	target := database.StatusDown
	if result.Degraded {
		target = database.StatusDegraded
	}

	from := state.status
	state.status = target
	state.failureCount = 0

	return &Transition{
		MonitorID: monitor.ID,
		From:      from,
		To:        target,
		Result:    result,
		At:        result.Timestamp,
	}
}

// Forget drops the in-memory state for a deleted monitor.
func (e *Evaluator) Forget(monitorID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, monitorID)
}

func (e *Evaluator) state(monitor *database.Monitor) *monitorState {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, exists := e.states[monitor.ID]
	if !exists {
		status := monitor.Status
		if status == "" {
			status = database.StatusUnknown
		}
		// Seed from the persisted record so a restart resumes where the
		// previous process left off.
		state = &monitorState{
			status:       status,
			failureCount: monitor.FailureCount,
		}
		e.states[monitor.ID] = state
	}
	return state
}
