// Package alert implements the per-monitor Up/Down state machine. State is a
// pure function of the heartbeat stream: Evaluate folds one heartbeat into the
// previous state and Replay folds a whole slice.
package alert

import (
	"fmt"

	"github.com/fuomag9/inframirror/internal/models"
)

// Transition is the notification-worthy outcome of evaluating a heartbeat
type Transition string

const (
	None   Transition = ""
	Down   Transition = "down"
	Up     Transition = "up"
	Resend Transition = "resend"
)

// Policy holds the thresholds that drive the state machine
type Policy struct {
	FailureThreshold  int
	RecoveryThreshold int
	// ResendEvery re-notifies after this many further failures while down.
	// 0 disables resending.
	ResendEvery int
}

// PolicyFor resolves a monitor's policy, falling back to defaults for unset
// thresholds.
func PolicyFor(m *models.Monitor, defaults Policy) Policy {
	p := Policy{
		FailureThreshold:  m.FailureThreshold,
		RecoveryThreshold: m.RecoveryThreshold,
		ResendEvery:       m.ResendNotificationCount,
	}
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = defaults.FailureThreshold
	}
	if p.RecoveryThreshold <= 0 {
		p.RecoveryThreshold = defaults.RecoveryThreshold
	}
	return p.normalized()
}

func (p Policy) normalized() Policy {
	if p.FailureThreshold < 1 {
		p.FailureThreshold = 1
	}
	if p.RecoveryThreshold < 1 {
		p.RecoveryThreshold = 1
	}
	if p.ResendEvery < 0 {
		p.ResendEvery = 0
	}
	return p
}

// Key identifies the thresholds in a form stored alongside the state
func (p Policy) Key() string {
	p = p.normalized()
	return fmt.Sprintf("%d/%d/%d", p.FailureThreshold, p.RecoveryThreshold, p.ResendEvery)
}

// Evaluate folds one heartbeat into the state. Degraded heartbeats are
// successful and count towards recovery.
func Evaluate(st models.AlertState, p Policy, hb *models.Heartbeat) (models.AlertState, Transition) {
	p = p.normalized()
	next := st
	if next.Status == "" {
		next.Status = models.AlertPending
	}
	at := hb.ExecutedAt
	if key := p.Key(); next.Policy != key {
		next.Policy = key
		next.PolicySince = hb.ID
	}

	if hb.Success {
		next.ConsecutiveSuccesses++
		next.ConsecutiveFailures = 0
	} else {
		next.ConsecutiveFailures++
		next.ConsecutiveSuccesses = 0
	}

	switch next.Status {
	case models.AlertPending, models.AlertUp:
		if !hb.Success && next.ConsecutiveFailures >= p.FailureThreshold {
			next.Status = models.AlertDown
			next.DownNotifications = 1
			next.LastChangedAt = &at
			return next, Down
		}
		if hb.Success && next.Status == models.AlertPending {
			// First success establishes the baseline without notifying.
			next.Status = models.AlertUp
			next.LastChangedAt = &at
		}

	case models.AlertDown:
		if hb.Success {
			if next.ConsecutiveSuccesses >= p.RecoveryThreshold {
				next.Status = models.AlertUp
				next.DownNotifications = 0
				next.LastChangedAt = &at
				return next, Up
			}
			return next, None
		}
		beyond := next.ConsecutiveFailures - p.FailureThreshold
		if p.ResendEvery > 0 && beyond > 0 && beyond%p.ResendEvery == 0 {
			next.DownNotifications++
			return next, Resend
		}
	}

	return next, None
}

// Replay rebuilds a monitor's state from heartbeats ordered oldest first
func Replay(monitorID int, p Policy, heartbeats []models.Heartbeat) models.AlertState {
	st := models.InitialAlertState(monitorID)
	for i := range heartbeats {
		hb := &heartbeats[i]
		st, _ = Evaluate(st, p, hb)
		st.LastHeartbeatID = hb.ID
		at := hb.ExecutedAt
		st.LastHeartbeatAt = &at
	}
	return st
}

// Between reports the transition that led from prev to next
func Between(prev, next models.AlertState) Transition {
	switch {
	case prev.Status != models.AlertDown && next.Status == models.AlertDown:
		return Down
	case prev.Status == models.AlertDown && next.Status == models.AlertUp:
		return Up
	case prev.Status == models.AlertDown && next.Status == models.AlertDown &&
		next.DownNotifications > prev.DownNotifications:
		return Resend
	}
	return None
}

// Comparable reports whether stored was evaluated under p for the whole of
// heartbeats, so that a replay of them under p can be held against it. A
// threshold edit makes the stored counters a product of two policies and no
// replay reproduces them.
func Comparable(stored models.AlertState, p Policy, heartbeats []models.Heartbeat) bool {
	return len(heartbeats) > 0 &&
		stored.Policy == p.Key() &&
		stored.PolicySince == heartbeats[0].ID
}

// Drifted reports whether a stored state disagrees with a derived one on the
// fields the state machine owns.
func Drifted(stored, derived models.AlertState) bool {
	return stored.Status != derived.Status ||
		stored.ConsecutiveFailures != derived.ConsecutiveFailures ||
		stored.ConsecutiveSuccesses != derived.ConsecutiveSuccesses ||
		stored.DownNotifications != derived.DownNotifications
}
