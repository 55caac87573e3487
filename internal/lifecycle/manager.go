// Package lifecycle implements the alert state machine:
// ACTIVE -> ACKNOWLEDGED -> IN_PROGRESS -> RESOLVED -> LOGGED, with operator
// validation and a maintenance-log write on resolution.
package lifecycle

import (
	"context"
	"time"

	"github.com/predmaint/alertcore/internal/apperr"
	"github.com/predmaint/alertcore/internal/config"
)

// Alert is the subset of alert state the lifecycle manager needs to decide
// and record transitions. internal/store.Store populates this from the
// alerts table.
type Alert struct {
	ID        string
	MachineID string
	AlertType string
	Severity  string
	State     string
}

// Store is the persistence contract the lifecycle manager needs
// (implemented by internal/store.Store).
type Store interface {
	GetAlert(ctx context.Context, id string) (Alert, error)
	Acknowledge(ctx context.Context, id, operatorID string, at time.Time) (bool, error)
	StartWork(ctx context.Context, id, operatorID string, at time.Time) (bool, error)
	Resolve(ctx context.Context, id, operatorID, rootCause, notes string, downtimeMinutes int, at time.Time) (bool, error)
	Archive(ctx context.Context, id string, at time.Time) (bool, error)
}

// Manager enforces transition preconditions before
// delegating the actual mutation to the store.
type Manager struct {
	store Store
	cfg   config.LifecycleConfig
	now   func() time.Time
}

func New(store Store, cfg config.LifecycleConfig) *Manager {
	return &Manager{store: store, cfg: cfg, now: time.Now}
}

// SetClock overrides the manager's time source; used by tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Manager) validateOperator(operatorID string) error {
	if len(operatorID) < m.cfg.MinOperatorLength {
		return apperr.New(apperr.InvalidInput, "operator id too short")
	}
	return nil
}

func (m *Manager) requireState(alert Alert, allowed ...string) error {
	for _, s := range allowed {
		if alert.State == s {
			return nil
		}
	}
	return apperr.New(apperr.InvalidState, "alert "+alert.State+" cannot make this transition")
}

// Acknowledge transitions ACTIVE -> ACKNOWLEDGED.
func (m *Manager) Acknowledge(ctx context.Context, alertID, operatorID string) error {
	if err := m.validateOperator(operatorID); err != nil {
		return err
	}
	alert, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if err := m.requireState(alert, "ACTIVE"); err != nil {
		return err
	}
	ok, err := m.store.Acknowledge(ctx, alertID, operatorID, m.now())
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.Conflict, "alert state changed concurrently")
	}
	return nil
}

// StartWork transitions ACKNOWLEDGED -> IN_PROGRESS.
func (m *Manager) StartWork(ctx context.Context, alertID, operatorID string) error {
	if err := m.validateOperator(operatorID); err != nil {
		return err
	}
	alert, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if err := m.requireState(alert, "ACKNOWLEDGED"); err != nil {
		return err
	}
	ok, err := m.store.StartWork(ctx, alertID, operatorID, m.now())
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.Conflict, "alert state changed concurrently")
	}
	return nil
}

// Resolve transitions ACKNOWLEDGED or IN_PROGRESS -> RESOLVED and writes a
// maintenance log in the same store operation.
func (m *Manager) Resolve(ctx context.Context, alertID, operatorID, rootCause, notes string, downtimeMinutes int) error {
	if err := m.validateOperator(operatorID); err != nil {
		return err
	}
	if len(rootCause) < m.cfg.MinRootCauseLength {
		return apperr.New(apperr.InvalidInput, "root cause too short")
	}
	if len(notes) < m.cfg.MinNotesLength {
		return apperr.New(apperr.InvalidInput, "resolution notes too short")
	}
	if downtimeMinutes < 0 {
		return apperr.New(apperr.InvalidInput, "downtime cannot be negative")
	}
	alert, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if err := m.requireState(alert, "ACKNOWLEDGED", "IN_PROGRESS"); err != nil {
		return err
	}
	ok, err := m.store.Resolve(ctx, alertID, operatorID, rootCause, notes, downtimeMinutes, m.now())
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.Conflict, "alert state changed concurrently")
	}
	return nil
}

// Archive transitions RESOLVED -> LOGGED, the terminal state reached by
// retention cleanup or explicit operator action.
func (m *Manager) Archive(ctx context.Context, alertID string) error {
	alert, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if err := m.requireState(alert, "RESOLVED"); err != nil {
		return err
	}
	ok, err := m.store.Archive(ctx, alertID, m.now())
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.Conflict, "alert state changed concurrently")
	}
	return nil
}
