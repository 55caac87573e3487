package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predmaint/alertcore/internal/apperr"
	"github.com/predmaint/alertcore/internal/config"
)

type fakeStore struct {
	alerts map[string]Alert
	err    error
	ok     bool
}

func newFakeStore(alert Alert) *fakeStore {
	return &fakeStore{alerts: map[string]Alert{alert.ID: alert}, ok: true}
}

func (f *fakeStore) GetAlert(ctx context.Context, id string) (Alert, error) {
	a, ok := f.alerts[id]
	if !ok {
		return Alert{}, apperr.New(apperr.NotFound, "alert not found")
	}
	return a, nil
}

func (f *fakeStore) Acknowledge(ctx context.Context, id, operatorID string, at time.Time) (bool, error) {
	return f.transition(id, "ACKNOWLEDGED")
}

func (f *fakeStore) StartWork(ctx context.Context, id, operatorID string, at time.Time) (bool, error) {
	return f.transition(id, "IN_PROGRESS")
}

func (f *fakeStore) Resolve(ctx context.Context, id, operatorID, rootCause, notes string, downtimeMinutes int, at time.Time) (bool, error) {
	return f.transition(id, "RESOLVED")
}

func (f *fakeStore) Archive(ctx context.Context, id string, at time.Time) (bool, error) {
	return f.transition(id, "LOGGED")
}

func (f *fakeStore) transition(id, newState string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if !f.ok {
		return false, nil
	}
	a := f.alerts[id]
	a.State = newState
	f.alerts[id] = a
	return true, nil
}

func testCfg() config.LifecycleConfig {
	return config.LifecycleConfig{MinOperatorLength: 3, MinRootCauseLength: 5, MinNotesLength: 5}
}

func TestAcknowledge_FromActiveSucceeds(t *testing.T) {
	store := newFakeStore(Alert{ID: "AL-1", State: "ACTIVE"})
	m := New(store, testCfg())

	err := m.Acknowledge(context.Background(), "AL-1", "OP-100")
	require.NoError(t, err)
	assert.Equal(t, "ACKNOWLEDGED", store.alerts["AL-1"].State)
}

func TestAcknowledge_FromWrongStateFails(t *testing.T) {
	store := newFakeStore(Alert{ID: "AL-1", State: "RESOLVED"})
	m := New(store, testCfg())

	err := m.Acknowledge(context.Background(), "AL-1", "OP-100")
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidState, apperr.CodeOf(err))
}

func TestAcknowledge_OperatorIDTooShortFails(t *testing.T) {
	store := newFakeStore(Alert{ID: "AL-1", State: "ACTIVE"})
	m := New(store, testCfg())

	err := m.Acknowledge(context.Background(), "AL-1", "ab")
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidInput, apperr.CodeOf(err))
}

func TestStartWork_FromAcknowledgedSucceeds(t *testing.T) {
	store := newFakeStore(Alert{ID: "AL-1", State: "ACKNOWLEDGED"})
	m := New(store, testCfg())

	err := m.StartWork(context.Background(), "AL-1", "OP-100")
	require.NoError(t, err)
	assert.Equal(t, "IN_PROGRESS", store.alerts["AL-1"].State)
}

func TestResolve_RequiresRootCauseAndNotesLength(t *testing.T) {
	store := newFakeStore(Alert{ID: "AL-1", State: "IN_PROGRESS"})
	m := New(store, testCfg())

	err := m.Resolve(context.Background(), "AL-1", "OP-100", "bad", "bad", 10)
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidInput, apperr.CodeOf(err))
}

func TestResolve_FromAcknowledgedOrInProgressSucceeds(t *testing.T) {
	for _, state := range []string{"ACKNOWLEDGED", "IN_PROGRESS"} {
		store := newFakeStore(Alert{ID: "AL-1", State: state})
		m := New(store, testCfg())

		err := m.Resolve(context.Background(), "AL-1", "OP-100", "bearing failure", "replaced bearing", 45)
		require.NoError(t, err)
		assert.Equal(t, "RESOLVED", store.alerts["AL-1"].State)
	}
}

func TestResolve_NegativeDowntimeFails(t *testing.T) {
	store := newFakeStore(Alert{ID: "AL-1", State: "IN_PROGRESS"})
	m := New(store, testCfg())

	err := m.Resolve(context.Background(), "AL-1", "OP-100", "bearing failure", "replaced bearing", -1)
	require.Error(t, err)
}

func TestArchive_FromResolvedSucceeds(t *testing.T) {
	store := newFakeStore(Alert{ID: "AL-1", State: "RESOLVED"})
	m := New(store, testCfg())

	err := m.Archive(context.Background(), "AL-1")
	require.NoError(t, err)
	assert.Equal(t, "LOGGED", store.alerts["AL-1"].State)
}

func TestArchive_FromNonResolvedFails(t *testing.T) {
	store := newFakeStore(Alert{ID: "AL-1", State: "ACTIVE"})
	m := New(store, testCfg())

	err := m.Archive(context.Background(), "AL-1")
	require.Error(t, err)
}

func TestAcknowledge_ConcurrentStateChangeReturnsConflict(t *testing.T) {
	store := newFakeStore(Alert{ID: "AL-1", State: "ACTIVE"})
	store.ok = false
	m := New(store, testCfg())

	err := m.Acknowledge(context.Background(), "AL-1", "OP-100")
	require.Error(t, err)
	assert.Equal(t, apperr.Conflict, apperr.CodeOf(err))
}
