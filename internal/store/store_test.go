package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predmaint/alertcore/internal/apperr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAlert_ThenHasActiveAlertIsTrue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateAlert(ctx, "M-001", "critical_rul", "critical", "low RUL", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	active, err := s.HasActiveAlert(ctx, "M-001", "critical_rul")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestCreateAlert_RejectsDuplicateWhileActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateAlert(ctx, "M-001", "critical_rul", "critical", "low RUL", nil)
	require.NoError(t, err)

	_, err = s.CreateAlert(ctx, "M-001", "critical_rul", "critical", "low RUL again", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.Duplicate, apperr.CodeOf(err))
}

func TestGetAlert_UnknownIDReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAlert(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.CodeOf(err))
}

func TestAcknowledgeThenStartWorkThenResolve_FullLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })

	id, err := s.CreateAlert(ctx, "M-001", "critical_rul", "critical", "low RUL", map[string]any{"rul_hours": 5.0})
	require.NoError(t, err)

	ok, err := s.Acknowledge(ctx, id, "OP-1", clock)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.StartWork(ctx, id, "OP-1", clock)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Resolve(ctx, id, "OP-1", "bearing failure", "replaced bearing", 90, clock)
	require.NoError(t, err)
	assert.True(t, ok)

	alert, err := s.GetAlert(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "RESOLVED", alert.State)

	logs, err := s.ListLogs(ctx, "M-001", 30)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "bearing failure", logs[0].RootCause)
}

func TestResolve_FromWrongStateReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateAlert(ctx, "M-001", "critical_rul", "critical", "low RUL", nil)
	require.NoError(t, err)

	ok, err := s.Resolve(ctx, id, "OP-1", "bearing failure", "replaced bearing", 90, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "cannot resolve directly from ACTIVE")
}

func TestArchiveOlderThan_ArchivesOnlyOldResolvedAlerts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })

	id, err := s.CreateAlert(ctx, "M-001", "critical_rul", "critical", "low RUL", nil)
	require.NoError(t, err)
	s.Acknowledge(ctx, id, "OP-1", clock)
	s.StartWork(ctx, id, "OP-1", clock)
	s.Resolve(ctx, id, "OP-1", "bearing failure", "replaced bearing", 90, clock)

	n, err := s.ArchiveOlderThan(ctx, clock.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "resolved_at is not yet before cutoff")

	n, err = s.ArchiveOlderThan(ctx, clock.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	alert, err := s.GetAlert(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "LOGGED", alert.State)
}

func TestListAlerts_FiltersByMachineAndActiveState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, _ := s.CreateAlert(ctx, "M-001", "critical_rul", "critical", "a", nil)
	_, _ = s.CreateAlert(ctx, "M-002", "warning_rul", "warning", "b", nil)

	s.Acknowledge(ctx, id1, "OP-1", time.Now())
	s.StartWork(ctx, id1, "OP-1", time.Now())
	s.Resolve(ctx, id1, "OP-1", "bearing failure", "replaced bearing", 10, time.Now())

	all, err := s.ListAlerts(ctx, "", false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	activeOnly, err := s.ListAlerts(ctx, "", true)
	require.NoError(t, err)
	assert.Len(t, activeOnly, 1)

	scoped, err := s.ListAlerts(ctx, "M-002", false)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "M-002", scoped[0].MachineID)
}

func TestStatistics_AggregatesByStateSeverityMachine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateAlert(ctx, "M-001", "critical_rul", "critical", "a", nil)
	s.CreateAlert(ctx, "M-002", "warning_rul", "warning", "b", nil)

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByState["ACTIVE"])
	assert.Equal(t, 1, stats.BySeverity["critical"])
	assert.Equal(t, 1, stats.ByMachine["M-001"])
}

func TestRecordSensorHistory_PersistsRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.RecordSensorHistory(ctx, SensorHistoryRow{
		MachineID:   "M-001",
		Timestamp:   time.Now(),
		Sensors:     map[string]float64{"vibration_x": 0.4},
		HealthScore: 90,
		RulHours:    120,
	})
	require.NoError(t, err)
}
