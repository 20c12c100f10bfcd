package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/unishark/portalwatch/internal/watch"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock), mock
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	job := watch.Job{
		ID:        "job-1",
		TenantID:  "t1",
		Trigger:   watch.TriggerManual,
		Status:    watch.JobStatusQueued,
		Submitted: now,
	}

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(job.ID, job.TenantID, "manual", "queued", "", 0, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusMissingJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE jobs").
		WithArgs("missing", "failed", "boom", "network_timeout", 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateJobStatus(context.Background(), "missing", watch.JobStatusFailed, "boom", "network_timeout", 0)
	require.ErrorIs(t, err, watch.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastJobTime(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT submitted_at FROM jobs").
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"submitted_at"}).AddRow(now))

	got, err := store.LastJobTime(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, now, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	snap := watch.Snapshot{
		Assignments: []watch.Assignment{{Course: "CS101", Name: "HW2"}},
	}
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT snapshot FROM jobs").
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"snapshot"}).AddRow(data))

	got, err := store.LatestSnapshot(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, snap, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetSuspensionFlipsAutomationFlag(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE tenants").
		WithArgs("t1", true, "too many failures", &now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.SetSuspension(context.Background(), "t1", true, "too many failures", &now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendFailureEvent(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	evt := watch.FailureEvent{
		TenantID:   "t1",
		Category:   "network_timeout",
		Message:    "context deadline exceeded",
		Count:      3,
		OccurredAt: now,
	}

	mock.ExpectExec("INSERT INTO failure_events").
		WithArgs(evt.TenantID, evt.Category, evt.Message, evt.Count, evt.Suspended, evt.OccurredAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Append(context.Background(), evt))
	require.NoError(t, mock.ExpectationsWereMet())
}
