package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/forcelab/eoltester/pkg/sequence"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func quietLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func newTestStore(t *testing.T) Store {
	t.Helper()

	s := New(quietLog(), Config{
		Driver: "sqlite",
		SQLite: SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func sampleResult(executionID, dutSerial string, verdict sequence.Verdict) *sequence.TestResult {
	started := time.Now().Add(-time.Minute)

	return &sequence.TestResult{
		ExecutionID: executionID,
		DUTSerial:   dutSerial,
		StartedAt:   started,
		EndedAt:     started.Add(30 * time.Second),
		Verdict:     verdict,
		Parameters: sequence.Parameters{
			Voltage:         18.0,
			TemperatureList: []float64{52.0},
			StrokePositions: []float64{170000.0},
		},
		Measurements: []sequence.Measurement{
			{
				TemperatureSetC: 52.0,
				StrokeSetUm:     170000.0,
				PeakForceN:      20.4,
				Outcome:         sequence.CellUnchecked,
			},
		},
		Phases: []sequence.PhaseRecord{
			{Name: sequence.PhaseConnect, Outcome: sequence.OutcomeOK},
		},
	}
}

func TestSaveAndGetResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	original := sampleResult("exec-1", "DUT-0001", sequence.VerdictPass)
	require.NoError(t, s.SaveResult(ctx, original))

	loaded, err := s.GetResult(ctx, "exec-1")
	require.NoError(t, err)

	assert.Equal(t, original.ExecutionID, loaded.ExecutionID)
	assert.Equal(t, original.DUTSerial, loaded.DUTSerial)
	assert.Equal(t, original.Verdict, loaded.Verdict)
	require.Len(t, loaded.Measurements, 1)
	assert.Equal(t, 20.4, loaded.Measurements[0].PeakForceN)
	require.Len(t, loaded.Phases, 1)
	assert.Equal(t, sequence.PhaseConnect, loaded.Phases[0].Name)
}

func TestGetResultNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetResult(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListResultsFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveResult(ctx, sampleResult("exec-1", "DUT-0001", sequence.VerdictPass)))
	require.NoError(t, s.SaveResult(ctx, sampleResult("exec-2", "DUT-0001", sequence.VerdictFail)))
	require.NoError(t, s.SaveResult(ctx, sampleResult("exec-3", "DUT-0002", sequence.VerdictPass)))

	all, err := s.ListResults(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byDUT, err := s.ListResults(ctx, ListFilter{DUTSerial: "DUT-0001"})
	require.NoError(t, err)
	assert.Len(t, byDUT, 2)

	failed, err := s.ListResults(ctx, ListFilter{Verdict: string(sequence.VerdictFail)})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "exec-2", failed[0].ExecutionID)

	limited, err := s.ListResults(ctx, ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	count, err := s.CountResults(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestDuplicateExecutionIDRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveResult(ctx, sampleResult("exec-1", "DUT-0001", sequence.VerdictPass)))
	assert.Error(t, s.SaveResult(ctx, sampleResult("exec-1", "DUT-0001", sequence.VerdictPass)))
}

func TestSeedUsersAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SeedUsers(ctx, map[string]string{"operator": "hunter2"}))

	user, err := s.GetUserByUsername(ctx, "operator")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("hunter2")))

	// Re-seeding rotates the password.
	require.NoError(t, s.SeedUsers(ctx, map[string]string{"operator": "correct horse"}))

	user, err = s.GetUserByUsername(ctx, "operator")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("correct horse")))

	_, err = s.GetUserByUsername(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.NoError(t, cfg.Validate())

	bad := Config{Driver: "oracle"}
	assert.Error(t, bad.Validate())
}
