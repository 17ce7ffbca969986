package database

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sublarr/models"
)

func jobFixture(kind models.JobKind) models.Job {
	now := time.Now().UTC()
	return models.Job{
		ID:             uuid.NewString(),
		Kind:           kind,
		State:          models.JobStateQueued,
		FilePath:       "/media/a.mkv",
		TargetLanguage: "de",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestJobClaimTransitionsToRunning(t *testing.T) {
	store := testStore(t)
	job := jobFixture(models.JobKindTranslate)
	require.NoError(t, store.Jobs.Insert(job))

	claimed, err := store.Jobs.Claim(time.Minute)
	require.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, models.JobStateRunning, claimed.State)
	require.NotNil(t, claimed.LeaseExpiresAt)

	// The queue is empty now.
	_, err = store.Jobs.Claim(time.Minute)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestJobClaimOrderIsFIFO(t *testing.T) {
	store := testStore(t)
	first := jobFixture(models.JobKindTranslate)
	second := jobFixture(models.JobKindTranslate)
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	second.UpdatedAt = second.CreatedAt
	require.NoError(t, store.Jobs.Insert(first))
	require.NoError(t, store.Jobs.Insert(second))

	claimed, err := store.Jobs.Claim(time.Minute)
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)
}

func TestJobTerminalStatesAreFinal(t *testing.T) {
	store := testStore(t)
	job := jobFixture(models.JobKindTranslate)
	require.NoError(t, store.Jobs.Insert(job))
	_, err := store.Jobs.Claim(time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Jobs.Finish(job.ID, models.JobStateCompleted, ""))

	// A later finish in another terminal state must not stick.
	require.NoError(t, store.Jobs.Finish(job.ID, models.JobStateFailed, "late failure"))
	got, err := store.Jobs.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, got.State)
	assert.Empty(t, got.Error)
	assert.Equal(t, 1.0, got.Progress)
}

func TestJobFinishRejectsNonTerminalState(t *testing.T) {
	store := testStore(t)
	job := jobFixture(models.JobKindTranslate)
	require.NoError(t, store.Jobs.Insert(job))

	err := store.Jobs.Finish(job.ID, models.JobStateRunning, "")
	assert.Error(t, err)
}

func TestJobProgressIsMonotonic(t *testing.T) {
	store := testStore(t)
	job := jobFixture(models.JobKindTranslate)
	require.NoError(t, store.Jobs.Insert(job))
	_, err := store.Jobs.Claim(time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Jobs.UpdateProgress(job.ID, 0.6, models.PhaseTranslate))
	require.NoError(t, store.Jobs.UpdateProgress(job.ID, 0.3, models.PhaseProviderSearch))

	got, err := store.Jobs.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.6, got.Progress, "a stale lower fraction never wins")
}

func TestSweepInterrupted(t *testing.T) {
	store := testStore(t)
	job := jobFixture(models.JobKindTranslate)
	require.NoError(t, store.Jobs.Insert(job))
	_, err := store.Jobs.Claim(time.Minute)
	require.NoError(t, err)

	swept, err := store.Jobs.SweepInterrupted(time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	got, err := store.Jobs.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, got.State)
	assert.Equal(t, "interrupted", got.Error)
}

func TestSweepExpiredLeases(t *testing.T) {
	store := testStore(t)
	job := jobFixture(models.JobKindTranslate)
	require.NoError(t, store.Jobs.Insert(job))
	_, err := store.Jobs.Claim(-time.Second) // lease already expired
	require.NoError(t, err)

	swept, err := store.Jobs.SweepExpiredLeases()
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	got, err := store.Jobs.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, got.State)
	assert.Equal(t, "worker_dead", got.Error)
}

func TestRequestCancelOnlyFlipsQueuedRows(t *testing.T) {
	store := testStore(t)
	job := jobFixture(models.JobKindTranslate)
	require.NoError(t, store.Jobs.Insert(job))

	flipped, err := store.Jobs.RequestCancel(job.ID)
	require.NoError(t, err)
	assert.True(t, flipped)

	running := jobFixture(models.JobKindTranslate)
	require.NoError(t, store.Jobs.Insert(running))
	_, err = store.Jobs.Claim(time.Minute)
	require.NoError(t, err)

	flipped, err = store.Jobs.RequestCancel(running.ID)
	require.NoError(t, err)
	assert.False(t, flipped, "running rows cancel through the worker signal")
}

func TestProbeCacheMtimeMismatchIsMiss(t *testing.T) {
	store := testStore(t)
	streams := models.Streams{{Index: 0, CodecType: models.CodecTypeSubtitle, CodecName: "ass", Language: "en"}}

	require.NoError(t, store.Probe.Put("/media/a.mkv", 100, streams))

	got, hit, err := store.Probe.Get("/media/a.mkv", 100)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, streams, got)

	_, hit, err = store.Probe.Get("/media/a.mkv", 200)
	require.NoError(t, err)
	assert.False(t, hit, "a changed mtime invalidates the entry")

	// The next put under the new mtime replaces the row.
	require.NoError(t, store.Probe.Put("/media/a.mkv", 200, nil))
	_, hit, err = store.Probe.Get("/media/a.mkv", 100)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestHistorySeen(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.History.Insert(models.DownloadHistory{
		FilePath: "/media/a.mkv", TargetLanguage: "de",
		Provider: "opensubtitles", SubtitleID: "42", ContentHash: "abc",
		Source: models.SourceProvider,
	}))

	seen, err := store.History.Seen("/media/a.mkv", "de", "opensubtitles", "42", "")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = store.History.Seen("/media/a.mkv", "de", "other", "42", "")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = store.History.Seen("/media/a.mkv", "de", "", "", "abc")
	require.NoError(t, err)
	assert.True(t, seen, "matching content hash counts as seen")
}
