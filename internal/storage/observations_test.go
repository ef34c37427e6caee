package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservationCreateAndGet(t *testing.T) {
	e := newTestEngine(t)
	repo, err := NewObservationRepo(e.DB(), testProjectHash())
	require.NoError(t, err)
	ctx := context.Background()

	title := "first finding"
	obs, err := repo.Create(ctx, CreateParams{
		Content: "discovered the retry loop swallows context cancellation",
		Title:   &title,
		Source:  "agent",
		Kind:    KindFinding,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, obs.ID)

	got, err := repo.GetByID(ctx, obs.ID)
	require.NoError(t, err)
	assert.Equal(t, obs.Content, got.Content)
	assert.Equal(t, KindFinding, got.Kind)
}

func TestObservationCreateRejectsOversizedContent(t *testing.T) {
	e := newTestEngine(t)
	repo, err := NewObservationRepo(e.DB(), testProjectHash())
	require.NoError(t, err)

	huge := make([]byte, 100_001)
	for i := range huge {
		huge[i] = 'a'
	}
	_, err = repo.Create(context.Background(), CreateParams{Content: string(huge), Source: "agent"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestObservationDefaultsToFindingKind(t *testing.T) {
	e := newTestEngine(t)
	repo, err := NewObservationRepo(e.DB(), testProjectHash())
	require.NoError(t, err)

	obs, err := repo.Create(context.Background(), CreateParams{Content: "no kind specified", Source: "agent"})
	require.NoError(t, err)
	assert.Equal(t, KindFinding, obs.Kind)
}

func TestObservationSoftDeleteAndRestore(t *testing.T) {
	e := newTestEngine(t)
	repo, err := NewObservationRepo(e.DB(), testProjectHash())
	require.NoError(t, err)
	ctx := context.Background()

	obs, err := repo.Create(ctx, CreateParams{Content: "transient note", Source: "agent"})
	require.NoError(t, err)

	deleted, err := repo.SoftDelete(ctx, obs.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = repo.GetByID(ctx, obs.ID)
	assert.True(t, IsNotFound(err))

	stillThere, err := repo.GetByIDIncludingDeleted(ctx, obs.ID)
	require.NoError(t, err)
	assert.True(t, stillThere.IsDeleted())

	restored, err := repo.Restore(ctx, obs.ID)
	require.NoError(t, err)
	assert.True(t, restored)

	got, err := repo.GetByID(ctx, obs.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDeleted())

	restoredAgain, err := repo.Restore(ctx, obs.ID)
	require.NoError(t, err)
	assert.False(t, restoredAgain, "restoring an already-active row is a no-op")
}

func TestObservationListExcludesNoiseButKeepsGraceWindow(t *testing.T) {
	e := newTestEngine(t)
	repo, err := NewObservationRepo(e.DB(), testProjectHash())
	require.NoError(t, err)
	ctx := context.Background()

	fresh, err := repo.Create(ctx, CreateParams{Content: "fresh unclassified observation", Source: "agent"})
	require.NoError(t, err)

	noisy, err := repo.Create(ctx, CreateParams{Content: "classified as noise", Source: "agent"})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateClassification(ctx, noisy.ID, ClassificationNoise))

	results, err := repo.List(ctx, ListParams{Limit: 50})
	require.NoError(t, err)

	var ids []string
	for _, o := range results {
		ids = append(ids, o.ID)
	}
	assert.Contains(t, ids, fresh.ID, "unclassified observation within the grace window stays visible")
	assert.NotContains(t, ids, noisy.ID, "noise-classified observations are excluded from default listings")
}

func TestObservationListIncludeUnclassifiedSurfacesNoise(t *testing.T) {
	e := newTestEngine(t)
	repo, err := NewObservationRepo(e.DB(), testProjectHash())
	require.NoError(t, err)
	ctx := context.Background()

	noisy, err := repo.Create(ctx, CreateParams{Content: "noise again", Source: "agent"})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateClassification(ctx, noisy.ID, ClassificationNoise))

	results, err := repo.List(ctx, ListParams{Limit: 50, IncludeUnclassified: true})
	require.NoError(t, err)
	var ids []string
	for _, o := range results {
		ids = append(ids, o.ID)
	}
	assert.Contains(t, ids, noisy.ID, "IncludeUnclassified drops the classification filter, so noise-classified rows are listed too")
}

func TestObservationUpdateMissingRowReturnsNilNotError(t *testing.T) {
	e := newTestEngine(t)
	repo, err := NewObservationRepo(e.DB(), testProjectHash())
	require.NoError(t, err)

	got, err := repo.Update(context.Background(), "does-not-exist", ObservationPatch{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestObservationListUnclassifiedOrdersOldestFirst(t *testing.T) {
	e := newTestEngine(t)
	repo, err := NewObservationRepo(e.DB(), testProjectHash())
	require.NoError(t, err)
	ctx := context.Background()

	first, err := repo.Create(ctx, CreateParams{Content: "older", Source: "agent"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := repo.Create(ctx, CreateParams{Content: "newer", Source: "agent"})
	require.NoError(t, err)

	unclassified, err := repo.ListUnclassified(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unclassified, 2)
	assert.Equal(t, first.ID, unclassified[0].ID)
	assert.Equal(t, second.ID, unclassified[1].ID)
}

func TestObservationGetByTitle(t *testing.T) {
	e := newTestEngine(t)
	repo, err := NewObservationRepo(e.DB(), testProjectHash())
	require.NoError(t, err)
	ctx := context.Background()

	title := "migration rollback plan"
	_, err = repo.Create(ctx, CreateParams{Content: "content", Title: &title, Source: "agent"})
	require.NoError(t, err)

	matches, err := repo.GetByTitle(ctx, "rollback")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, title, *matches[0].Title)
}
