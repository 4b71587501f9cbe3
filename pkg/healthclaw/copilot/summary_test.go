package copilot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/database"
)

func TestSummarizer_NoDataIsDistinctFromZeroDay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := openTestRepo(t)
	reasoner := newFakeReasoner()
	s := NewSummarizer(repo, reasoner, SummaryTexts{}, nil)

	_, err := repo.EnsureUser(ctx, "u1")
	require.NoError(t, err)

	empty, err := s.Summarize(ctx, "u1", today, nil)
	require.NoError(t, err)
	assert.True(t, empty.NoData)
	assert.Equal(t, RiskUnknown, empty.OfficeRisk)
	assert.Zero(t, reasoner.count("summarize"), "no model call without data")

	require.NoError(t, repo.UpsertActivity(ctx, "u1", today, database.ActivityPatch{Steps: ptr(0)}))
	zero, err := s.Summarize(ctx, "u1", today, nil)
	require.NoError(t, err)
	assert.False(t, zero.NoData)
	require.NotNil(t, zero.Activity)
	assert.Equal(t, 0, zero.Activity.Steps)
	assert.Equal(t, RiskLow, zero.OfficeRisk)

	stored, err := repo.GetSummary(ctx, "u1", today)
	require.NoError(t, err)
	assert.Equal(t, "A good day.", stored.Overview, "regeneration overwrites")
}

func TestSummarizer_DegradedIsNotStored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := openTestRepo(t)
	reasoner := newFakeReasoner()
	reasoner.sumErr = errors.New("model down")
	s := NewSummarizer(repo, reasoner, SummaryTexts{Unavailable: "try later"}, nil)

	_, err := repo.EnsureUser(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, repo.UpsertActivity(ctx, "u1", today, database.ActivityPatch{Steps: ptr(3000)}))

	report, err := s.Summarize(ctx, "u1", today, nil)
	require.NoError(t, err)
	assert.True(t, report.Degraded)
	assert.Equal(t, "try later", report.Overview)

	_, err = repo.GetSummary(ctx, "u1", today)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestNormalizeRisk(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"low":       RiskLow,
		" High ":    RiskHigh,
		"moderate":  RiskMedium,
		"Medium":    RiskMedium,
		"":          RiskUnknown,
		"very high": RiskUnknown,
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeRisk(in), "input %q", in)
	}
}
