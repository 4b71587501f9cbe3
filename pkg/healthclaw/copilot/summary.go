package copilot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/database"
)

// Risk levels for office syndrome.
const (
	RiskLow     = "Low"
	RiskMedium  = "Medium"
	RiskHigh    = "High"
	RiskUnknown = "Unknown"
)

// SummaryReport is a daily report for one user.
type SummaryReport struct {
	UserID        string
	Date          string
	Overview      string
	OfficeRisk    string
	OfficeSummary string
	Activity      *database.ActivityRecord

	Name   string
	Weight *float64
	Height *float64
	BMI    string

	// NoData is set when no activity was recorded for the date.
	NoData bool
	// Degraded is set when the model failed and a fallback was returned.
	Degraded bool
}

// Summarizer builds daily reports from the repository and the conversation.
type Summarizer struct {
	repo     database.Repository
	reasoner Reasoner
	texts    SummaryTexts
	logger   *slog.Logger
	now      func() time.Time
}

// SummaryTexts are the fixed strings used when the model is not consulted.
type SummaryTexts struct {
	NoDataOverview string `yaml:"no_data_overview"`
	NoDataSummary  string `yaml:"no_data_summary"`
	Unavailable    string `yaml:"unavailable"`
}

func (t SummaryTexts) withDefaults() SummaryTexts {
	if t.NoDataOverview == "" {
		t.NoDataOverview = "No activity was recorded for this day."
	}
	if t.NoDataSummary == "" {
		t.NoDataSummary = "Log your steps and sleep with /log to get a risk assessment."
	}
	if t.Unavailable == "" {
		t.Unavailable = "Sorry, the summary is not available right now."
	}
	return t
}

// NewSummarizer creates a summarizer.
func NewSummarizer(repo database.Repository, reasoner Reasoner, texts SummaryTexts, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		repo:     repo,
		reasoner: reasoner,
		texts:    texts.withDefaults(),
		logger:   logger.With("component", "summary"),
		now:      time.Now,
	}
}

// Summarize reports on (userID, date). Without an activity record for the
// date the report is marked NoData with an Unknown risk and the model is not
// asked. Successful reports are persisted; a model failure yields a degraded
// report that is not stored.
func (s *Summarizer) Summarize(ctx context.Context, userID, date string, history []Turn) (*SummaryReport, error) {
	var (
		user     *database.User
		body     *database.BodyRecord
		activity *database.ActivityRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := s.repo.GetUser(gctx, userID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return err
		}
		user = u
		return nil
	})
	g.Go(func() error {
		b, err := s.repo.LatestBody(gctx, userID, date)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return err
		}
		body = b
		return nil
	})
	g.Go(func() error {
		a, err := s.repo.GetActivity(gctx, userID, date)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return err
		}
		activity = a
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &SummaryReport{
		UserID:   userID,
		Date:     date,
		Activity: activity,
		BMI:      DescribeBMI(body),
	}
	if user != nil {
		report.Name = user.Name
	}
	if body != nil {
		report.Weight, report.Height = body.Weight, body.Height
	}

	if activity == nil {
		report.NoData = true
		report.Overview = s.texts.NoDataOverview
		report.OfficeRisk = RiskUnknown
		report.OfficeSummary = s.texts.NoDataSummary
		s.logger.Debug("no activity for summary", "user_id", userID, "date", date)
		return report, s.persist(ctx, report)
	}

	draft, err := s.reasoner.Summarize(ctx, SummaryInput{
		Date:     date,
		Persona:  formatPersona(user, body, s.now()),
		Activity: activity,
		History:  history,
	})
	if err != nil {
		s.logger.Warn("summary generation failed", "user_id", userID, "date", date, "error", err)
		report.Degraded = true
		report.Overview = s.texts.Unavailable
		report.OfficeRisk = RiskUnknown
		return report, nil
	}

	report.Overview = strings.TrimSpace(draft.Overview)
	report.OfficeRisk = normalizeRisk(draft.OfficeRisk)
	report.OfficeSummary = strings.TrimSpace(draft.OfficeSummary)
	return report, s.persist(ctx, report)
}

func (s *Summarizer) persist(ctx context.Context, r *SummaryReport) error {
	return s.repo.UpsertSummary(ctx, database.SummaryRecord{
		UserID:        r.UserID,
		Date:          r.Date,
		Overview:      r.Overview,
		OfficeRisk:    r.OfficeRisk,
		OfficeSummary: r.OfficeSummary,
	})
}

func normalizeRisk(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow
	case "medium", "moderate":
		return RiskMedium
	case "high":
		return RiskHigh
	}
	return RiskUnknown
}
