package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/database"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/knowledge"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/llm"
)

// Topic is what a free-text message contains.
type Topic struct {
	HasInfo    bool `json:"has_info"`
	IsQuestion bool `json:"is_question"`
}

// ComposeInput is everything the answer is generated from.
type ComposeInput struct {
	Persona  string
	NewUser  bool
	History  []Turn
	Question string
	Passages []knowledge.Passage
}

// SummaryInput feeds a daily report.
type SummaryInput struct {
	Date     string
	Persona  string
	Activity *database.ActivityRecord
	History  []Turn
}

// SummaryDraft is the model's daily report before normalization.
type SummaryDraft struct {
	Overview      string `json:"overview"`
	OfficeRisk    string `json:"office_risk"`
	OfficeSummary string `json:"office_summary"`
}

// Reasoner is the model-backed part of the pipeline.
type Reasoner interface {
	RateSeverity(ctx context.Context, persona string, turns []Turn) (int, error)
	ClassifyTopic(ctx context.Context, text string) (Topic, error)
	// ExtractChanges returns the profile and activity facts stated in the
	// conversation. An empty ChangeSet means nothing was found.
	ExtractChanges(ctx context.Context, turns []Turn, today string) (database.ChangeSet, error)
	Compose(ctx context.Context, in ComposeInput) (string, error)
	Summarize(ctx context.Context, in SummaryInput) (SummaryDraft, error)
}

// errMalformedOutput is returned when the model ignores the JSON contract.
var errMalformedOutput = errors.New("malformed model output")

// ModelReasoner implements Reasoner on an llm.Backend.
type ModelReasoner struct {
	backend llm.Backend
	prompts PromptsConfig
	logger  *slog.Logger
}

var _ Reasoner = (*ModelReasoner)(nil)

// NewModelReasoner creates a reasoner using backend.
func NewModelReasoner(backend llm.Backend, prompts PromptsConfig, logger *slog.Logger) *ModelReasoner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelReasoner{
		backend: backend,
		prompts: prompts.withDefaults(),
		logger:  logger.With("component", "reasoner"),
	}
}

func temp(v float32) *float32 { return &v }

func (m *ModelReasoner) RateSeverity(ctx context.Context, persona string, turns []Turn) (int, error) {
	system := m.prompts.Severity
	if persona != "" {
		system += "\n\nAbout the user:\n" + persona
	}
	raw, err := m.backend.Complete(ctx, llm.Request{
		System:      system,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "Statements:\n" + formatTurns(turns)}},
		JSON:        true,
		Temperature: temp(0),
		MaxTokens:   64,
	})
	if err != nil {
		return 0, err
	}

	var out struct {
		Rate json.Number `json:"rate"`
	}
	if err := decodeJSONObject(raw, &out); err != nil {
		return 0, err
	}
	rate, err := strconv.ParseFloat(out.Rate.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: rate %q", errMalformedOutput, out.Rate)
	}
	return min(max(int(rate), 0), 5), nil
}

func (m *ModelReasoner) ClassifyTopic(ctx context.Context, text string) (Topic, error) {
	raw, err := m.backend.Complete(ctx, llm.Request{
		System:      m.prompts.Topic,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: text}},
		JSON:        true,
		Temperature: temp(0),
		MaxTokens:   64,
	})
	if err != nil {
		return Topic{}, err
	}
	var t Topic
	err = decodeJSONObject(raw, &t)
	return t, err
}

func (m *ModelReasoner) ExtractChanges(ctx context.Context, turns []Turn, today string) (database.ChangeSet, error) {
	raw, err := m.backend.Complete(ctx, llm.Request{
		System:      m.prompts.Extract + "\n\nToday is " + today + ".",
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: formatTurns(turns)}},
		JSON:        true,
		Temperature: temp(0),
	})
	if err != nil {
		return database.ChangeSet{Date: today}, err
	}

	var obj map[string]any
	if err := decodeJSONObject(raw, &obj); err != nil {
		return database.ChangeSet{Date: today}, err
	}

	args := make(map[string]string, len(obj))
	for k, v := range obj {
		switch x := v.(type) {
		case nil:
		case string:
			if s := strings.TrimSpace(x); s != "" && !strings.EqualFold(s, "null") {
				args[k] = s
			}
		case float64:
			args[k] = strconv.FormatFloat(x, 'f', -1, 64)
		case bool:
		default:
			args[k] = fmt.Sprint(x)
		}
	}

	cs, errs := BuildChangeSet(args, today)
	for _, fe := range errs {
		m.logger.Debug("dropping extracted field", "field", fe.Key, "reason", fe.Msg)
	}
	// Extraction never moves the record date.
	cs.Date = today
	return cs, nil
}

func (m *ModelReasoner) Compose(ctx context.Context, in ComposeInput) (string, error) {
	var system strings.Builder
	system.WriteString(m.prompts.System)
	switch {
	case in.Persona != "":
		system.WriteString("\n\nYou are assisting the following user:\n")
		system.WriteString(in.Persona)
	case in.NewUser:
		system.WriteString("\n\nIMPORTANT: ")
		system.WriteString(m.prompts.NewUser)
	}
	if len(in.Passages) > 0 {
		system.WriteString("\n\nFrom the context provided below:\n\n")
		system.WriteString(formatPassages(in.Passages))
	}

	msgs := make([]llm.Message, 0, len(in.History)+1)
	for _, t := range in.History {
		role := llm.RoleUser
		if t.Role == "assistant" {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	q := strings.TrimSpace(in.Question)
	if q == "" {
		q = m.prompts.DefaultMessage
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: q})

	out, err := m.backend.Complete(ctx, llm.Request{
		System:      system.String(),
		Messages:    msgs,
		Temperature: temp(0.7),
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: empty answer", errMalformedOutput)
	}
	return out, nil
}

func (m *ModelReasoner) Summarize(ctx context.Context, in SummaryInput) (SummaryDraft, error) {
	system := m.prompts.Summary
	if in.Persona != "" {
		system += "\n\nAbout the user:\n" + in.Persona
	}

	var data strings.Builder
	fmt.Fprintf(&data, "Date: %s\n", in.Date)
	if a := in.Activity; a != nil {
		fmt.Fprintf(&data, "Steps: %d\n", a.Steps)
		if a.SleepHours != nil {
			fmt.Fprintf(&data, "Sleep hours: %g\n", *a.SleepHours)
		}
		if a.CaloriesBurned != nil {
			fmt.Fprintf(&data, "Calories burned: %g\n", *a.CaloriesBurned)
		}
		if a.AvgHeartRate != nil {
			fmt.Fprintf(&data, "Average heart rate: %d\n", *a.AvgHeartRate)
		}
		if a.ActiveMinutes != nil {
			fmt.Fprintf(&data, "Active minutes: %d\n", *a.ActiveMinutes)
		}
	}
	if len(in.History) > 0 {
		data.WriteString("\nRecent conversation:\n")
		data.WriteString(formatTurns(in.History))
	}

	raw, err := m.backend.Complete(ctx, llm.Request{
		System:      system,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: data.String()}},
		JSON:        true,
		Temperature: temp(0.2),
	})
	if err != nil {
		return SummaryDraft{}, err
	}
	var d SummaryDraft
	if err := decodeJSONObject(raw, &d); err != nil {
		return SummaryDraft{}, err
	}
	return d, nil
}

// decodeJSONObject tolerates code fences and chatter around the object.
func decodeJSONObject(raw string, v any) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return fmt.Errorf("%w: no JSON object in %q", errMalformedOutput, truncateText(raw, 80))
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", errMalformedOutput, err)
	}
	return nil
}

func truncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
