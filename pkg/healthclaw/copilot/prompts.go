package copilot

import (
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/database"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/knowledge"
)

// PromptsConfig holds the model instructions and fixed user-facing texts.
// Empty fields fall back to the built-in defaults.
type PromptsConfig struct {
	System     string `yaml:"system"`
	Severity   string `yaml:"severity"`
	Topic      string `yaml:"topic"`
	Extract    string `yaml:"extract"`
	Summary    string `yaml:"summary"`
	NewUser    string `yaml:"new_user"`
	Disclaimer string `yaml:"disclaimer"`
	Urgent     string `yaml:"urgent"`
	Caution    string `yaml:"caution"`
	Fallback   string `yaml:"fallback"`
	// DefaultMessage stands in for an empty question.
	DefaultMessage string `yaml:"default_message"`
}

const defaultSystemPrompt = `You are Healthclaw, a friendly health companion for office workers.
Answer in the language the user writes in. Keep answers short and practical.
Focus on daily habits: sleep, movement, posture, hydration, stress and screen time.
Never diagnose. When symptoms sound serious, advise seeing a doctor.`

const defaultSeverityPrompt = `You are a decisive medical classifier.
You are given messages between a user and their health assistant.
Rate the severity of what the user describes on this scale:

0: No risk, or not enough evidence.
1: Mild skin rash, seasonal allergies, dry cough, minor bruise, slight sore throat.
2: Low-grade fever, persistent vomiting, sprained ankle, a deep cut needing stitches.
3: High fever (>39.5°C), moderate dehydration, minor fractures, persistent abdominal pain.
4: Difficulty breathing, sudden intense pain, major fractures, heavy bleeding.
5: Sharp chest pain, unconsciousness, severe head trauma, anaphylaxis.

Return ONLY a JSON object: {"rate": <0-5>}`

const defaultTopicPrompt = `You are a linguistic classifier. Analyze the user's message for two things:
1. has_info: does the user state personal health details (name, weight, height, job, steps, sleep, conditions)?
2. is_question: is the user asking a health-related question?

Return ONLY a JSON object: {"has_info": boolean, "is_question": boolean}`

const defaultExtractPrompt = `You extract profile and activity data from a conversation, including Thai.

Rules:
1. name: prefer the formal name; a nickname alone is fine.
2. dob: YYYY-MM-DD. Buddhist Era years convert with A.D. = B.E. - 543 (2539 -> 1996).
3. occupation: translate to English (e.g. "พนักงานออฟฟิศ" -> "Office Worker").
4. weight in kg, height in cm, sleep_hours in hours.
5. Only include what the user stated in their latest messages. Use null for anything missing. Never guess.

Return ONLY a JSON object with these keys:
{"name", "dob", "gender", "occupation", "description", "chronic_disease",
 "weight", "height", "steps", "calories_burned", "avg_heart_rate", "active_minutes", "sleep_hours"}`

const defaultSummaryPrompt = `You write a short daily health report for an office worker.
Use the activity data, the profile and the recent conversation.
Return ONLY a JSON object with:
1. "overview": two or three sentences on the user's health status today, in the user's language.
2. "office_risk": office-syndrome risk, exactly one of "Low", "Medium", "High".
3. "office_summary": one or two sentences explaining the risk with one concrete tip.`

const defaultNewUserPrompt = `You are meeting this user for the first time. Introduce yourself and politely
ask for their name, age and what they do for a living so you can give better advice.`

const defaultDisclaimer = "_Healthclaw is not a doctor. For medical concerns, please consult a professional._"

const defaultUrgent = "🚨 This sounds serious. Please contact emergency services (1669 in Thailand) or go to the nearest hospital now."

const defaultCaution = "⚠️ Keep an eye on these symptoms. If they get worse or last more than a couple of days, see a doctor."

const defaultFallback = "Sorry, I can't answer right now. Please try again in a moment."

// withDefaults fills empty fields.
func (p PromptsConfig) withDefaults() PromptsConfig {
	def := func(v *string, d string) {
		if strings.TrimSpace(*v) == "" {
			*v = d
		}
	}
	def(&p.System, defaultSystemPrompt)
	def(&p.Severity, defaultSeverityPrompt)
	def(&p.Topic, defaultTopicPrompt)
	def(&p.Extract, defaultExtractPrompt)
	def(&p.Summary, defaultSummaryPrompt)
	def(&p.NewUser, defaultNewUserPrompt)
	def(&p.Disclaimer, defaultDisclaimer)
	def(&p.Urgent, defaultUrgent)
	def(&p.Caution, defaultCaution)
	def(&p.Fallback, defaultFallback)
	def(&p.DefaultMessage, "Hello")
	return p
}

func (p PromptsConfig) nothingPending(expired bool) string {
	if expired {
		return "There's nothing pending to confirm. Your last update expired before it was confirmed, please send it again."
	}
	return "There's nothing pending to confirm."
}

// formatPersona renders what is known about the user for a system prompt.
func formatPersona(u *database.User, body *database.BodyRecord, now time.Time) string {
	if u == nil {
		return ""
	}
	var b strings.Builder
	line := func(label, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, v)
		}
	}
	line("Name", u.Name)
	if age := ageOn(u.DOB, now); age > 0 {
		line("Age", fmt.Sprint(age))
	}
	line("Gender", u.Gender)
	line("Occupation", u.Occupation)
	line("BMI Status", DescribeBMI(body))
	line("Known Chronic Diseases", u.ChronicDisease)
	line("Daily Lifestyle", u.Description)
	return strings.TrimRight(b.String(), "\n")
}

func ageOn(dob string, now time.Time) int {
	t, err := time.Parse(dateLayout, dob)
	if err != nil {
		return 0
	}
	age := now.Year() - t.Year()
	if now.YearDay() < t.YearDay() {
		age--
	}
	return age
}

func formatPassages(ps []knowledge.Passage) string {
	var b strings.Builder
	for i, p := range ps {
		if i > 0 {
			b.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&b, "[%s]\n%s", p.Source, p.Text)
	}
	return b.String()
}

func formatTurns(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
