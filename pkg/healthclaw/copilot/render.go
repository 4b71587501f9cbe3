package copilot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/channels"
)

// Button ids understood by HandleIncoming.
const (
	actionConfirm = "confirm"
	actionCancel  = "cancel"
)

// FormatSummary renders a report as plain text. It is the fallback for
// channels without embeds and the text kept in history.
func FormatSummary(r *SummaryReport) string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Health summary for %s\n", r.Date)
	if r.NoData {
		b.WriteString("No data for this day.\n")
	}
	b.WriteString(r.Overview)
	if r.OfficeRisk != "" {
		fmt.Fprintf(&b, "\nOffice syndrome risk: %s", r.OfficeRisk)
	}
	if r.OfficeSummary != "" {
		b.WriteString("\n" + r.OfficeSummary)
	}
	return b.String()
}

func summaryEmbed(r *SummaryReport) *channels.Embed {
	e := &channels.Embed{
		Title:       "Daily Health Summary",
		Description: r.Overview,
		Color:       riskColor(r.OfficeRisk),
		Footer:      r.Date,
	}
	if r.NoData {
		e.Title = "Daily Health Summary (no data)"
		e.Color = channels.ColorInfo
	}
	field := func(name, value string, inline bool) {
		if value != "" {
			e.Fields = append(e.Fields, channels.EmbedField{Name: name, Value: value, Inline: inline})
		}
	}
	field("Name", r.Name, true)
	if r.Height != nil {
		field("Height", strconv.FormatFloat(*r.Height, 'f', -1, 64)+" cm", true)
	}
	if r.Weight != nil {
		field("Weight", strconv.FormatFloat(*r.Weight, 'f', -1, 64)+" kg", true)
	}
	field("BMI", r.BMI, true)
	if a := r.Activity; a != nil {
		field("Steps", strconv.Itoa(a.Steps), true)
		if a.SleepHours != nil {
			field("Sleep", strconv.FormatFloat(*a.SleepHours, 'f', -1, 64)+" h", true)
		}
		if a.ActiveMinutes != nil {
			field("Active", strconv.Itoa(*a.ActiveMinutes)+" min", true)
		}
	}
	field("Office Syndrome Risk", r.OfficeRisk, false)
	field("Why", r.OfficeSummary, false)
	return e
}

func riskColor(risk string) int {
	switch risk {
	case RiskLow:
		return channels.ColorSuccess
	case RiskMedium:
		return channels.ColorWarning
	case RiskHigh:
		return channels.ColorDanger
	}
	return channels.ColorInfo
}

// renderReply converts a pipeline reply into what the channel sends.
func renderReply(reply *Reply, msg *Message) *channels.OutgoingMessage {
	out := &channels.OutgoingMessage{
		Content:  reply.Text,
		ReplyTo:  msg.ID,
		Metadata: msg.Meta,
	}
	switch reply.Kind {
	case ReplySilent:
		out.Content = ""
		out.Silent = true
	case ReplyConfirmPrompt, ReplyRePrompt:
		if p := reply.Pending; p != nil {
			out.Actions = confirmActions(p)
		}
	case ReplySummary:
		if reply.Summary != nil {
			out.Embed = summaryEmbed(reply.Summary)
			out.Content = ""
		}
	case ReplyUrgent:
		out.Embed = &channels.Embed{
			Title:       "Please seek care now",
			Description: reply.Text,
			Color:       channels.ColorDanger,
		}
		out.Content = ""
	}
	return out
}

func confirmActions(p *PendingUpdate) []channels.Action {
	ttl := p.ExpiresAt.Sub(p.CreatedAt)
	return []channels.Action{
		{ID: actionConfirm, Ref: p.ID, Label: "Confirm", Style: channels.ActionSuccess, AllowedUsers: []string{p.UserID}, TTL: ttl},
		{ID: actionCancel, Ref: p.ID, Label: "Cancel", Style: channels.ActionDanger, AllowedUsers: []string{p.UserID}, TTL: ttl},
	}
}
