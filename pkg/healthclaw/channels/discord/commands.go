package discord

import (
	"strconv"

	"github.com/bwmarrin/discordgo"
)

func float64Ptr(v float64) *float64 { return &v }

var genderChoices = []*discordgo.ApplicationCommandOptionChoice{
	{Name: "Male", Value: "male"},
	{Name: "Female", Value: "female"},
	{Name: "Other", Value: "other"},
}

// slashCommands are registered on connect.
var slashCommands = []*discordgo.ApplicationCommand{
	{
		Name:        "summary",
		Description: "Get your personalized daily health summary.",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "date", Description: "Date (YYYY-MM-DD), default today"},
		},
	},
	{
		Name:        "log",
		Description: "Log your daily health stats. You'll be asked to confirm.",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionInteger, Name: "steps", Description: "Steps taken", MinValue: float64Ptr(0)},
			{Type: discordgo.ApplicationCommandOptionNumber, Name: "sleep_hours", Description: "Sleep last night (hours)", MinValue: float64Ptr(0), MaxValue: 24},
			{Type: discordgo.ApplicationCommandOptionNumber, Name: "calories_burned", Description: "Calories burned (kcal)", MinValue: float64Ptr(0)},
			{Type: discordgo.ApplicationCommandOptionInteger, Name: "avg_heart_rate", Description: "Average heart rate (bpm)", MinValue: float64Ptr(20), MaxValue: 250},
			{Type: discordgo.ApplicationCommandOptionInteger, Name: "active_minutes", Description: "Active minutes", MinValue: float64Ptr(0), MaxValue: 1440},
			{Type: discordgo.ApplicationCommandOptionNumber, Name: "weight", Description: "Weight (kg)", MinValue: float64Ptr(1)},
			{Type: discordgo.ApplicationCommandOptionNumber, Name: "height", Description: "Height (cm)", MinValue: float64Ptr(30)},
			{Type: discordgo.ApplicationCommandOptionString, Name: "source", Description: "Where the numbers come from (watch, phone, ...)"},
			{Type: discordgo.ApplicationCommandOptionString, Name: "date", Description: "Date (YYYY-MM-DD), default today"},
		},
	},
	{
		Name:        "update-user",
		Description: "Update your profile directly.",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "name", Description: "Your name"},
			{Type: discordgo.ApplicationCommandOptionString, Name: "dob", Description: "Date of birth (YYYY-MM-DD)"},
			{Type: discordgo.ApplicationCommandOptionString, Name: "gender", Description: "Gender", Choices: genderChoices},
			{Type: discordgo.ApplicationCommandOptionString, Name: "occupation", Description: "What you do"},
			{Type: discordgo.ApplicationCommandOptionString, Name: "description", Description: "Your daily lifestyle"},
			{Type: discordgo.ApplicationCommandOptionString, Name: "chronic_disease", Description: "Known chronic conditions"},
			{Type: discordgo.ApplicationCommandOptionNumber, Name: "weight", Description: "Weight (kg)", MinValue: float64Ptr(1)},
			{Type: discordgo.ApplicationCommandOptionNumber, Name: "height", Description: "Height (cm)", MinValue: float64Ptr(30)},
		},
	},
	{
		Name:        "ask",
		Description: "Ask a question (alternative to the !health prefix).",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "question", Description: "Your question", Required: true},
		},
	},
	{
		Name:        "askraw",
		Description: "Ask without reference material or your profile.",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "question", Description: "Your question", Required: true},
		},
	},
	{
		Name:        "reset-user",
		Description: "Delete all your data.",
	},
}

// ephemeralCommands answer privately.
var ephemeralCommands = map[string]bool{
	"log":         true,
	"update-user": true,
	"reset-user":  true,
}

// optionValues flattens slash-command options into strings.
func optionValues(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]string {
	out := make(map[string]string, len(opts))
	for _, o := range opts {
		switch o.Type {
		case discordgo.ApplicationCommandOptionString:
			out[o.Name] = o.StringValue()
		case discordgo.ApplicationCommandOptionInteger:
			out[o.Name] = strconv.FormatInt(o.IntValue(), 10)
		case discordgo.ApplicationCommandOptionNumber:
			out[o.Name] = strconv.FormatFloat(o.FloatValue(), 'f', -1, 64)
		case discordgo.ApplicationCommandOptionBoolean:
			out[o.Name] = strconv.FormatBool(o.BoolValue())
		}
	}
	return out
}
