package discord

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/channels"
)

func TestCustomIDRoundTrip(t *testing.T) {
	t.Parallel()

	id := customID("confirm", "3f2a-uuid")
	assert.Equal(t, "hc:confirm:3f2a-uuid", id)

	action, ref, ok := parseCustomID(id)
	require.True(t, ok)
	assert.Equal(t, "confirm", action)
	assert.Equal(t, "3f2a-uuid", ref)

	action, ref, ok = parseCustomID("hc:reset:user:42")
	require.True(t, ok)
	assert.Equal(t, "reset", action)
	assert.Equal(t, "user:42", ref)

	for _, bad := range []string{"", "confirm", "xx:confirm:1", "hc::1"} {
		_, _, ok := parseCustomID(bad)
		assert.False(t, ok, bad)
	}
}

func TestComponentRegistry_Expiry(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	r := newComponentRegistry(nil)
	r.now = func() time.Time { return now }

	r.Register("hc:confirm:1", ComponentSpec{TTL: time.Minute, AllowedUsers: []string{"alice"}})
	r.Register("hc:cancel:1", ComponentSpec{})
	r.Register("", ComponentSpec{})
	assert.Equal(t, 2, r.Len())

	spec, ok := r.Get("hc:confirm:1")
	require.True(t, ok)
	assert.True(t, spec.IsAllowed("alice"))
	assert.False(t, spec.IsAllowed("mallory"))

	now = now.Add(2 * time.Minute)
	_, ok = r.Get("hc:confirm:1")
	assert.False(t, ok)
	_, ok = r.Get("hc:cancel:1")
	assert.True(t, ok, "no TTL never expires")

	assert.Equal(t, 1, r.cleanupExpired())
	assert.Equal(t, 1, r.Len())

	r.Unregister("hc:cancel:1")
	assert.Zero(t, r.Len())
}

func TestBuildActionRows(t *testing.T) {
	t.Parallel()

	actions := make([]channels.Action, 7)
	for i := range actions {
		actions[i] = channels.Action{ID: "a", Ref: "r", Label: "L", Style: channels.ActionDanger}
	}
	rows := buildActionRows(actions)
	require.Len(t, rows, 2)
	assert.Len(t, rows[0].(discordgo.ActionsRow).Components, 5)
	assert.Len(t, rows[1].(discordgo.ActionsRow).Components, 2)

	btn := rows[0].(discordgo.ActionsRow).Components[0].(discordgo.Button)
	assert.Equal(t, "hc:a:r", btn.CustomID)
	assert.Equal(t, discordgo.DangerButton, btn.Style)

	assert.Nil(t, buildActionRows(nil))
}

func TestOptionValues(t *testing.T) {
	t.Parallel()

	got := optionValues([]*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "name", Type: discordgo.ApplicationCommandOptionString, Value: "Ann"},
		{Name: "steps", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(8000)},
		{Name: "weight", Type: discordgo.ApplicationCommandOptionNumber, Value: 60.5},
		{Name: "smoker", Type: discordgo.ApplicationCommandOptionBoolean, Value: false},
	})
	assert.Equal(t, map[string]string{
		"name":   "Ann",
		"steps":  "8000",
		"weight": "60.5",
		"smoker": "false",
	}, got)
}

func TestStripPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"!health how do I sleep better?", "how do I sleep better?", true},
		{"  !HEALTH   hi ", "hi", true},
		{"!health", "", true},
		{"!healthy food", "!healthy food", false},
		{"hello there", "hello there", false},
		{"!he", "!he", false},
	}
	for _, tt := range tests {
		got, ok := stripPrefix(tt.in, "!health")
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	user := &discordgo.User{Username: "ann99", GlobalName: "Ann"}
	assert.Equal(t, "Nurse Ann", displayName(&discordgo.Member{Nick: "Nurse Ann"}, user))
	assert.Equal(t, "Ann", displayName(nil, user))
	assert.Equal(t, "ann99", displayName(nil, &discordgo.User{Username: "ann99"}))
	assert.Empty(t, displayName(nil, nil))
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	assert.Equal(t, "!health", cfg.Prefix)
	assert.True(t, cfg.RegisterCommands)
	assert.Equal(t, 30*time.Second, cfg.ResetConfirmTTL)
}
