package console

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/channels"
)

func TestFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hello", Format(&channels.OutgoingMessage{Content: "hello"}))

	got := Format(&channels.OutgoingMessage{
		Content: "Should I save this?",
		Actions: []channels.Action{{ID: "confirm"}, {ID: "cancel"}},
	})
	assert.Equal(t, "Should I save this?\n[reply /confirm or /cancel]", got)

	got = Format(&channels.OutgoingMessage{Embed: &channels.Embed{
		Title:       "Daily Health Summary",
		Description: "A calm day.",
		Fields:      []channels.EmbedField{{Name: "Steps", Value: "4200"}},
		Footer:      "2025-03-14",
	}})
	assert.Equal(t, "== Daily Health Summary ==\nA calm day.\n  Steps: 4200\n  (2025-03-14)", got)
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()
	c := New(Config{}, nil)

	assert.Equal(t, "console", c.Name())
	assert.Equal(t, "console-user", c.cfg.UserID)
	assert.Equal(t, "you> ", c.cfg.Prompt)
	assert.False(t, c.IsConnected())
	assert.False(t, c.Health().Connected)
}

func TestSendRequiresConnection(t *testing.T) {
	t.Parallel()
	c := New(Config{}, nil)

	_, err := c.Send(context.Background(), ChatID, &channels.OutgoingMessage{Content: "hi"})
	assert.ErrorIs(t, err, channels.ErrChannelDisconnected)

	assert.NoError(t, c.Disconnect())
	select {
	case <-c.Done():
	default:
		t.Fatal("Done is not closed after Disconnect")
	}
}
