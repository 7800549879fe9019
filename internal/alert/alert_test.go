package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbed(t *testing.T) {
	at := time.Date(2026, time.May, 1, 8, 0, 0, 0, time.FixedZone("X", 3600))
	e := Embed("No holders", map[string]string{
		"tokenization": "7",
		"gross":        "1500.00",
		"note":         "",
	}, at)

	assert.Equal(t, "No holders", e.Title)
	assert.Equal(t, "2026-05-01T07:00:00Z", e.Timestamp)
	require.Len(t, e.Fields, 3)
	assert.Equal(t, "gross", e.Fields[0].Name)
	assert.Equal(t, "note", e.Fields[1].Name)
	assert.Equal(t, "-", e.Fields[1].Value)
	assert.Equal(t, "tokenization", e.Fields[2].Name)
}

func TestNewDiscordRequiresConfig(t *testing.T) {
	_, err := NewDiscord("", "123")
	assert.Error(t, err)
}

type failing struct{ err error }

func (f failing) Alert(ctx context.Context, title string, fields map[string]string) error { return f.err }

func TestFanoutLogsAndJoinsErrors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := NewLog(logrus.NewEntry(logger))

	err := Fanout{sink, failing{errors.New("discord down")}}.Alert(context.Background(), "drift", map[string]string{"distribution": "4"})
	assert.EqualError(t, err, "discord down")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "> ALERT drift", entry.Message)
	assert.Equal(t, "4", entry.Data["distribution"])

	assert.NoError(t, Fanout{sink}.Alert(context.Background(), "ok", nil))
}
