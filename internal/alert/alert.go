// Package alert pages operators about distribution problems that need a human:
// holders missing, payments failing, reconciliation drift.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

const embedColor = 0xE67E22

// Discord posts alerts as embeds to one channel.
type Discord struct {
	session   *discordgo.Session
	channelID string
	now       func() time.Time
}

// NewDiscord opens a bot session for token. The REST API is used directly, so
// no gateway connection is made.
func NewDiscord(token, channelID string) (*Discord, error) {
	if token == "" || channelID == "" {
		return nil, errors.New("discord token and channel are required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Discord{session: s, channelID: channelID, now: time.Now}, nil
}

func (d *Discord) Alert(ctx context.Context, title string, fields map[string]string) error {
	_, err := d.session.ChannelMessageSendEmbed(d.channelID, Embed(title, fields, d.now()), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send discord alert: %w", err)
	}
	return nil
}

// Embed renders an alert with its fields in key order.
func Embed(title string, fields map[string]string, at time.Time) *discordgo.MessageEmbed {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	embed := &discordgo.MessageEmbed{
		Title:     title,
		Color:     embedColor,
		Timestamp: at.UTC().Format(time.RFC3339),
		Fields:    []*discordgo.MessageEmbedField{},
	}
	for _, k := range keys {
		v := fields[k]
		if v == "" {
			v = "-"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: k, Value: v, Inline: len(v) < 40})
	}
	return embed
}

// Log writes alerts to the process log. Used when no channel is configured.
type Log struct {
	log *logrus.Entry
}

func NewLog(l *logrus.Entry) *Log {
	if l == nil {
		l = logrus.WithField("module", "alert")
	}
	return &Log{log: l}
}

func (l *Log) Alert(ctx context.Context, title string, fields map[string]string) error {
	f := logrus.Fields{}
	for k, v := range fields {
		f[k] = v
	}
	l.log.WithFields(f).Warnf("> ALERT %s", title)
	return nil
}

// Alerter is satisfied by every sink in this package.
type Alerter interface {
	Alert(ctx context.Context, title string, fields map[string]string) error
}

// Fanout sends every alert to all sinks and joins their errors.
type Fanout []Alerter

func (f Fanout) Alert(ctx context.Context, title string, fields map[string]string) error {
	var errList []error
	for _, a := range f {
		if err := a.Alert(ctx, title, fields); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
