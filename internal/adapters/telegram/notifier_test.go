package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"liqzones/internal/domain/zone"
	"liqzones/internal/testsupport"
	"liqzones/pkg/logger"
)

type fakeSender struct {
	messages []tgbotapi.MessageConfig
	err      error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.messages = append(f.messages, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func newTestNotifier(sender Sender, now *time.Time) *Notifier {
	zapLog, _ := zap.NewDevelopment()
	n := NewNotifierWithSender(sender, 42, rate.NewLimiter(rate.Inf, 1), &logger.Logger{SugaredLogger: zapLog.Sugar()})
	n.clock = func() time.Time { return *now }
	return n
}

func strongEvent(kind zone.LifecycleEventKind, at time.Time) zone.LifecycleEvent {
	z := testsupport.NewZoneFixture().WithQuality(82, zone.QualityStrong).WithPrediction(0.7).Build()
	z.TotalUSD = 2_450_000
	z.LastTs = at.Add(-5 * time.Minute)
	return zone.LifecycleEvent{Kind: kind, Coin: z.Coin, ZoneID: z.ID(), Zone: z, At: at}
}

func TestFormatZoneAlert(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	text := FormatZoneAlert(strongEvent(zone.EventFormed, now), now)

	assert.Contains(t, text, "*New strong liquidation zone* BTC")
	assert.Contains(t, text, "`50,000`")
	assert.Contains(t, text, "$2.45 M")
	assert.Contains(t, text, "5 minutes ago")
	assert.Contains(t, text, "Model: HOLD (hold 70%")
	assert.Contains(t, text, "Quality: 82 (strong)")

	broken := FormatZoneAlert(strongEvent(zone.EventBroken, now), now)
	assert.Contains(t, broken, "Liquidation zone broken")
}

func TestNotifier_Cooldown(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sender := &fakeSender{}
	n := newTestNotifier(sender, &now)
	ctx := context.Background()

	sent, err := n.NotifyZone(ctx, strongEvent(zone.EventFormed, now))
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = n.NotifyZone(ctx, strongEvent(zone.EventUpdated, now))
	require.NoError(t, err)
	assert.False(t, sent, "update inside cooldown is suppressed")

	sent, err = n.NotifyZone(ctx, strongEvent(zone.EventBroken, now))
	require.NoError(t, err)
	assert.True(t, sent, "broken bypasses cooldown")

	now = now.Add(time.Minute)
	sent, err = n.NotifyZone(ctx, strongEvent(zone.EventFormed, now))
	require.NoError(t, err)
	assert.True(t, sent, "broken clears the cooldown")

	require.Len(t, sender.messages, 3)
	assert.Equal(t, int64(42), sender.messages[0].ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdown, sender.messages[0].ParseMode)
}

func TestNotifier_SendFailureReleasesCooldown(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sender := &fakeSender{err: errors.New("telegram down")}
	n := newTestNotifier(sender, &now)

	_, err := n.NotifyZone(context.Background(), strongEvent(zone.EventFormed, now))
	require.Error(t, err)

	sender.err = nil
	sent, err := n.NotifyZone(context.Background(), strongEvent(zone.EventFormed, now))
	require.NoError(t, err)
	assert.True(t, sent)
}
