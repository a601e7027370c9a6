package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"liqzones/internal/adapters/config"
	"liqzones/internal/domain/zone"
	"liqzones/pkg/errors"
	"liqzones/pkg/logger"
)

// DefaultCooldown suppresses repeated alerts for the same zone
const DefaultCooldown = 30 * time.Minute

// Sender is the part of tgbotapi.BotAPI the notifier uses
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends strong zone alerts to a single Telegram chat
type Notifier struct {
	api         Sender
	chatID      int64
	rateLimiter *rate.Limiter
	cooldown    time.Duration
	clock       func() time.Time
	log         *logger.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time // coin/zone id -> last alert
}

// NewNotifier authorizes the bot and creates a notifier for the configured chat
func NewNotifier(cfg config.TelegramConfig, log *logger.Logger) (*Notifier, error) {
	if cfg.BotToken == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "telegram bot token is required")
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telegram bot")
	}
	log.Infow("Authorized on telegram account", "username", api.Self.UserName)

	if cfg.RateLimitRate <= 0 {
		cfg.RateLimitRate = 1
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}

	return NewNotifierWithSender(api, cfg.ChatID, rate.NewLimiter(rate.Limit(cfg.RateLimitRate), cfg.RateLimitBurst), log), nil
}

// NewNotifierWithSender creates a notifier over an existing sender
func NewNotifierWithSender(api Sender, chatID int64, limiter *rate.Limiter, log *logger.Logger) *Notifier {
	return &Notifier{
		api:         api,
		chatID:      chatID,
		rateLimiter: limiter,
		cooldown:    DefaultCooldown,
		clock:       time.Now,
		log:         log.With("component", "telegram_notifier"),
		lastSent:    make(map[string]time.Time),
	}
}

// SetCooldown changes the per-zone alert cooldown
func (n *Notifier) SetCooldown(d time.Duration) {
	n.mu.Lock()
	n.cooldown = d
	n.mu.Unlock()
}

// NotifyZone alerts about a lifecycle transition of a strong zone.
// It returns false when the alert was suppressed by the cooldown.
func (n *Notifier) NotifyZone(ctx context.Context, ev zone.LifecycleEvent) (bool, error) {
	key := ev.Coin + "/" + ev.ZoneID
	now := n.clock()

	n.mu.Lock()
	// broken alerts always go out, the zone is gone afterwards
	if last, ok := n.lastSent[key]; ok && ev.Kind != zone.EventBroken && now.Sub(last) < n.cooldown {
		n.mu.Unlock()
		return false, nil
	}
	n.lastSent[key] = now
	if ev.Kind == zone.EventBroken {
		delete(n.lastSent, key)
	}
	n.mu.Unlock()

	if err := n.send(ctx, FormatZoneAlert(ev, now)); err != nil {
		n.mu.Lock()
		delete(n.lastSent, key)
		n.mu.Unlock()
		return false, err
	}
	return true, nil
}

func (n *Notifier) send(ctx context.Context, text string) error {
	if err := n.rateLimiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter wait failed")
	}

	start := time.Now()
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.api.Send(msg); err != nil {
		n.log.Errorw("Failed to send message",
			"chat_id", n.chatID,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return errors.Wrap(err, "failed to send message")
	}

	n.log.Debugw("Message sent successfully",
		"chat_id", n.chatID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// FormatZoneAlert renders the Markdown alert text
func FormatZoneAlert(ev zone.LifecycleEvent, now time.Time) string {
	z := ev.Zone

	var title string
	switch ev.Kind {
	case zone.EventFormed:
		title = "New strong liquidation zone"
	case zone.EventUpdated:
		title = "Strong liquidation zone updated"
	case zone.EventBroken:
		title = "Liquidation zone broken"
	default:
		title = "Liquidation zone"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%s* %s\n", title, strings.ToUpper(z.Coin))
	fmt.Fprintf(&b, "Price: `%s` (band `%s` - `%s`)\n", price(z.PriceMean), price(z.EntryLow), price(z.EntryHigh))
	fmt.Fprintf(&b, "Side: %s | Quality: %.0f (%s)\n", z.DominantSide, z.QualityScore, z.QualityLabel)
	fmt.Fprintf(&b, "Volume: $%s across %d events\n", humanize.SIWithDigits(z.TotalUSD, 2, ""), z.Count)
	if !z.LastTs.IsZero() {
		fmt.Fprintf(&b, "Last activity: %s\n", humanize.RelTime(z.LastTs, now, "ago", "from now"))
	}
	if z.Timeframe != "" {
		fmt.Fprintf(&b, "Timeframe: %s | Alignment: %.0f%%\n", z.Timeframe, z.AlignmentScore*100)
	}
	if z.ConfirmedCount > 0 {
		fmt.Fprintf(&b, "Confirmed liquidations: %d ($%s)\n", z.ConfirmedCount, humanize.SIWithDigits(z.ConfirmedUSD, 2, ""))
	}
	if p := z.Prediction; p != nil {
		fmt.Fprintf(&b, "Model: %s (hold %.0f%%, confidence %.0f%%)\n", p.Outcome, p.HoldProbability*100, p.Confidence*100)
	}
	return strings.TrimRight(b.String(), "\n")
}

func price(v float64) string {
	return humanize.CommafWithDigits(v, 2)
}
