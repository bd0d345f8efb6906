package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"premium-reconciler/internal/config"
	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/adapter"
	"premium-reconciler/internal/infra/i18n"
	"premium-reconciler/internal/infra/logging"
	"premium-reconciler/internal/infra/worker"
)

var (
	_ adapter.OperatorNotifier = (*OperatorNotifier)(nil)
	_ adapter.OperatorNotifier = NoopNotifier{}
)

// sender is the part of *tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// OperatorNotifier posts unresolved payments to the operators' Telegram chats.
// Delivery happens on the worker pool so callers never wait on Telegram.
type OperatorNotifier struct {
	bot     sender
	chatIDs []int64
	pool    *worker.Pool
	tr      *i18n.Translator
	log     *zerolog.Logger
	dev     bool
}

func NewOperatorNotifier(cfg *config.TelegramConfig, pool *worker.Pool, logger *zerolog.Logger, dev bool) (*OperatorNotifier, error) {
	if cfg == nil || cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	if len(cfg.OperatorChatIDs) == 0 {
		return nil, errors.New("at least one operator chat id is required")
	}
	tr, err := i18n.NewTranslator(i18n.LocalesFS, cfg.Language)
	if err != nil {
		return nil, err
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	n := newOperatorNotifier(bot, cfg.OperatorChatIDs, pool, logger, dev)
	n.tr = tr
	return n, nil
}

func newOperatorNotifier(bot sender, chatIDs []int64, pool *worker.Pool, logger *zerolog.Logger, dev bool) *OperatorNotifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &OperatorNotifier{bot: bot, chatIDs: chatIDs, pool: pool, tr: i18n.MustDefault(), log: logger, dev: dev}
}

func (n *OperatorNotifier) NotifyUnresolved(ctx context.Context, p *model.Payment) error {
	text := n.format(p)
	return n.pool.Submit(func(ctx context.Context) error {
		var errs []error
		for _, chatID := range n.chatIDs {
			if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
				errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
			}
		}
		if err := errors.Join(errs...); err != nil {
			n.log.Warn().Err(err).Str("payment_id", p.GatewayPaymentID).Msg("operator alert failed")
			return err
		}
		return nil
	})
}

func (n *OperatorNotifier) format(p *model.Payment) string {
	lines := []string{
		n.tr.T("alert.unresolved.title", p.GatewayPaymentID),
		n.tr.T("alert.status", p.Status),
		n.tr.T("alert.amount", formatMinor(p.Amount), p.Currency),
	}
	if p.Method != "" {
		lines = append(lines, n.tr.T("alert.method", p.Method))
	}
	if p.Email != "" {
		lines = append(lines, n.tr.T("alert.email", logging.Redact(p.Email, n.dev)))
	}
	if p.Contact != "" {
		lines = append(lines, n.tr.T("alert.contact", logging.Redact(p.Contact, n.dev)))
	}
	if p.Notes.UserID != "" {
		lines = append(lines, n.tr.T("alert.noted_user", p.Notes.UserID))
	}
	if p.GatewaySubscriptionID != nil {
		lines = append(lines, n.tr.T("alert.subscription", *p.GatewaySubscriptionID))
	}
	lines = append(lines, n.tr.T("alert.resolve_hint", p.GatewayPaymentID))
	return strings.Join(lines, "\n")
}

func formatMinor(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}

// NoopNotifier is used when no Telegram token is configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyUnresolved(ctx context.Context, p *model.Payment) error { return nil }
