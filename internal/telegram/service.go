package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/velvetapps/StarMarket/internal/config"
	"github.com/velvetapps/StarMarket/internal/service"
)

const referralPrefix = "ref_"

// Service handles Bot API traffic for the mini app: /start deep links with
// referral payloads, star top-up invoices, pre-checkout validation and
// successful-payment crediting. Updates arrive through the HTTP webhook.
type Service struct {
	cfg   config.Config
	api   *tgbotapi.BotAPI
	log   *slog.Logger
	users *service.UserService
}

func NewService(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, users *service.UserService) *Service {
	return &Service{cfg: cfg, api: api, log: log, users: users}
}

// HandleUpdate dispatches a single webhook update.
func (s *Service) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.PreCheckoutQuery != nil:
		if err := s.handlePreCheckout(update.PreCheckoutQuery); err != nil {
			s.log.Error("pre-checkout failed", "err", err)
		}
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		s.handleSuccessfulPayment(ctx, update.Message)
	case update.Message != nil && update.Message.IsCommand():
		s.handleCommand(ctx, update.Message)
	}
}

func (s *Service) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		s.handleStart(ctx, msg)
	default:
		s.sendText(msg.Chat.ID, "Откройте мини-приложение, чтобы торговать NFT.")
	}
}

func (s *Service) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	var referrerID *int64
	if arg := strings.TrimSpace(msg.CommandArguments()); strings.HasPrefix(arg, referralPrefix) {
		if id, err := strconv.ParseInt(strings.TrimPrefix(arg, referralPrefix), 10, 64); err == nil && id > 0 {
			referrerID = &id
		}
	}

	username, firstName := "", ""
	userID := msg.Chat.ID
	if msg.From != nil {
		username = msg.From.UserName
		firstName = msg.From.FirstName
		userID = msg.From.ID
	}

	user, created, err := s.users.Ensure(ctx, userID, username, firstName, referrerID)
	if err != nil {
		s.log.Error("ensure user", "err", err)
		s.sendText(msg.Chat.ID, "Не удалось создать профиль, попробуйте позже.")
		return
	}

	greeting := fmt.Sprintf("С возвращением, %s! Откройте мини-приложение, чтобы продолжить.", user.FirstName)
	if created {
		greeting = fmt.Sprintf("Привет, %s!\n\nЗдесь можно собирать, улучшать и продавать NFT за звёзды. Откройте мини-приложение, чтобы начать.", user.FirstName)
	}
	s.sendText(msg.Chat.ID, greeting)
}

type invoicePayload struct {
	Stars int `json:"stars"`
}

// SendStarsInvoice sends a star top-up invoice to the user's chat. Telegram
// Stars invoices use the XTR currency and an empty provider token; the price
// amount is the star count itself.
func (s *Service) SendStarsInvoice(chatID int64, stars int) error {
	if stars < s.cfg.MinTopUpStars {
		return fmt.Errorf("minimum top-up is %d stars", s.cfg.MinTopUpStars)
	}

	payload, _ := json.Marshal(invoicePayload{Stars: stars})
	prices := []tgbotapi.LabeledPrice{
		{Label: fmt.Sprintf("%d звёзд", stars), Amount: stars},
	}

	invoice := tgbotapi.NewInvoice(chatID,
		"Пополнение баланса",
		fmt.Sprintf("Зачисление %d звёзд на баланс маркетплейса", stars),
		string(payload),
		"", // Stars payments take no provider token
		"stars-topup",
		s.cfg.PaymentCurrency,
		prices,
	)

	if _, err := s.api.Send(invoice); err != nil {
		return fmt.Errorf("send invoice: %w", err)
	}
	return nil
}

func (s *Service) handlePreCheckout(query *tgbotapi.PreCheckoutQuery) error {
	response := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: query.ID,
		OK:                 true,
	}

	var payload invoicePayload
	if err := json.Unmarshal([]byte(query.InvoicePayload), &payload); err != nil || payload.Stars < s.cfg.MinTopUpStars || payload.Stars != query.TotalAmount {
		response.OK = false
		response.ErrorMessage = "Счёт устарел, запросите новый."
	}

	if _, err := s.api.Request(response); err != nil {
		return fmt.Errorf("answer pre-checkout: %w", err)
	}
	return nil
}

func (s *Service) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.Chat.ID
	username, firstName := "", ""
	if msg.From != nil {
		userID = msg.From.ID
		username = msg.From.UserName
		firstName = msg.From.FirstName
	}

	user, _, err := s.users.Ensure(ctx, userID, username, firstName, nil)
	if err != nil {
		s.log.Error("ensure user on payment", "err", err)
		return
	}

	payment := msg.SuccessfulPayment
	if err := s.users.Deposit(ctx, user.ID, payment.TotalAmount); err != nil {
		s.log.Error("credit deposit", "err", err, "charge", payment.TelegramPaymentChargeID)
		return
	}

	s.log.Info("deposit credited", "user", user.ID, "stars", payment.TotalAmount)
	s.sendText(msg.Chat.ID, fmt.Sprintf("Оплата получена! +%d звёзд на балансе.", payment.TotalAmount))
}

// Broadcast sends a plain message to every known user (admin surface).
func (s *Service) Broadcast(ctx context.Context, text string) (int, int, error) {
	ids, err := s.users.ListIDs(ctx)
	if err != nil {
		return 0, 0, err
	}
	sent := 0
	for _, id := range ids {
		msg := tgbotapi.NewMessage(id, text)
		if _, err := s.api.Send(msg); err != nil {
			s.log.Error("send broadcast", "user", id, "err", err)
			continue
		}
		sent++
	}
	return sent, len(ids), nil
}

func (s *Service) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := s.api.Send(msg); err != nil {
		s.log.Error("send text", "err", err)
	}
}
