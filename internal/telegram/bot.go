package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/p2pdesk/sellbot/internal/position"
)

const (
	callbackConfirmUpdate = "UPDATE_COIN_BALANCE_IS_CORRECT"
	callbackCancelUpdate  = "RESET_ALL_COIN_BALANCE_DATA"
)

// sender is the part of the Telegram API the bot needs to talk back.
// *tgbotapi.BotAPI satisfies it.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BotConfig configures the chat gateway.
type BotConfig struct {
	Token      string
	WebhookURL string
	Debug      bool
	Assets     []string
	Fiat       string
}

// Bot is the chat gateway: it receives webhook updates, runs the command
// set and the balance-update conversation, and sends alert notifications on
// behalf of the dispatcher.
type Bot struct {
	api    *tgbotapi.BotAPI
	tg     sender
	store  *position.Store
	logger *slog.Logger
	cfg    BotConfig
	flows  *flowStore
}

// NewBot authenticates against the Telegram API and registers the webhook.
func NewBot(cfg BotConfig, store *position.Store, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	api.Debug = cfg.Debug

	wh, err := tgbotapi.NewWebhook(strings.TrimRight(cfg.WebhookURL, "/") + "/" + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("build webhook config: %w", err)
	}
	if _, err := api.Request(wh); err != nil {
		return nil, fmt.Errorf("register webhook: %w", err)
	}

	return &Bot{
		api:    api,
		tg:     api,
		store:  store,
		logger: logger,
		cfg:    cfg,
		flows:  newFlowStore(),
	}, nil
}

// WebhookPath is the route updates arrive on; the token in the path is the
// shared secret Telegram echoes back.
func (b *Bot) WebhookPath() string { return "/" + b.cfg.Token }

// WebhookHandler decodes an incoming update and processes it.
func (b *Bot) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		update, err := b.api.HandleUpdate(r)
		if err != nil {
			b.logger.Error("decode telegram update", "error", err)
			http.Error(w, `{"error":"bad update"}`, http.StatusBadRequest)
			return
		}
		b.handleUpdate(r.Context(), *update)
		w.WriteHeader(http.StatusOK)
	}
}

// SendMessage delivers a message to a chat. It is the Sender the alert
// dispatcher uses.
func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.tg.Send(msg); err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.Message == nil {
			return
		}
		b.handleCallback(ctx, cb.Message.Chat.ID, cb.Data)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	chatID := msg.Chat.ID
	username := msg.From.UserName

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			b.handleStart(ctx, chatID, username)
		case "help":
			b.reply(chatID, helpMessage())
		case "status":
			b.handleStatus(ctx, chatID, username)
		case "update":
			b.handleBeginUpdate(chatID, username)
		case "cancel":
			b.handleCancel(chatID)
		default:
			b.reply(chatID, "Unknown command. Send /help for available commands.")
		}
		return
	}

	// Plain text only matters inside an active conversation.
	if _, ok := b.flows.get(chatID); ok {
		b.handleFlowInput(ctx, chatID, strings.TrimSpace(msg.Text))
	}
}

func helpMessage() string {
	return "I can help you manage your P2P trading account\n\n" +
		"You can control me by sending these commands:\n\n" +
		"/status - show percentage of gain/loss\n" +
		"/update - edit quantity and buy price\n" +
		"/cancel - abort the current operation"
}

func (b *Bot) handleStart(ctx context.Context, chatID int64, username string) {
	if username == "" {
		b.reply(chatID, "You need a Telegram username to use this bot.")
		return
	}
	if err := b.store.BindChat(ctx, username, chatID); err != nil {
		b.logger.Error("bind chat failed", "user", username, "error", err)
		b.reply(chatID, "Something went wrong, please try /start again.")
		return
	}
	b.reply(chatID, helpMessage())
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64, username string) {
	text, err := b.statusMessage(ctx, username)
	if err != nil {
		b.logger.Error("build status failed", "user", username, "error", err)
		b.reply(chatID, "Could not read your positions, please try again.")
		return
	}
	b.reply(chatID, text)
}

// statusMessage renders the user's networth overview. Absent values take
// their presentation sentinels here ("N/A", "+0.0%"), nowhere else.
func (b *Bot) statusMessage(ctx context.Context, username string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s networth\n", username)

	var total float64
	for _, asset := range b.cfg.Assets {
		pos, err := b.store.Position(ctx, username, asset)
		if err != nil {
			return "", err
		}

		thresholdStr := "+0.0%"
		if pos.HasThreshold {
			thresholdStr = pos.Threshold
			total += fiatComponent(pos.Threshold)
		}
		label := "Gains"
		if strings.HasPrefix(thresholdStr, "-") {
			label = "Losses"
		}

		buyPriceStr := "N/A"
		if pos.HasBuyPrice {
			buyPriceStr = strconv.FormatFloat(pos.BuyPrice, 'f', -1, 64)
		}

		price, ok, err := b.store.MarketPrice(ctx, asset)
		if err != nil {
			return "", err
		}
		marketStr := "N/A"
		if ok {
			marketStr = fmt.Sprintf("%.2f", price)
		}

		fmt.Fprintf(&sb, "\n%s Balance: <b>%v</b>\n%s: <b>%s</b>\nBuy Price: <b>%s</b>\nMarket Price: <b>%s</b>\n",
			asset, pos.Balance, label, thresholdStr, buyPriceStr, marketStr)
	}

	verdict, sign := "winning", "+"
	if total < 0 {
		verdict, sign = "losing", ""
	}
	fmt.Fprintf(&sb, "\nYOU'RE <b>%s</b> %s%.2f %s", verdict, sign, total, b.cfg.Fiat)
	return sb.String(), nil
}

// fiatComponent pulls the signed fiat total out of a stored threshold
// string like "+40.00 MXN +20.00%". Unparseable strings count as zero.
func fiatComponent(summary string) float64 {
	amount, _, found := strings.Cut(summary, " ")
	if !found {
		return 0
	}
	v, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return 0
	}
	return v
}

func (b *Bot) handleBeginUpdate(chatID int64, username string) {
	if username == "" {
		b.reply(chatID, "You need a Telegram username to use this bot.")
		return
	}
	b.flows.begin(chatID, username)
	b.reply(chatID, "I'm the balance update assistant. You can abort at any point with /cancel")
	b.reply(chatID, "(Step 1 of 3) Which <b>coin</b>? Supported: "+strings.Join(b.cfg.Assets, ", "))
}

func (b *Bot) handleCancel(chatID int64) {
	b.flows.clear(chatID)
	b.reply(chatID, "Operation canceled")
}

func (b *Bot) handleFlowInput(ctx context.Context, chatID int64, text string) {
	flow, ok := b.flows.get(chatID)
	if !ok {
		return
	}

	switch flow.state {
	case awaitingAsset:
		asset := strings.ToUpper(text)
		if !b.supported(asset) {
			b.reply(chatID, "not a valid coin code")
			return
		}
		pos, err := b.store.Position(ctx, flow.username, asset)
		if err != nil {
			b.logger.Error("read position failed", "user", flow.username, "error", err)
			b.reply(chatID, "Could not read your position, try again or /cancel.")
			return
		}
		flow.asset = asset
		flow.oldBalance = pos.Balance
		flow.oldBuyPrice = pos.BuyPrice
		flow.hasOldBuyPrice = pos.HasBuyPrice
		flow.state = awaitingBalance

		buyPriceStr := "N/A"
		if pos.HasBuyPrice {
			buyPriceStr = strconv.FormatFloat(pos.BuyPrice, 'f', -1, 64)
		}
		b.reply(chatID, fmt.Sprintf("<i><b>%s</b></i> current balance is %v with buy price at %s",
			asset, pos.Balance, buyPriceStr))
		b.reply(chatID, fmt.Sprintf("(Step 2 of 3) What is the new <i><b>%s</b></i> balance?", asset))

	case awaitingBalance:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil || v < 0 {
			b.reply(chatID, "answer should be a number")
			return
		}
		flow.newBalance = v
		flow.state = awaitingBuyPrice
		b.reply(chatID, fmt.Sprintf("(Final step) What price did you buy <i><b>%s</b></i> at?", flow.asset))

	case awaitingBuyPrice:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil || v <= 0 {
			b.reply(chatID, "answer should be a number")
			return
		}
		flow.buyPrice = v
		flow.state = confirming
		b.sendConfirm(chatID, flow)
	}
}

func (b *Bot) sendConfirm(chatID int64, flow *updateFlow) {
	overview := fmt.Sprintf("Overview\n\nCoin: <b>%s</b>\nOld balance: <b>%v</b>\nNew balance: <b>%v</b>\nBuy price: <b>%v</b>",
		flow.asset, flow.oldBalance, flow.newBalance, flow.buyPrice)
	b.reply(chatID, overview)

	msg := tgbotapi.NewMessage(chatID, "Is this correct?")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ YES!", callbackConfirmUpdate),
			tgbotapi.NewInlineKeyboardButtonData("❌ no", callbackCancelUpdate),
		),
	)
	if _, err := b.tg.Send(msg); err != nil {
		b.logger.Error("send confirm keyboard", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, chatID int64, data string) {
	flow, ok := b.flows.get(chatID)
	if !ok || flow.state != confirming {
		b.flows.clear(chatID)
		b.reply(chatID, "Operation canceled")
		return
	}

	switch data {
	case callbackConfirmUpdate:
		err := b.store.UpdatePosition(ctx, flow.username, flow.asset, flow.newBalance, flow.buyPrice)
		if err != nil {
			b.logger.Error("update position failed",
				"user", flow.username, "asset", flow.asset, "error", err)
			b.reply(chatID, "Saving failed, please run /update again.")
			b.flows.clear(chatID)
			return
		}
		b.logger.Info("position updated",
			"user", flow.username, "asset", flow.asset,
			"old_balance", flow.oldBalance, "new_balance", flow.newBalance,
			"buy_price", flow.buyPrice)
		b.reply(chatID, "DONE!")
		b.flows.clear(chatID)

	case callbackCancelUpdate:
		b.flows.clear(chatID)
		b.reply(chatID, "Operation canceled")
	}
}

func (b *Bot) supported(asset string) bool {
	for _, a := range b.cfg.Assets {
		if a == asset {
			return true
		}
	}
	return false
}

func (b *Bot) reply(chatID int64, text string) {
	if err := b.SendMessage(chatID, text); err != nil {
		b.logger.Error("send reply", "chat_id", chatID, "error", err)
	}
}
