// internal/bot/bot.go
package bot

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Corn-mrb/citadelpay/internal/config"
	"github.com/Corn-mrb/citadelpay/internal/logging"
	"github.com/Corn-mrb/citadelpay/internal/redpacket"
	"github.com/Corn-mrb/citadelpay/internal/wallet"
	"go.uber.org/zap"
	"gopkg.in/tucnak/telebot.v2"
)

type Bot struct {
	telegramBot *telebot.Bot
	config      *config.Config
	wallet      *wallet.Service
	packets     *redpacket.Engine
	claimButton telebot.InlineButton
	stopChan    chan struct{} // Channel to stop the bot
}

func NewBot(cfg *config.Config, svc *wallet.Service, packets *redpacket.Engine) (*Bot, error) {
	b, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}

	bot := &Bot{
		telegramBot: b,
		config:      cfg,
		wallet:      svc,
		packets:     packets,
		claimButton: telebot.InlineButton{Unique: "rp_claim", Text: "🧧 Claim"},
		stopChan:    make(chan struct{}),
	}

	// Expiry notifications are fire-and-forget: the refund already
	// happened by the time this runs.
	packets.OnExpired = bot.announceExpiry

	return bot, nil
}

// Start starts the bot and registers handlers
func (b *Bot) Start() {
	b.registerHandlers()
	logging.Info("The bot has been launched")

	go b.telegramBot.Start()

	// Wait for a signal to stop the bot
	<-b.stopChan
	b.telegramBot.Stop() // Stop the bot
	logging.Info("The bot has been stopped")
}

// Stop signals the end of the bot's work
func (b *Bot) Stop() {
	close(b.stopChan) // Close the channel to complete the work
}

// sendMessage sends a message to the user and logs an error if one occurs
func (b *Bot) sendMessage(m *telebot.User, message string) {
	_, err := b.telegramBot.Send(m, message)
	if err != nil {
		logging.Error("Error sending message",
			zap.String("message", message),
			zap.Error(err),
		)
	}
}

// announceExpiry edits the packet's announcement and tells the creator
// about the refund. Failures are logged, never retried.
func (b *Bot) announceExpiry(p *redpacket.Packet, refund int64) {
	text := fmt.Sprintf("🧧 Redpacket closed. %d of %d claimed.", len(p.Claimers), p.Count)
	if refund > 0 {
		text += fmt.Sprintf(" %d sat returned to the sender.", refund)
	}

	msg := storedMessage{messageID: p.MessageID, chatID: p.ChannelID}
	if _, err := b.telegramBot.Edit(msg, text); err != nil {
		logging.Warn("failed to edit expired redpacket message",
			zap.String("packet", p.MessageID), zap.Error(err))
	}
}

// storedMessage lets us edit a message knowing only its persisted IDs.
type storedMessage struct {
	messageID string
	chatID    string
}

func (s storedMessage) MessageSig() (string, int64) {
	chatID, err := strconv.ParseInt(s.chatID, 10, 64)
	if err != nil {
		logging.Warn("bad stored chat ID", zap.String("chat", s.chatID))
	}
	return s.messageID, chatID
}
