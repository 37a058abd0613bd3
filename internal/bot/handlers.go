// internal/bot/handlers.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Corn-mrb/citadelpay/internal/redpacket"
	"github.com/Corn-mrb/citadelpay/internal/wallet"
	"gopkg.in/tucnak/telebot.v2"
)

func (b *Bot) registerHandlers() {
	b.telegramBot.Handle("/start", b.handleStart)
	b.telegramBot.Handle("/help", b.handleHelp)
	b.telegramBot.Handle("/balance", b.handleBalance)
	b.telegramBot.Handle("/deposit", b.handleDeposit)
	b.telegramBot.Handle("/tip", b.handleTip)
	b.telegramBot.Handle("/withdraw", b.handleWithdraw)
	b.telegramBot.Handle("/redpacket", b.handleRedpacket)
	b.telegramBot.Handle("/fees", b.handleFees)
	b.telegramBot.Handle(&b.claimButton, b.handleClaim)
	b.telegramBot.Handle(telebot.OnText, b.handleText)
}

func userKey(u *telebot.User) string {
	return strconv.FormatInt(int64(u.ID), 10)
}

func (b *Bot) handleStart(m *telebot.Message) {
	b.sendMessage(m.Sender, "Welcome to CitadelPay! Use /help to see the available commands.")
}

func (b *Bot) handleHelp(m *telebot.Message) {
	helpText := `/balance - Show your balance
/deposit <sats> - Get a Lightning invoice to top up
/tip <sats> - Tip the author of the message you reply to
/withdraw <invoice|name@host> [sats] - Cash out over Lightning
/redpacket <sats-per-claim> <count> [memo] - Start a group giveaway
/help - This message

Replying to a message with ⚡ sends a quick tip.`
	b.sendMessage(m.Sender, helpText)
}

func (b *Bot) handleBalance(m *telebot.Message) {
	balance := b.wallet.Balance(userKey(m.Sender))
	b.sendMessage(m.Sender, fmt.Sprintf("Your balance: %d sat", balance))
}

func (b *Bot) handleDeposit(m *telebot.Message) {
	amount, err := strconv.ParseInt(strings.TrimSpace(m.Payload), 10, 64)
	if err != nil || amount <= 0 {
		b.sendMessage(m.Sender, "Usage: /deposit <sats>")
		return
	}

	sender := m.Sender
	inv, err := b.wallet.Deposit(context.Background(), userKey(sender), amount, func(msg string) {
		b.sendMessage(sender, msg)
	})
	if err != nil {
		b.sendMessage(sender, fmt.Sprintf("Could not create a deposit invoice: %v", err))
		return
	}

	b.sendMessage(sender, fmt.Sprintf("Pay this invoice to top up %d sat:\n%s", amount, inv.Bolt11))
}

func (b *Bot) handleTip(m *telebot.Message) {
	if m.ReplyTo == nil || m.ReplyTo.Sender == nil {
		b.sendMessage(m.Sender, "Reply to someone's message with /tip <sats>.")
		return
	}
	amount, err := strconv.ParseInt(strings.TrimSpace(m.Payload), 10, 64)
	if err != nil || amount <= 0 {
		b.sendMessage(m.Sender, "Usage: /tip <sats> (as a reply)")
		return
	}

	if err := b.wallet.Tip(userKey(m.Sender), userKey(m.ReplyTo.Sender), amount); err != nil {
		b.sendMessage(m.Sender, tipErrorText(err))
		return
	}
	b.sendMessage(m.Sender, fmt.Sprintf("Sent %d sat to %s.", amount, displayName(m.ReplyTo.Sender)))
	b.sendMessage(m.ReplyTo.Sender, fmt.Sprintf("You received a %d sat tip from %s!", amount, displayName(m.Sender)))
}

// handleText only watches for the emoji-tip shorthand; everything else
// is ignored.
func (b *Bot) handleText(m *telebot.Message) {
	if strings.TrimSpace(m.Text) != "⚡" || m.ReplyTo == nil || m.ReplyTo.Sender == nil {
		return
	}
	if err := b.wallet.EmojiTip(userKey(m.Sender), userKey(m.ReplyTo.Sender)); err != nil {
		b.sendMessage(m.Sender, tipErrorText(err))
		return
	}
	b.sendMessage(m.ReplyTo.Sender, fmt.Sprintf("⚡ %d sat from %s!", b.config.EmojiTipSat, displayName(m.Sender)))
}

func (b *Bot) handleWithdraw(m *telebot.Message) {
	args := strings.Fields(m.Payload)

	// "/withdraw fees <destination>" cashes out accrued fees and is
	// reserved for the operator.
	ownerCashout := false
	if len(args) > 0 && args[0] == "fees" &&
		b.config.OperatorTelegramID != 0 && int64(m.Sender.ID) == b.config.OperatorTelegramID {
		ownerCashout = true
		args = args[1:]
	}

	if len(args) < 1 || len(args) > 2 {
		b.sendMessage(m.Sender, "Usage: /withdraw <invoice|name@host> [sats]")
		return
	}
	destination := args[0]
	var amount int64
	if len(args) == 2 {
		var err error
		amount, err = strconv.ParseInt(args[1], 10, 64)
		if err != nil || amount <= 0 {
			b.sendMessage(m.Sender, "The amount must be a positive number of sats.")
			return
		}
	}

	var (
		res *wallet.WithdrawResult
		err error
	)
	if ownerCashout {
		res, err = b.wallet.OwnerWithdraw(context.Background(), destination, amount)
	} else {
		res, err = b.wallet.Withdraw(context.Background(), userKey(m.Sender), destination, amount)
	}
	if err != nil {
		b.sendMessage(m.Sender, withdrawErrorText(err))
		return
	}

	switch res.Outcome {
	case wallet.OutcomeSuccess:
		b.sendMessage(m.Sender, fmt.Sprintf("Sent %d sat (fee %d). New balance: %d sat.", res.Amount, res.Fee, res.Balance))
	case wallet.OutcomeRefunded:
		b.sendMessage(m.Sender, fmt.Sprintf("The payment failed and nothing left the wallet. Your %d sat were returned. (%v)", res.Amount+res.Fee, res.PayErr))
	case wallet.OutcomeVerifiedSuccess:
		b.sendMessage(m.Sender, "The payment reported an error but was verified as delivered. Your balance was charged.")
	case wallet.OutcomeVerifiedPending:
		b.sendMessage(m.Sender, "The payment reported an error but is still in flight and will likely settle. Your balance was charged.")
	case wallet.OutcomeUnverified:
		b.sendMessage(m.Sender, "The payment outcome could not be verified. Your funds are held for operator review.")
	}
}

func (b *Bot) handleFees(m *telebot.Message) {
	if b.config.OperatorTelegramID == 0 || int64(m.Sender.ID) != b.config.OperatorTelegramID {
		return
	}
	b.sendMessage(m.Sender, fmt.Sprintf("Accrued fees: %d sat. Cash out with /withdraw fees <destination>.", b.wallet.OperatorBalance()))
}

func (b *Bot) handleRedpacket(m *telebot.Message) {
	args := strings.Fields(m.Payload)
	if len(args) < 2 {
		b.sendMessage(m.Sender, "Usage: /redpacket <sats-per-claim> <count> [memo]")
		return
	}
	perAmount, err1 := strconv.ParseInt(args[0], 10, 64)
	count, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		b.sendMessage(m.Sender, "Usage: /redpacket <sats-per-claim> <count> [memo]")
		return
	}
	memo := strings.Join(args[2:], " ")

	text := fmt.Sprintf("🧧 %s started a redpacket: %d × %d sat, first come first served!", displayName(m.Sender), count, perAmount)
	if memo != "" {
		text += "\n" + memo
	}
	keyboard := [][]telebot.InlineButton{{b.claimButton}}
	announcement, err := b.telegramBot.Send(m.Chat, text, &telebot.ReplyMarkup{InlineKeyboard: keyboard})
	if err != nil {
		b.sendMessage(m.Sender, "Could not announce the redpacket.")
		return
	}

	messageID := strconv.Itoa(announcement.ID)
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	_, err = b.packets.Create(messageID, chatID, userKey(m.Sender), perAmount, count, memo)
	if err != nil {
		// The announcement is up but the packet was never funded.
		b.telegramBot.Edit(announcement, "🧧 Redpacket cancelled: "+redpacketErrorText(err))
		return
	}
}

func (b *Bot) handleClaim(c *telebot.Callback) {
	if c.Message == nil {
		return
	}
	messageID := strconv.Itoa(c.Message.ID)

	p, last, err := b.packets.Claim(messageID, userKey(c.Sender))
	if err != nil {
		b.telegramBot.Respond(c, &telebot.CallbackResponse{Text: redpacketErrorText(err)})
		return
	}

	b.telegramBot.Respond(c, &telebot.CallbackResponse{
		Text: fmt.Sprintf("You claimed %d sat!", p.PerAmount),
	})
	if last {
		// UI-only: the refund path stays with the expiry timer.
		b.telegramBot.Edit(c.Message, fmt.Sprintf("🧧 Redpacket fully claimed! %d × %d sat are gone.", p.Count, p.PerAmount))
	}
}

func displayName(u *telebot.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func tipErrorText(err error) string {
	switch {
	case errors.Is(err, wallet.ErrSelfTip):
		return "You cannot tip yourself."
	case errors.Is(err, wallet.ErrBadAmount):
		return "The amount must be positive."
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return "Your balance does not cover that tip."
	default:
		return fmt.Sprintf("Tip failed: %v", err)
	}
}

func withdrawErrorText(err error) string {
	switch {
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return "Your balance does not cover the amount plus the fee."
	case errors.Is(err, wallet.ErrOverWithdrawLimit):
		return "That amount exceeds the withdrawal limit."
	case errors.Is(err, wallet.ErrAmountRequired):
		return "That destination does not carry an amount. Add one: /withdraw <destination> <sats>."
	case errors.Is(err, wallet.ErrBadAmount):
		return "The amount must be positive."
	default:
		return fmt.Sprintf("Withdrawal rejected: %v", err)
	}
}

func redpacketErrorText(err error) string {
	switch {
	case errors.Is(err, redpacket.ErrNotFound):
		return "This redpacket no longer exists."
	case errors.Is(err, redpacket.ErrAlreadyExpired):
		return "This redpacket has expired."
	case errors.Is(err, redpacket.ErrSelfClaim):
		return "You cannot claim your own redpacket."
	case errors.Is(err, redpacket.ErrAlreadyClaimed):
		return "You already claimed this one."
	case errors.Is(err, redpacket.ErrSoldOut):
		return "All slots are taken."
	case errors.Is(err, redpacket.ErrInsufficientBalance):
		return "Your balance does not cover the escrow."
	default:
		return fmt.Sprintf("Redpacket error: %v", err)
	}
}
