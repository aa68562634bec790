package gateway

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rahul/sovereign/internal/agent"
	"github.com/rahul/sovereign/internal/display"
	"github.com/rahul/sovereign/internal/plan"
)

// maxMessageLen is Telegram's limit for one text message.
const maxMessageLen = 4096

// TelegramGateway lets one allowed chat drive the agent session. A proposed
// plan waits for a yes/no reply before it runs.
type TelegramGateway struct {
	Bot           *tgbotapi.BotAPI
	Agent         *agent.Agent
	AllowedChatID int64
	Format        *display.Formatter

	// send delivers a reply; it is the bot by default.
	send    func(chatID int64, text string) error
	pending *plan.Plan
	replies []string
}

func NewTelegramGateway(token string, allowedChatID int64, a *agent.Agent) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	tg := newTelegramGateway(a, allowedChatID)
	tg.Bot = bot
	tg.send = func(chatID int64, text string) error {
		_, err := bot.Send(tgbotapi.NewMessage(chatID, text))
		return err
	}
	return tg, nil
}

func newTelegramGateway(a *agent.Agent, allowedChatID int64) *TelegramGateway {
	tg := &TelegramGateway{
		Agent:         a,
		AllowedChatID: allowedChatID,
		Format:        display.Plain(),
	}
	a.Executor.Progress = progressPrinter(tg.Format, func(s string) {
		tg.replies = append(tg.replies, strings.TrimSpace(s))
	})
	return tg
}

func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}

			log.Printf("[%s] %s", update.Message.From.UserName, update.Message.Text)

			chatID := update.Message.Chat.ID
			for _, reply := range tg.HandleText(ctx, chatID, update.Message.Text) {
				if err := tg.send(chatID, reply); err != nil {
					log.Printf("Error sending reply: %v", err)
				}
			}
		}
	}
}

// HandleText processes one incoming message and returns the replies to send.
// Messages from chats other than the allowed one are refused.
func (tg *TelegramGateway) HandleText(ctx context.Context, chatID int64, text string) []string {
	if tg.AllowedChatID != 0 && chatID != tg.AllowedChatID {
		return []string{"This agent is bound to another chat."}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if tg.pending != nil {
		p := tg.pending
		tg.pending = nil
		if !isConfirmation(text) {
			tg.Agent.Decline()
			return []string{"Plan aborted by user."}
		}

		tg.replies = nil
		report, err := tg.Agent.Run(ctx, p)
		out := append(tg.replies, outcome(tg.Format, report, err))
		tg.replies = nil
		return chunk(out)
	}

	if text == "/start" {
		return []string{fmt.Sprintf("Sovereign agent ready. Handlers: %s", strings.Join(tg.Agent.Registry.Names(), ", "))}
	}

	p, err := tg.Agent.Propose(ctx, text)
	if err != nil {
		return []string{agent.NoPlanMessage}
	}
	tg.pending = p
	return []string{tg.Format.PlanSummary(p) + "\n\nProceed? (yes/no)"}
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}
	for _, part := range chunk([]string{text}) {
		if err := tg.send(id, part); err != nil {
			return err
		}
	}
	return nil
}

func (tg *TelegramGateway) Stop() error {
	if tg.Bot != nil {
		tg.Bot.StopReceivingUpdates()
	}
	return nil
}

// chunk joins replies into as few messages as fit Telegram's size limit,
// splitting oversized ones.
func chunk(parts []string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, p := range parts {
		for len(p) > maxMessageLen {
			flush()
			cut := maxMessageLen
			for cut > 0 && !utf8.RuneStart(p[cut]) {
				cut--
			}
			out = append(out, p[:cut])
			p = p[cut:]
		}
		if cur.Len() > 0 && cur.Len()+len(p)+2 > maxMessageLen {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	flush()
	return out
}
