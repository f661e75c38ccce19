package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/image-poet/internal/poet"
	"github.com/raine/image-poet/internal/storage"
)

// Set at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// historyLimit is how many poems /history shows.
const historyLimit = 5

// BotAPI defines the interface for Telegram bot API operations.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Bot is the main Telegram bot handler.
type Bot struct {
	tg         BotAPI
	state      BotState
	store      storage.Store
	analyzer   *poet.Analyzer
	composer   *poet.Composer
	downloader *ImageDownloader
	adminID    int64
}

// NewBot creates a new Bot instance.
func NewBot(tg BotAPI, store storage.Store, analyzer *poet.Analyzer, composer *poet.Composer, adminID int64) *Bot {
	bot := &Bot{
		tg:         tg,
		store:      store,
		analyzer:   analyzer,
		composer:   composer,
		downloader: NewImageDownloader(),
		adminID:    adminID,
	}
	bot.state = bot.NewBotState()
	return bot
}

// Shutdown stops all session workers.
func (b *Bot) Shutdown() {
	b.state.Shutdown()
}

// HandleUpdate is the main message router.
// It dispatches messages to the appropriate session worker for sequential processing.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, false)
}

// handleUpdateSync is like HandleUpdate but waits for message processing to complete.
func (b *Bot) handleUpdateSync(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, true)
}

// dispatchUpdate routes updates to the appropriate session worker.
// If sync is true, it waits for message processing to complete.
func (b *Bot) dispatchUpdate(ctx context.Context, update tgbotapi.Update, sync bool) {
	var userId int64

	if update.CallbackQuery != nil {
		userId = update.CallbackQuery.From.ID
	} else if update.Message != nil && update.Message.From != nil {
		userId = update.Message.From.ID
	} else {
		return
	}

	// Check if user is allowed (admin always allowed). This comes before
	// getUserSession so unknown ids never allocate a session.
	if userId != b.adminID {
		allowed, err := b.store.IsUserAllowed(userId)
		if err != nil {
			log.Error().Err(err).Int64("userId", userId).Msg("whitelist check failed")
			return // Fail closed
		}
		if !allowed {
			return // Silent drop
		}
	}

	session, err := b.state.getUserSession(userId)
	if err != nil {
		log.Error().Err(err).Send()
		return
	}

	send := func(msg SessionMessage) {
		if sync {
			session.SendSync(msg)
		} else {
			session.Send(msg)
		}
	}

	if update.CallbackQuery != nil {
		send(SessionMessage{
			Type:          "callback",
			Ctx:           ctx,
			CallbackQuery: update.CallbackQuery,
		})
		return
	}

	log.Info().Str("text", update.Message.Text).Int64("userId", userId).Msg("got message")

	if len(update.Message.Photo) > 0 || isImageDocument(update.Message.Document) {
		send(SessionMessage{
			Type:    "photo",
			Ctx:     ctx,
			Message: update.Message,
		})
	} else {
		send(SessionMessage{
			Type:    "text",
			Ctx:     ctx,
			Message: update.Message,
		})
	}
}

// HandleSessionMessage implements MessageHandler interface.
// This is called by the session worker goroutine for sequential processing.
func (b *Bot) HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage) {
	switch msg.Type {
	case "callback":
		b.handleCallbackQuery(ctx, session, msg.CallbackQuery)
	case "photo":
		b.handlePhotoMessage(ctx, session, msg.Message)
	case "text":
		b.handleTextMessage(ctx, session, msg.Message)
	case "analysis_complete":
		b.handleAnalysisComplete(session, msg.AnalysisResult)
	case "poem_complete":
		b.handlePoemComplete(session, msg.PoemResult)
	}
}

// handleTextMessage processes text messages. Plain text while keywords are
// on offer adds keywords; everything else is treated as a command.
func (b *Bot) handleTextMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	if message.Text != "" && !strings.HasPrefix(message.Text, "/") {
		b.handleKeywordInput(session, message.Text)
		return
	}
	b.handleCommand(ctx, session, message)
}

// handleCommand processes bot commands.
func (b *Bot) handleCommand(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	command, args := parseCommand(message.Text)
	switch command {
	case "/start":
		session.reply(MsgStartPrompt)
	case "/cancel":
		if err := session.reset(); err != nil {
			session.replyWithFailure(err)
			return
		}
		session.reply(MsgCancelled)
	case "/form":
		b.handleFormCommand(session, strings.Join(args, " "))
	case "/history":
		b.handleHistoryCommand(session, args)
	case "/admin":
		b.handleAdminCommand(session, args)
	case "/version":
		session.reply(MsgVersionInfo, Version, BuildTime)
	default:
		session.reply(MsgStartPrompt)
	}
}

// handleCallbackQuery handles inline keyboard button presses.
func (b *Bot) handleCallbackQuery(ctx context.Context, session *UserSession, query *tgbotapi.CallbackQuery) {
	// Answer the callback to remove the loading state
	callback := tgbotapi.NewCallback(query.ID, "")
	b.tg.Request(callback)

	switch {
	case strings.HasPrefix(query.Data, "kw:"):
		b.handleKeywordCallback(session, query)
	case strings.HasPrefix(query.Data, "form:"):
		b.handleFormCallback(ctx, session, query)
	case strings.HasPrefix(query.Data, "again:"):
		b.handleAgainCallback(ctx, session, query)
	case strings.HasPrefix(query.Data, "pref:"):
		b.handlePreferredFormCallback(session, query)
	}
}

// --- Preferred form ---

func (b *Bot) preferredForm(userId int64) poet.PoemForm {
	stored, err := b.store.GetPreferredForm(userId)
	if err != nil {
		log.Warn().Err(err).Int64("userId", userId).Msg("failed to get preferred form")
		return poet.DefaultPoemForm
	}
	form, err := poet.ParseForm(stored)
	if err != nil {
		return poet.DefaultPoemForm
	}
	return form
}

// handleFormCommand handles /form - show or set the preferred form.
func (b *Bot) handleFormCommand(session *UserSession, arg string) {
	if arg == "" {
		current := b.preferredForm(session.userId)
		msg := tgbotapi.NewMessage(session.userId, formatReplyText(MsgFormCurrent, current))
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.ReplyMarkup = makeFormKeyboard("pref", current)
		session.replyWithMessage(msg)
		return
	}

	form, err := poet.ParseForm(arg)
	if err != nil {
		session.reply(MsgFormInvalid, escapeMarkdown(arg))
		return
	}
	b.setPreferredForm(session, form)
}

func (b *Bot) handlePreferredFormCallback(session *UserSession, query *tgbotapi.CallbackQuery) {
	form, ok := formFromCallback(query.Data, "pref:")
	if !ok {
		return
	}
	removeInlineKeyboard(b.tg, query)
	b.setPreferredForm(session, form)
}

func (b *Bot) setPreferredForm(session *UserSession, form poet.PoemForm) {
	if err := b.store.SetPreferredForm(session.userId, string(form)); err != nil {
		session.replyWithError(err)
		return
	}
	session.reply(MsgFormUpdated, form)
}

// --- History ---

// handleHistoryCommand handles /history and /history clear.
func (b *Bot) handleHistoryCommand(session *UserSession, args []string) {
	if len(args) > 0 {
		if args[0] != "clear" {
			session.reply(MsgHistoryUsage)
			return
		}
		n, err := b.store.DeletePoems(session.userId)
		if err != nil {
			session.replyWithError(err)
			return
		}
		session.reply(MsgHistoryCleared, n)
		return
	}

	poems, err := b.store.ListPoems(session.userId, historyLimit)
	if err != nil {
		session.replyWithError(err)
		return
	}
	if len(poems) == 0 {
		session.reply(MsgHistoryEmpty)
		return
	}

	var sb strings.Builder
	sb.WriteString(MsgHistoryHeader)
	for _, p := range poems {
		sb.WriteString(fmt.Sprintf(MsgHistoryEntry,
			p.Form,
			p.CreatedAt.Format("2006-01-02"),
			escapeMarkdown(poet.Keywords(p.Keywords).Join()),
			escapeMarkdown(strings.TrimSpace(p.Text)),
		))
	}
	session._reply(strings.TrimSpace(sb.String()))
}

// --- Admin ---

// handleAdminCommand handles /admin command with subcommands.
func (b *Bot) handleAdminCommand(session *UserSession, args []string) {
	// Whitelisted users get here too
	if session.userId != b.adminID {
		return
	}

	if len(args) < 2 || args[0] != "users" {
		session.reply(MsgAdminUsage)
		return
	}
	b.handleAdminUsersCommand(session, args[1], args[2:])
}

// handleAdminUsersCommand handles /admin users subcommands.
func (b *Bot) handleAdminUsersCommand(session *UserSession, action string, args []string) {
	switch action {
	case "add":
		if len(args) < 1 {
			session.reply(MsgAdminUserAddUsage)
			return
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			session.reply(MsgAdminUserInvalidID)
			return
		}
		if err := b.store.AddAllowedUser(userID, session.userId); err != nil {
			session.replyWithError(err)
			return
		}
		session.reply(MsgAdminUserAdded, userID)

	case "remove":
		if len(args) < 1 {
			session.reply(MsgAdminUserRemoveUsage)
			return
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			session.reply(MsgAdminUserInvalidID)
			return
		}
		if err := b.store.RemoveAllowedUser(userID); err != nil {
			session.replyWithError(err)
			return
		}
		session.reply(MsgAdminUserRemoved, userID)

	case "list":
		users, err := b.store.GetAllowedUsers()
		if err != nil {
			session.replyWithError(err)
			return
		}
		if len(users) == 0 {
			session.reply(MsgAdminNoUsers)
			return
		}
		var sb strings.Builder
		sb.WriteString(MsgAdminAllowedUsers)
		for _, u := range users {
			sb.WriteString(fmt.Sprintf("• `%d` (%s)\n", u.TelegramID, u.AddedAt.Format("2006-01-02")))
		}
		session._reply(strings.TrimSpace(sb.String()))

	default:
		session.reply(MsgAdminUsage)
	}
}
