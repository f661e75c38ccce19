package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/image-poet/internal/caption"
	"github.com/raine/image-poet/internal/poet"
	"github.com/raine/image-poet/internal/storage"
)

const keywordsPerRow = 3

// handlePhotoMessage downloads the photo, loads it into the pipeline and
// starts the analysis.
func (b *Bot) handlePhotoMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	if session.State().InFlight() {
		session.reply(MsgBusy)
		return
	}

	data, err := b.downloader.DownloadFromTelegramFileID(ctx, b.tg.GetFileDirectURL, imageFileID(message))
	if err != nil {
		log.Error().Err(err).Int64("userId", session.userId).Msg("failed to download photo")
		session.reply(MsgImageDownloadFailed, escapeMarkdown(err.Error()))
		return
	}

	img, err := caption.DecodeImage(data)
	if err != nil {
		session.reply(MsgImageDecodeFailed, escapeMarkdown(err.Error()))
		return
	}

	if err := session.pipeline.LoadImage(img); err != nil {
		session.replyWithFailure(err)
		return
	}
	session.selection = nil
	log.Info().Int64("userId", session.userId).Int("width", img.Width).Int("height", img.Height).Msg("image loaded")

	b.startAnalysis(ctx, session)
}

func (b *Bot) startAnalysis(ctx context.Context, session *UserSession) {
	task, err := session.pipeline.Analyze(ctx)
	if err != nil {
		session.replyWithFailure(err)
		return
	}
	session.reply(MsgAnalyzing)
	session.beginTyping(ctx)

	go func() {
		analysis, err := task.Wait()
		session.Send(SessionMessage{
			Type:           "analysis_complete",
			Ctx:            ctx,
			AnalysisResult: &AnalysisResult{Analysis: analysis, Err: err},
		})
	}()
}

// handleAnalysisComplete shows the caption and offers the keywords.
func (b *Bot) handleAnalysisComplete(session *UserSession, result *AnalysisResult) {
	session.stopTypingLoop()

	if result.Err != nil {
		msg := tgbotapi.NewMessage(session.userId, failureText(result.Err))
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(BtnRetry, "again:analyze")),
		)
		log.Warn().Err(result.Err).Int64("userId", session.userId).Msg("analysis failed")
		session.replyWithMessage(msg)
		return
	}

	analysis := result.Analysis
	if text := analysis.CaptionText(); text != "" {
		session.reply(MsgCaption, escapeMarkdown(text))
	}
	if analysis.ParseErr != nil {
		session.reply(MsgKeywordParseFailed, escapeMarkdown(analysis.ParseErr.Error()))
	}

	session.selection = newKeywordSelection(analysis.Keywords)
	if len(analysis.Keywords) == 0 {
		session.reply(MsgNoKeywords)
		return
	}
	b.sendKeywordKeyboard(session)
}

// handleKeywordInput adds keywords typed by the user to the selection.
func (b *Bot) handleKeywordInput(session *UserSession, text string) {
	state := session.State()
	if state == poet.StateIdle {
		session.reply(MsgStartPrompt)
		return
	}
	if session.selection == nil || (state != poet.StateKeywordsReady && state != poet.StatePoemReady) {
		session.reply(MsgNotReadyForKeywords)
		return
	}

	added := session.selection.Add(splitKeywordInput(text))
	if len(added) == 0 {
		session.reply(MsgNoKeywordsToAdd)
		return
	}
	session.reply(MsgKeywordsAdded, escapeMarkdown(added.Join()))

	if session.selection.MsgID != 0 {
		removeKeyboard(b.tg, session.userId, session.selection.MsgID)
	}
	b.sendKeywordKeyboard(session)
}

func (b *Bot) sendKeywordKeyboard(session *UserSession) {
	msg := tgbotapi.NewMessage(session.userId, MsgSelectKeywords)
	msg.ReplyMarkup = makeKeywordKeyboard(session.selection)
	sent := session.replyWithMessage(msg)
	session.selection.MsgID = sent.MessageID
}

func (b *Bot) sendFormKeyboard(session *UserSession) {
	msg := tgbotapi.NewMessage(session.userId, MsgSelectForm)
	msg.ReplyMarkup = makeFormKeyboard("form", b.preferredForm(session.userId))
	session.replyWithMessage(msg)
}

// handleKeywordCallback handles kw:<index>, kw:all and kw:done.
func (b *Bot) handleKeywordCallback(session *UserSession, query *tgbotapi.CallbackQuery) {
	sel := session.selection
	if sel == nil || query.Message == nil || query.Message.MessageID != sel.MsgID {
		// Keyboard from an earlier image
		removeInlineKeyboard(b.tg, query)
		return
	}

	switch action := strings.TrimPrefix(query.Data, "kw:"); action {
	case "done":
		_, err := poet.PoemRequest{Keywords: sel.Chosen(), Form: b.preferredForm(session.userId)}.Validate()
		if err != nil {
			session.replyWithFailure(err)
			return
		}
		removeInlineKeyboard(b.tg, query)
		b.sendFormKeyboard(session)
		return
	case "all":
		sel.SelectAll()
	default:
		i, err := strconv.Atoi(action)
		if err != nil || !sel.Toggle(i) {
			return
		}
	}

	edit := tgbotapi.NewEditMessageReplyMarkup(session.userId, sel.MsgID, makeKeywordKeyboard(sel))
	if _, err := b.tg.Request(edit); err != nil {
		log.Warn().Err(err).Int64("userId", session.userId).Msg("failed to update keyword keyboard")
	}
}

// handleFormCallback starts composing with the chosen form.
func (b *Bot) handleFormCallback(ctx context.Context, session *UserSession, query *tgbotapi.CallbackQuery) {
	form, ok := formFromCallback(query.Data, "form:")
	if !ok || session.selection == nil {
		return
	}

	keywords := session.selection.Chosen()
	task, err := session.pipeline.Compose(ctx, keywords, form)
	if err != nil {
		// Keyboard stays so the user can try again
		session.replyWithFailure(err)
		return
	}
	removeInlineKeyboard(b.tg, query)
	session.reply(MsgComposing, form)
	session.beginTyping(ctx)

	go func() {
		poem, err := task.Wait()
		session.Send(SessionMessage{
			Type:       "poem_complete",
			Ctx:        ctx,
			PoemResult: &PoemResult{Poem: poem, Form: form, Keywords: keywords, Err: err},
		})
	}()
}

// handlePoemComplete shows the poem and saves it to the user's history.
func (b *Bot) handlePoemComplete(session *UserSession, result *PoemResult) {
	session.stopTypingLoop()

	if result.Err != nil {
		session.replyWithFailure(result.Err)
		b.sendFormKeyboard(session)
		return
	}

	var captionText string
	if analysis := session.pipeline.Analysis(); analysis != nil {
		captionText = analysis.CaptionText()
	}
	_, err := b.store.SavePoem(&storage.Poem{
		UserID:   session.userId,
		Keywords: result.Keywords,
		Form:     string(result.Form),
		Text:     result.Poem,
		Caption:  captionText,
	})
	if err != nil {
		log.Error().Err(err).Int64("userId", session.userId).Msg("failed to save poem")
	}

	msg := tgbotapi.NewMessage(session.userId, fmt.Sprintf(MsgPoem, result.Form, escapeMarkdown(strings.TrimSpace(result.Poem))))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(BtnChangeForm, "again:form"),
			tgbotapi.NewInlineKeyboardButtonData(BtnChangeWords, "again:kw"),
		),
	)
	session.replyWithMessage(msg)
}

// handleAgainCallback handles the follow-up buttons under a poem or a
// failed analysis.
func (b *Bot) handleAgainCallback(ctx context.Context, session *UserSession, query *tgbotapi.CallbackQuery) {
	state := session.State()
	if state.InFlight() {
		session.reply(MsgBusy)
		return
	}

	switch query.Data {
	case "again:analyze":
		if state == poet.StateIdle {
			session.reply(MsgNothingToDo)
			return
		}
		removeInlineKeyboard(b.tg, query)
		b.startAnalysis(ctx, session)
	case "again:form":
		if session.selection == nil {
			session.reply(MsgNothingToDo)
			return
		}
		b.sendFormKeyboard(session)
	case "again:kw":
		if session.selection == nil {
			session.reply(MsgNothingToDo)
			return
		}
		if session.selection.MsgID != 0 {
			removeKeyboard(b.tg, session.userId, session.selection.MsgID)
		}
		b.sendKeywordKeyboard(session)
	}
}

// --- Keyboards ---

func makeKeywordKeyboard(sel *KeywordSelection) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for i, kw := range sel.Keywords {
		label := kw
		if sel.Selected[i] {
			label = fmt.Sprintf(BtnSelected, kw)
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("kw:%d", i)))
		if len(row) == keywordsPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(BtnSelectAll, "kw:all"),
		tgbotapi.NewInlineKeyboardButtonData(BtnDone, "kw:done"),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// makeFormKeyboard lists every form, two per row, with the preferred one
// starred. Callback data is <prefix>:<index in poet.Forms>.
func makeFormKeyboard(prefix string, preferred poet.PoemForm) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i := 0; i < len(poet.Forms); i += 2 {
		var row []tgbotapi.InlineKeyboardButton
		for j := i; j < i+2 && j < len(poet.Forms); j++ {
			form := poet.Forms[j]
			label := string(form)
			if form == preferred {
				label = fmt.Sprintf(BtnPreferred, form)
			}
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("%s:%d", prefix, j)))
		}
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func formFromCallback(data, prefix string) (poet.PoemForm, bool) {
	i, err := strconv.Atoi(strings.TrimPrefix(data, prefix))
	if err != nil || i < 0 || i >= len(poet.Forms) {
		return "", false
	}
	return poet.Forms[i], true
}

func removeInlineKeyboard(tg BotAPI, query *tgbotapi.CallbackQuery) {
	if query.Message == nil {
		return
	}
	removeKeyboard(tg, query.Message.Chat.ID, query.Message.MessageID)
}

func removeKeyboard(tg BotAPI, chatID int64, messageID int) {
	edit := tgbotapi.NewEditMessageReplyMarkup(
		chatID,
		messageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}},
	)
	if _, err := tg.Request(edit); err != nil {
		log.Debug().Err(err).Msg("failed to remove inline keyboard")
	}
}

// imageFileID returns the largest photo size, or the document for images
// sent as files.
func imageFileID(message *tgbotapi.Message) string {
	if len(message.Photo) == 0 {
		return message.Document.FileID
	}
	largest := message.Photo[0]
	for _, p := range message.Photo[1:] {
		if p.Width*p.Height > largest.Width*largest.Height {
			largest = p
		}
	}
	return largest.FileID
}

func isImageDocument(doc *tgbotapi.Document) bool {
	return doc != nil && strings.HasPrefix(doc.MimeType, "image/")
}
