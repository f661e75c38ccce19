package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/image-poet/internal/poet"
)

// SessionMessage represents a message to be processed by the session worker.
type SessionMessage struct {
	Type string
	Ctx  context.Context
	Done chan struct{} // Closed when processing is complete (for synchronous dispatch)

	// Message data (only one is set based on Type)
	Message       *tgbotapi.Message
	CallbackQuery *tgbotapi.CallbackQuery
	Text          string

	AnalysisResult *AnalysisResult // For analysis_complete messages
	PoemResult     *PoemResult     // For poem_complete messages
}

// AnalysisResult is the outcome of a background image analysis.
type AnalysisResult struct {
	Analysis *poet.Analysis
	Err      error
}

// PoemResult is the outcome of a background poem composition.
type PoemResult struct {
	Poem     string
	Form     poet.PoemForm
	Keywords poet.Keywords
	Err      error
}

// MessageSender abstracts the ability to send Telegram messages.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// MessageHandler is the interface for processing session messages.
type MessageHandler interface {
	HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage)
}

// KeywordSelection is the keyword list offered to the user and which of
// the keywords are currently ticked.
type KeywordSelection struct {
	Keywords poet.Keywords
	Selected []bool
	MsgID    int // Message carrying the keyword keyboard
}

// Chosen returns the ticked keywords in display order.
func (k *KeywordSelection) Chosen() poet.Keywords {
	var chosen poet.Keywords
	for i, kw := range k.Keywords {
		if k.Selected[i] {
			chosen = append(chosen, kw)
		}
	}
	return chosen
}

// Toggle flips keyword i. Out-of-range indexes are ignored.
func (k *KeywordSelection) Toggle(i int) bool {
	if i < 0 || i >= len(k.Selected) {
		return false
	}
	k.Selected[i] = !k.Selected[i]
	return true
}

// SelectAll ticks every keyword, or unticks them all if all are ticked.
func (k *KeywordSelection) SelectAll() {
	all := true
	for _, s := range k.Selected {
		all = all && s
	}
	for i := range k.Selected {
		k.Selected[i] = !all
	}
}

// Add appends keywords not already offered, ticked.
func (k *KeywordSelection) Add(keywords poet.Keywords) poet.Keywords {
	var added poet.Keywords
	for _, kw := range keywords {
		exists := false
		for _, existing := range k.Keywords {
			if existing == kw {
				exists = true
				break
			}
		}
		if !exists {
			k.Keywords = append(k.Keywords, kw)
			k.Selected = append(k.Selected, true)
			added = append(added, kw)
		}
	}
	return added
}

func newKeywordSelection(keywords poet.Keywords) *KeywordSelection {
	return &KeywordSelection{
		Keywords: append(poet.Keywords(nil), keywords...),
		Selected: make([]bool, len(keywords)),
	}
}

// UserSession represents a user's session with the bot.
//
// Threading model:
//   - Each session has a dedicated worker goroutine that processes messages sequentially
//   - Message handlers are called only from the worker and can access session state
//     without locks
//   - The pipeline has its own lock since its operations finish on other goroutines
type UserSession struct {
	userId int64
	sender MessageSender

	// Worker channel for sequential message processing
	inbox   chan SessionMessage
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	handler MessageHandler // Set after construction to avoid circular deps

	pipeline  *poet.Pipeline
	selection *KeywordSelection

	// stopTyping cancels the typing indicator of the running operation.
	stopTyping context.CancelFunc
}

// State returns the pipeline state.
func (s *UserSession) State() poet.State {
	return s.pipeline.State()
}

func (s *UserSession) reset() error {
	log.Info().Int64("userId", s.userId).Msg("reset user session")
	if err := s.pipeline.Reset(); err != nil {
		return err
	}
	s.selection = nil
	s.stopTypingLoop()
	return nil
}

func (s *UserSession) replyWithError(err error) tgbotapi.Message {
	log.Error().Stack().Err(err).Send()
	return s._reply(formatReplyText(MsgUnexpectedErr, escapeMarkdown(err.Error())))
}

// replyWithFailure renders an operation failure verbatim.
func (s *UserSession) replyWithFailure(err error) tgbotapi.Message {
	log.Warn().Err(err).Int64("userId", s.userId).Msg("operation failed")
	return s._reply(failureText(err))
}

// sendTypingAction sends a "typing" chat action to show the user that the bot is processing.
// The typing indicator automatically expires after ~5 seconds in Telegram.
func (s *UserSession) sendTypingAction() {
	action := tgbotapi.NewChatAction(s.userId, tgbotapi.ChatTyping)
	// sendChatAction returns a boolean, not a Message
	_, err := s.sender.Request(action)
	if err != nil {
		log.Debug().Err(err).Int64("userId", s.userId).Msg("failed to send typing action")
	}
}

// startTypingLoop sends a typing action every 4 seconds until the context is cancelled.
func (s *UserSession) startTypingLoop(ctx context.Context) {
	s.sendTypingAction()

	ticker := time.NewTicker(4 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendTypingAction()
		}
	}
}

// beginTyping starts the typing loop for a background operation.
func (s *UserSession) beginTyping(ctx context.Context) {
	s.stopTypingLoop()
	typingCtx, cancel := context.WithCancel(ctx)
	s.stopTyping = cancel
	go s.startTypingLoop(typingCtx)
}

func (s *UserSession) stopTypingLoop() {
	if s.stopTyping != nil {
		s.stopTyping()
		s.stopTyping = nil
	}
}

func (s *UserSession) replyWithMessage(msg tgbotapi.MessageConfig) tgbotapi.Message {
	msg.ChatID = s.userId
	sent, err := s.sender.Send(msg)
	if err != nil {
		log.Error().Stack().
			Interface("msg", msg).
			Err(fmt.Errorf("failed to send reply message: %w", err)).Send()
	} else {
		log.Info().Interface("msg", msg).Interface("sent", sent).Msg("sent message")
	}

	return sent
}

// _reply sends text as is, without formatting.
func (s *UserSession) _reply(text string) tgbotapi.Message {
	return s.replyWithMessage(tgbotapi.MessageConfig{
		Text:      text,
		ParseMode: tgbotapi.ModeMarkdown,
	})
}

func (s *UserSession) reply(text string, a ...any) tgbotapi.Message {
	return s._reply(formatReplyText(text, a...))
}

// --- Worker methods ---

// StartWorker starts the session's message processing worker goroutine.
// Must be called after setting the handler.
func (s *UserSession) StartWorker() {
	s.wg.Add(1)
	go s.runWorker()
}

// SetHandler sets the message handler for this session.
func (s *UserSession) SetHandler(handler MessageHandler) {
	s.handler = handler
}

// runWorker is the main worker loop that processes messages sequentially.
func (s *UserSession) runWorker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			// Drain any remaining messages and signal completion
			for {
				select {
				case msg := <-s.inbox:
					if msg.Done != nil {
						close(msg.Done)
					}
				default:
					return
				}
			}
		case msg := <-s.inbox:
			s.processMessage(msg)
		}
	}
}

// processMessage handles a single message from the inbox.
func (s *UserSession) processMessage(msg SessionMessage) {
	defer func() {
		// Keep the worker running
		if r := recover(); r != nil {
			log.Error().
				Int64("userId", s.userId).
				Interface("panic", r).
				Msg("recovered from panic in session worker")
		}
		if msg.Done != nil {
			close(msg.Done)
		}
	}()

	if s.handler == nil {
		log.Error().Int64("userId", s.userId).Msg("session handler not set")
		return
	}

	s.handler.HandleSessionMessage(msg.Ctx, s, msg)
}

// Send queues a message for processing by the worker.
// This is non-blocking - it returns immediately after queuing.
func (s *UserSession) Send(msg SessionMessage) {
	select {
	case s.inbox <- msg:
	case <-s.ctx.Done():
		if msg.Done != nil {
			close(msg.Done)
		}
	}
}

// SendSync queues a message and waits for it to be processed.
func (s *UserSession) SendSync(msg SessionMessage) {
	msg.Done = make(chan struct{})
	s.Send(msg)
	<-msg.Done
}

// Stop stops the worker and waits for it to finish.
func (s *UserSession) Stop() {
	s.cancel()
	s.wg.Wait()
	s.stopTypingLoop()
}
