package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/raine/image-poet/internal/caption"
	"github.com/raine/image-poet/internal/failure"
	"github.com/raine/image-poet/internal/poet"
	"github.com/raine/image-poet/internal/storage"
)

const (
	defaultPoemLimit = 20
	maxPoemLimit     = 100
)

// SessionResponse is the JSON view of a session.
type SessionResponse struct {
	ID         string   `json:"id"`
	State      string   `json:"state"`
	Caption    string   `json:"caption,omitempty"`
	Keywords   []string `json:"keywords"`
	ParseError string   `json:"parse_error,omitempty"`
	Poem       string   `json:"poem,omitempty"`
	Form       string   `json:"form,omitempty"`
	Error      string   `json:"error,omitempty"`
	ErrorKind  string   `json:"error_kind,omitempty"`
}

// ComposeRequest is the body of POST /sessions/:id/compose.
type ComposeRequest struct {
	Keywords []string `json:"keywords"`
	Form     string   `json:"form"`
	// UserID files the poem under this user's history.
	UserID int64 `json:"user_id"`
}

// PoemResponse is the JSON view of a stored poem.
type PoemResponse struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Keywords  []string  `json:"keywords"`
	Form      string    `json:"form"`
	Text      string    `json:"text"`
	Caption   string    `json:"caption,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "image-poet",
	})
}

// readImage decodes the "image" multipart field.
func readImage(c *gin.Context) (*caption.Image, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		return nil, failure.Newf(failure.KindInvalidRequest, "upload", "missing image field")
	}
	if fh.Size > maxUploadSize {
		return nil, failure.Newf(failure.KindInvalidRequest, "upload", "image exceeds %d bytes", maxUploadSize)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, failure.New(failure.KindInvalidRequest, "upload", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, failure.New(failure.KindInvalidRequest, "upload", err)
	}
	img, err := caption.DecodeImage(data)
	if err != nil {
		return nil, failure.New(failure.KindInvalidRequest, "upload", err)
	}
	return img, nil
}

// Caption runs one caption task on the uploaded image and waits for it.
func (s *Server) Caption(c *gin.Context) {
	img, err := readImage(c)
	if err != nil {
		abortWithFailure(c, err)
		return
	}

	task := caption.TaskCaption
	if raw := c.PostForm("task"); raw != "" {
		if task, err = caption.ParseTask(raw); err != nil {
			abortWithFailure(c, failure.New(failure.KindInvalidRequest, "caption", err))
			return
		}
	}

	result, err := s.captioner.Caption(c.Request.Context(), img, task, c.PostForm("text"))
	if err != nil {
		abortWithFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"task": string(task),
		"text": result.Text(task),
	})
}

// CreateSession loads the uploaded image into a new pipeline and starts
// analyzing it.
func (s *Server) CreateSession(c *gin.Context) {
	img, err := readImage(c)
	if err != nil {
		abortWithFailure(c, err)
		return
	}

	sess := s.newSession()
	if err := sess.pipeline.LoadImage(img); err != nil {
		abortWithFailure(c, err)
		return
	}
	if err := s.startAnalysis(sess); err != nil {
		abortWithFailure(c, err)
		return
	}
	log.Info().Str("session", sess.id).Int("width", img.Width).Int("height", img.Height).Msg("api session created")
	c.JSON(http.StatusAccepted, s.view(sess))
}

// Analyze re-runs the analysis, e.g. after a failure.
func (s *Server) Analyze(c *gin.Context) {
	sess, ok := s.getSession(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err := s.startAnalysis(sess); err != nil {
		abortWithFailure(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.view(sess))
}

func (s *Server) startAnalysis(sess *session) error {
	task, err := sess.pipeline.Analyze(s.ctx)
	if err != nil {
		return err
	}
	sess.setErr(nil)
	go func() {
		_, err := task.Wait()
		sess.setErr(err)
	}()
	return nil
}

func (s *Server) GetSession(c *gin.Context) {
	sess, ok := s.getSession(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, s.view(sess))
}

// Compose starts composing a poem from the chosen keywords.
func (s *Server) Compose(c *gin.Context) {
	sess, ok := s.getSession(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	var req ComposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithFailure(c, failure.New(failure.KindInvalidRequest, "compose", err))
		return
	}
	form := poet.DefaultPoemForm
	if req.Form != "" {
		var err error
		if form, err = poet.ParseForm(req.Form); err != nil {
			abortWithFailure(c, failure.New(failure.KindInvalidRequest, "compose", err))
			return
		}
	}

	keywords := poet.Keywords(req.Keywords)
	task, err := sess.pipeline.Compose(s.ctx, keywords, form)
	if err != nil {
		abortWithFailure(c, err)
		return
	}
	sess.setErr(nil)

	go func() {
		poem, err := task.Wait()
		sess.setErr(err)
		if err != nil {
			return
		}
		var captionText string
		if analysis := sess.pipeline.Analysis(); analysis != nil {
			captionText = analysis.CaptionText()
		}
		_, err = s.store.SavePoem(&storage.Poem{
			UserID:   req.UserID,
			Keywords: poet.NormalizeKeywords(keywords),
			Form:     string(form),
			Text:     poem,
			Caption:  captionText,
		})
		if err != nil {
			log.Error().Err(err).Str("session", sess.id).Msg("failed to save poem")
		}
	}()

	c.JSON(http.StatusAccepted, s.view(sess))
}

func (s *Server) DeleteSession(c *gin.Context) {
	sess, ok := s.getSession(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err := sess.pipeline.Reset(); err != nil {
		abortWithFailure(c, err)
		return
	}
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) ListPoems(c *gin.Context) {
	userID, err := strconv.ParseInt(c.DefaultQuery("user_id", "0"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id must be an integer"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPoemLimit)))
	if err != nil || limit <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	if limit > maxPoemLimit {
		limit = maxPoemLimit
	}

	poems, err := s.store.ListPoems(userID, limit)
	if err != nil {
		log.Error().Err(err).Int64("userId", userID).Msg("failed to list poems")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to list poems"})
		return
	}

	out := make([]PoemResponse, 0, len(poems))
	for i := range poems {
		out = append(out, poemResponse(&poems[i]))
	}
	c.JSON(http.StatusOK, gin.H{"poems": out})
}

func (s *Server) GetPoem(c *gin.Context) {
	poem, err := s.store.GetPoem(c.Param("id"))
	if err != nil {
		log.Error().Err(err).Msg("failed to get poem")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to get poem"})
		return
	}
	if poem == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "poem not found"})
		return
	}
	c.JSON(http.StatusOK, poemResponse(poem))
}

func (s *Server) view(sess *session) SessionResponse {
	p := sess.pipeline
	resp := SessionResponse{
		ID:       sess.id,
		State:    p.State().String(),
		Keywords: []string{},
	}
	if analysis := p.Analysis(); analysis != nil {
		resp.Caption = analysis.CaptionText()
		resp.Keywords = append(resp.Keywords, analysis.Keywords...)
		if analysis.ParseErr != nil {
			resp.ParseError = analysis.ParseErr.Error()
		}
	}
	poem, form := p.Poem()
	resp.Poem = poem
	resp.Form = string(form)
	if err := sess.err(); err != nil {
		resp.Error = err.Error()
		resp.ErrorKind = failure.KindOf(err).String()
	}
	return resp
}

func poemResponse(p *storage.Poem) PoemResponse {
	keywords := p.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return PoemResponse{
		ID:        p.ID,
		UserID:    p.UserID,
		Keywords:  keywords,
		Form:      p.Form,
		Text:      p.Text,
		Caption:   p.Caption,
		CreatedAt: p.CreatedAt,
	}
}
