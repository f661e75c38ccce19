package poet

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/raine/image-poet/internal/chat"
	"github.com/raine/image-poet/internal/failure"
	"github.com/raine/image-poet/internal/metrics"
)

// PoemRequest is a keyword selection and the form to compose in.
type PoemRequest struct {
	Keywords Keywords
	Form     PoemForm
}

// Validate normalizes the keywords and checks the request.
func (r PoemRequest) Validate() (PoemRequest, error) {
	r.Keywords = NormalizeKeywords(r.Keywords)
	if len(r.Keywords) == 0 {
		return r, failure.Newf(failure.KindInvalidRequest, "compose", "select at least one keyword")
	}
	if !r.Form.Valid() {
		return r, failure.Newf(failure.KindInvalidRequest, "compose", "unknown poem form %q", r.Form)
	}
	return r, nil
}

type Composer struct {
	completer chat.Completer
}

func NewComposer(completer chat.Completer) *Composer {
	return &Composer{completer: completer}
}

// Compose writes a poem in form using keywords. The reply text is returned
// as is.
func (c *Composer) Compose(ctx context.Context, keywords Keywords, form PoemForm) (string, error) {
	req, err := PoemRequest{Keywords: keywords, Form: form}.Validate()
	if err != nil {
		return "", err
	}

	start := time.Now()
	poem, err := c.completer.Complete(ctx, poemSystemPrompt, poemPrompt(req.Keywords, req.Form))
	metrics.ObserveOperation("compose", err, time.Since(start))
	if err != nil {
		return "", err
	}

	log.Info().Str("form", string(req.Form)).Int("keywords", len(req.Keywords)).Msg("poem composed")
	return poem, nil
}
