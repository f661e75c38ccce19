// Package poet turns an image into keywords and keywords into a poem.
package poet

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/raine/image-poet/internal/caption"
	"github.com/raine/image-poet/internal/chat"
	"github.com/raine/image-poet/internal/metrics"
)

// AnalysisTask is the caption granularity used for keyword extraction.
const AnalysisTask = caption.TaskMoreDetailedCaption

// Analysis is the outcome of analyzing one image.
type Analysis struct {
	Caption  caption.Result
	Keywords Keywords
	// ParseErr is set when the keyword reply could not be parsed. Keywords
	// is empty in that case.
	ParseErr error
}

// CaptionText returns the caption the keywords were extracted from.
func (a *Analysis) CaptionText() string {
	return a.Caption.Text(AnalysisTask)
}

type Analyzer struct {
	captioner caption.Captioner
	completer chat.Completer
}

func NewAnalyzer(captioner caption.Captioner, completer chat.Completer) *Analyzer {
	return &Analyzer{captioner: captioner, completer: completer}
}

// Analyze captions img and extracts Chinese keywords from the caption.
// Caption errors are returned unchanged and skip keyword extraction.
func (a *Analyzer) Analyze(ctx context.Context, img *caption.Image) (*Analysis, error) {
	start := time.Now()
	analysis, err := a.analyze(ctx, img)
	metrics.ObserveOperation("analyze", err, time.Since(start))
	return analysis, err
}

func (a *Analyzer) analyze(ctx context.Context, img *caption.Image) (*Analysis, error) {
	result, err := a.captioner.Caption(ctx, img, AnalysisTask, "")
	if err != nil {
		return nil, err
	}

	text := result.Text(AnalysisTask)
	reply, err := a.completer.Complete(ctx, keywordSystemPrompt, keywordPrompt(text))
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{Caption: result}
	keywords, err := ParseKeywords(reply)
	if err != nil {
		log.Warn().Err(err).Str("reply", truncate(reply, 200)).Msg("could not parse keywords")
		analysis.Keywords = Keywords{}
		analysis.ParseErr = err
		return analysis, nil
	}
	analysis.Keywords = keywords

	log.Info().Int("keywords", len(keywords)).Msg("image analyzed")
	return analysis, nil
}
