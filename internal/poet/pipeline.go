package poet

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/raine/image-poet/internal/caption"
	"github.com/raine/image-poet/internal/failure"
)

type State int

const (
	StateIdle State = iota
	StateImageLoaded
	StateAnalyzing
	StateKeywordsReady
	StateComposing
	StatePoemReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateImageLoaded:
		return "image loaded"
	case StateAnalyzing:
		return "analyzing"
	case StateKeywordsReady:
		return "keywords ready"
	case StateComposing:
		return "composing"
	case StatePoemReady:
		return "poem ready"
	}
	return "unknown"
}

// InFlight reports whether an operation is running in state s.
func (s State) InFlight() bool {
	return s == StateAnalyzing || s == StateComposing
}

// Pipeline tracks one user's image → keywords → poem flow. At most one
// operation runs at a time; a failed operation leaves the pipeline in the
// state it was in before the operation started.
type Pipeline struct {
	analyzer *Analyzer
	composer *Composer

	mu       sync.Mutex
	state    State
	image    *caption.Image
	analysis *Analysis
	poem     string
	form     PoemForm
}

func NewPipeline(analyzer *Analyzer, composer *Composer) *Pipeline {
	return &Pipeline{analyzer: analyzer, composer: composer}
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Image returns the loaded image or nil.
func (p *Pipeline) Image() *caption.Image {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.image
}

// Analysis returns the latest successful analysis or nil.
func (p *Pipeline) Analysis() *Analysis {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.analysis
}

// Poem returns the latest composed poem and its form.
func (p *Pipeline) Poem() (string, PoemForm) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.poem, p.form
}

// LoadImage replaces the image and discards any analysis or poem.
func (p *Pipeline) LoadImage(img *caption.Image) error {
	if img == nil || len(img.Data) == 0 {
		return failure.Newf(failure.KindInvalidRequest, "load image", "no image")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.InFlight() {
		return failure.Newf(failure.KindBusy, "load image", "%s", p.state)
	}
	p.image = img
	p.analysis = nil
	p.poem = ""
	p.form = ""
	p.state = StateImageLoaded
	return nil
}

// Reset returns the pipeline to Idle.
func (p *Pipeline) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.InFlight() {
		return failure.Newf(failure.KindBusy, "reset", "%s", p.state)
	}
	p.state = StateIdle
	p.image = nil
	p.analysis = nil
	p.poem = ""
	p.form = ""
	return nil
}

// Analyze starts analyzing the loaded image.
func (p *Pipeline) Analyze(ctx context.Context) (*Task[*Analysis], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.InFlight() {
		return nil, failure.Newf(failure.KindBusy, "analyze", "%s", p.state)
	}
	if p.state == StateIdle {
		return nil, failure.Newf(failure.KindInvalidRequest, "analyze", "no image loaded")
	}

	prev := p.state
	img := p.image
	p.state = StateAnalyzing

	return Start(ctx, func(ctx context.Context) (analysis *Analysis, err error) {
		defer p.settle("analyze", prev, &err, func() {
			p.analysis = analysis
			p.poem = ""
			p.form = ""
			p.state = StateKeywordsReady
		})
		return p.analyzer.Analyze(ctx, img)
	}), nil
}

// Compose starts composing a poem. The request is validated before any
// state change, so an empty keyword selection fails immediately.
func (p *Pipeline) Compose(ctx context.Context, keywords Keywords, form PoemForm) (*Task[string], error) {
	req, err := PoemRequest{Keywords: keywords, Form: form}.Validate()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.InFlight() {
		return nil, failure.Newf(failure.KindBusy, "compose", "%s", p.state)
	}
	if p.state != StateKeywordsReady && p.state != StatePoemReady {
		return nil, failure.Newf(failure.KindInvalidRequest, "compose", "no keywords yet (%s)", p.state)
	}

	prev := p.state
	p.state = StateComposing

	return Start(ctx, func(ctx context.Context) (poem string, err error) {
		defer p.settle("compose", prev, &err, func() {
			p.poem = poem
			p.form = req.Form
			p.state = StatePoemReady
		})
		return p.composer.Compose(ctx, req.Keywords, req.Form)
	}), nil
}

// settle runs deferred at the end of an operation. On success it applies
// the result, otherwise (error or panic) it restores prev.
func (p *Pipeline) settle(op string, prev State, err *error, onSuccess func()) {
	r := recover()

	p.mu.Lock()
	if r != nil || *err != nil {
		log.Debug().Err(*err).Str("op", op).Stringer("state", prev).Msg("operation failed, reverting state")
		p.state = prev
	} else {
		onSuccess()
	}
	p.mu.Unlock()

	if r != nil {
		panic(r)
	}
}
