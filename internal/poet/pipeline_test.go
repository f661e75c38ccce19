package poet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raine/image-poet/internal/failure"
)

func newTestPipeline(captioner *fakeCaptioner, completer *fakeCompleter) *Pipeline {
	return NewPipeline(NewAnalyzer(captioner, completer), NewComposer(completer))
}

func TestPipeline_HappyPath(t *testing.T) {
	completer := &fakeCompleter{replies: []string{"[秋风,孤舟]", "秋风吹孤舟"}}
	p := newTestPipeline(&fakeCaptioner{text: "a boat"}, completer)
	ctx := context.Background()

	assert.Equal(t, StateIdle, p.State())
	require.NoError(t, p.LoadImage(testImage))
	assert.Equal(t, StateImageLoaded, p.State())

	analyzeTask, err := p.Analyze(ctx)
	require.NoError(t, err)
	analysis, err := analyzeTask.Wait()
	require.NoError(t, err)
	assert.Equal(t, Keywords{"秋风", "孤舟"}, analysis.Keywords)
	assert.Equal(t, StateKeywordsReady, p.State())
	assert.Same(t, analysis, p.Analysis())

	composeTask, err := p.Compose(ctx, analysis.Keywords, FormWuyanJueju)
	require.NoError(t, err)
	poem, err := composeTask.Wait()
	require.NoError(t, err)
	assert.Equal(t, "秋风吹孤舟", poem)
	assert.Equal(t, StatePoemReady, p.State())

	gotPoem, gotForm := p.Poem()
	assert.Equal(t, "秋风吹孤舟", gotPoem)
	assert.Equal(t, FormWuyanJueju, gotForm)

	// Composing again from PoemReady is allowed.
	composeTask, err = p.Compose(ctx, Keywords{"孤舟"}, FormModernPoem)
	require.NoError(t, err)
	_, err = composeTask.Wait()
	require.NoError(t, err)
	_, gotForm = p.Poem()
	assert.Equal(t, FormModernPoem, gotForm)
}

func TestPipeline_AnalyzeFailureRevertsToImageLoaded(t *testing.T) {
	cause := failure.New(failure.KindInferenceFailure, "caption", errors.New("boom"))
	p := newTestPipeline(&fakeCaptioner{err: cause}, &fakeCompleter{})
	require.NoError(t, p.LoadImage(testImage))

	task, err := p.Analyze(context.Background())
	require.NoError(t, err)
	_, err = task.Wait()

	assert.True(t, errors.Is(err, failure.ErrInferenceFailure))
	assert.Equal(t, StateImageLoaded, p.State())
	assert.Nil(t, p.Analysis())
}

func TestPipeline_ComposeFailureRevertsToKeywordsReady(t *testing.T) {
	completer := &fakeCompleter{replies: []string{"[山]"}}
	p := newTestPipeline(&fakeCaptioner{text: "a hill"}, completer)
	require.NoError(t, p.LoadImage(testImage))
	task, err := p.Analyze(context.Background())
	require.NoError(t, err)
	_, err = task.Wait()
	require.NoError(t, err)

	completer.mu.Lock()
	completer.err = failure.New(failure.KindRemoteServiceFailure, "chat", errors.New("502"))
	completer.mu.Unlock()

	composeTask, err := p.Compose(context.Background(), Keywords{"山"}, FormYuefu)
	require.NoError(t, err)
	_, err = composeTask.Wait()

	assert.True(t, errors.Is(err, failure.ErrRemoteServiceFailure))
	assert.Equal(t, StateKeywordsReady, p.State())
}

func TestPipeline_BusyWhileInFlight(t *testing.T) {
	captioner := &fakeCaptioner{text: "a cat", block: make(chan struct{})}
	p := newTestPipeline(captioner, &fakeCompleter{replies: []string{"[猫]"}})
	require.NoError(t, p.LoadImage(testImage))

	task, err := p.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateAnalyzing, p.State())

	_, err = p.Analyze(context.Background())
	assert.True(t, errors.Is(err, failure.ErrBusy))
	assert.True(t, errors.Is(p.LoadImage(testImage), failure.ErrBusy))
	assert.True(t, errors.Is(p.Reset(), failure.ErrBusy))

	_, _, ok := task.Result()
	assert.False(t, ok)

	close(captioner.block)
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
	_, err, ok = task.Result()
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, StateKeywordsReady, p.State())
}

func TestPipeline_PreconditionsAreChecked(t *testing.T) {
	completer := &fakeCompleter{replies: []string{"x"}}
	p := newTestPipeline(&fakeCaptioner{text: "a"}, completer)

	_, err := p.Analyze(context.Background())
	assert.True(t, errors.Is(err, failure.ErrInvalidRequest))

	_, err = p.Compose(context.Background(), Keywords{"山"}, FormSongCi)
	assert.True(t, errors.Is(err, failure.ErrInvalidRequest))

	assert.True(t, errors.Is(p.LoadImage(nil), failure.ErrInvalidRequest))

	require.NoError(t, p.LoadImage(testImage))
	_, err = p.Compose(context.Background(), nil, FormSongCi)
	assert.True(t, errors.Is(err, failure.ErrInvalidRequest))
	assert.Equal(t, StateImageLoaded, p.State())
	assert.Zero(t, completer.callCount())
}

func TestPipeline_NewImageResets(t *testing.T) {
	p := newTestPipeline(&fakeCaptioner{text: "a"}, &fakeCompleter{replies: []string{"[山]"}})
	require.NoError(t, p.LoadImage(testImage))
	task, err := p.Analyze(context.Background())
	require.NoError(t, err)
	_, err = task.Wait()
	require.NoError(t, err)

	require.NoError(t, p.LoadImage(testImage))
	assert.Equal(t, StateImageLoaded, p.State())
	assert.Nil(t, p.Analysis())

	require.NoError(t, p.Reset())
	assert.Equal(t, StateIdle, p.State())
	assert.Nil(t, p.Image())
}

func TestTask_RecoversPanic(t *testing.T) {
	task := Start(context.Background(), func(ctx context.Context) (int, error) {
		panic("kaboom")
	})
	_, err := task.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}
