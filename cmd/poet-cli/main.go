// poet-cli captions a local image and composes a poem from it in the
// terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/raine/image-poet/config"
	"github.com/raine/image-poet/internal/app"
	"github.com/raine/image-poet/internal/caption"
	"github.com/raine/image-poet/internal/poet"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	captionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	poemStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(1, 3)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func main() {
	taskFlag := flag.String("task", "", "only caption the image: caption, detailed or more-detailed")
	formFlag := flag.String("form", "", "poem form, e.g. 七言绝句 or songci (asks when empty)")
	allFlag := flag.Bool("all", false, "use every extracted keyword without asking")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <image-path>\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)

	config.LoadEnvFile()
	cfg, err := config.Load()
	if err != nil {
		fail("invalid config: %v", err)
	}
	if missing := cfg.MissingModelKeys(); len(missing) > 0 {
		fail("missing required config: %s", strings.Join(missing, ", "))
	}

	img, err := caption.LoadImageFile(flag.Arg(0))
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	services, err := app.NewServices(ctx, cfg, nil)
	if err != nil {
		fail("failed to initialize models: %v", err)
	}

	if *taskFlag != "" {
		runCaption(ctx, services.Captioner, img, *taskFlag)
		return
	}

	var form poet.PoemForm
	if *formFlag != "" {
		if form, err = poet.ParseForm(*formFlag); err != nil {
			fail("%v", err)
		}
	}
	runPoem(ctx, services, img, form, *allFlag)
}

func runCaption(ctx context.Context, captioner caption.Captioner, img *caption.Image, rawTask string) {
	task, err := caption.ParseTask(rawTask)
	if err != nil {
		fail("%v", err)
	}
	result, err := captioner.Caption(ctx, img, task, "")
	if err != nil {
		fail("caption failed: %v", err)
	}
	fmt.Println(result.Text(task))
}

func runPoem(ctx context.Context, services *app.Services, img *caption.Image, form poet.PoemForm, useAll bool) {
	pipeline := poet.NewPipeline(services.Analyzer, services.Composer)
	if err := pipeline.LoadImage(img); err != nil {
		fail("%v", err)
	}

	fmt.Println(titleStyle.Render("正在识别图片…"))
	task, err := pipeline.Analyze(ctx)
	if err != nil {
		fail("%v", err)
	}
	analysis, err := task.Wait()
	if err != nil {
		fail("analysis failed: %v", err)
	}

	fmt.Println(captionStyle.Render(analysis.CaptionText()))
	fmt.Println()
	if analysis.ParseErr != nil {
		fmt.Println(errorStyle.Render(fmt.Sprintf("关键词解析失败：%v", analysis.ParseErr)))
	}

	keywords := analysis.Keywords
	if !useAll {
		if keywords, err = pickKeywords(keywords); err != nil {
			fail("%v", err)
		}
	}
	if form == "" {
		if form, err = pickForm(); err != nil {
			fail("%v", err)
		}
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("正在以「%s」作诗…", form)))
	composeTask, err := pipeline.Compose(ctx, keywords, form)
	if err != nil {
		fail("%v", err)
	}
	poem, err := composeTask.Wait()
	if err != nil {
		fail("compose failed: %v", err)
	}

	fmt.Println()
	fmt.Println(poemStyle.Render(titleStyle.Render(string(form)) + "\n\n" + poem))
}

// pickKeywords lets the user tick keywords and type extra ones.
func pickKeywords(extracted poet.Keywords) (poet.Keywords, error) {
	var chosen []string
	var extra string

	var fields []huh.Field
	if len(extracted) > 0 {
		fields = append(fields, huh.NewMultiSelect[string]().
			Title("选择关键词").
			Options(huh.NewOptions(extracted...)...).
			Value(&chosen))
	}
	fields = append(fields, huh.NewInput().
		Title("补充关键词").
		Description("用逗号或顿号分隔，可留空").
		Value(&extra))

	if err := huh.NewForm(huh.NewGroup(fields...)).WithTheme(huh.ThemeBase16()).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			os.Exit(1)
		}
		return nil, err
	}

	extraWords := strings.FieldsFunc(extra, func(r rune) bool {
		return strings.ContainsRune(",，、;；", r)
	})
	return poet.NormalizeKeywords(append(chosen, extraWords...)), nil
}

func pickForm() (poet.PoemForm, error) {
	form := poet.DefaultPoemForm
	options := make([]huh.Option[poet.PoemForm], 0, len(poet.Forms))
	for _, f := range poet.Forms {
		options = append(options, huh.NewOption(string(f), f))
	}

	err := huh.NewSelect[poet.PoemForm]().
		Title("选择体裁").
		Options(options...).
		Value(&form).
		WithTheme(huh.ThemeBase16()).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		os.Exit(1)
	}
	return form, err
}

func fail(format string, args ...any) {
	fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf(format, args...)))
	os.Exit(1)
}
