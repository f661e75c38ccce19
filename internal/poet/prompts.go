package poet

import (
	"fmt"
	"strings"

	"github.com/lithammer/dedent"
)

const keywordSystemPrompt = "你是一个专业的图像描述分析助手，请对提供的图片描述进行中文翻译和关键词的提取"

const keywordUserPrompt = "请对以下图片描述进行中文翻译和关键词的提取,请你仅返回关键词列表，返回格式为[关键词1,关键词2,关键词3...]：%s"

const poemSystemPrompt = "你是一位精通中国古典诗词与现代诗歌的诗人，擅长根据给定的意象进行创作"

var poemUserPrompt = strings.TrimSpace(dedent.Dedent(`
	请以下列关键词为意象，创作一首%s。
	关键词：%s

	要求：
	1. 严格遵循%s的格式与韵律要求
	2. 诗中需要包含以上关键词
	3. 意境优美，语言凝练，整体连贯
	请只返回诗歌正文，不要附加解释。
`))

func keywordPrompt(caption string) string {
	return fmt.Sprintf(keywordUserPrompt, caption)
}

func poemPrompt(keywords Keywords, form PoemForm) string {
	return fmt.Sprintf(poemUserPrompt, form, keywords.Join(), form)
}
