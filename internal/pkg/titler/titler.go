package titler

import (
	"strings"
	"unicode/utf8"

	"github.com/go-ego/gse"
	"github.com/rs/zerolog/log"
)

// DefaultMaxRunes 标题默认最大字符数
const DefaultMaxRunes = 30

const ellipsis = "…"

// Titler 根据会话的第一条提问生成标题
// 使用 gse 分词，尽量在词边界截断，避免把中文词语或英文单词切开
type Titler struct {
	maxRunes  int
	segmenter *gse.Segmenter
}

// New 创建标题生成器
// 分词器初始化失败时降级为按字符截断
func New(maxRunes int) *Titler {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxRunes
	}

	var segmenter *gse.Segmenter
	seg, err := gse.New()
	if err != nil {
		log.Warn().Err(err).Msg("gse segmenter init failed, titles fall back to rune truncation")
	} else {
		segmenter = &seg
	}

	return &Titler{
		maxRunes:  maxRunes,
		segmenter: segmenter,
	}
}

// Title 从提问中提取标题，空提问返回空字符串
func (t *Titler) Title(prompt string) string {
	text := strings.Join(strings.Fields(prompt), " ")
	if text == "" {
		return ""
	}
	if utf8.RuneCountInString(text) <= t.maxRunes {
		return text
	}

	title := ""
	if t.segmenter != nil {
		title = t.cutAtWordBoundary(text)
	}
	if title == "" {
		title = strings.TrimSpace(truncateRunes(text, t.maxRunes))
	}

	return title + ellipsis
}

// cutAtWordBoundary 依次在原文中定位分词结果，返回不超过 maxRunes 的最长前缀
func (t *Titler) cutAtWordBoundary(text string) string {
	words := t.segmenter.Cut(text, false)

	pos := 0
	for _, w := range words {
		if w == "" {
			continue
		}
		idx := strings.Index(text[pos:], w)
		if idx < 0 {
			break
		}
		end := pos + idx + len(w)
		if utf8.RuneCountInString(text[:end]) > t.maxRunes {
			break
		}
		pos = end
	}

	return strings.TrimSpace(text[:pos])
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
