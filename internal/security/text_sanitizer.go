package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// maxTextLength はサニタイズ後に保持する最大文字数（rune単位）。
const maxTextLength = 100

// TextSanitizer は外部由来の表示名などをプレーンテキストへ正規化する。
type TextSanitizer interface {
	// SanitizeText は全てのHTMLタグを除去し、制御文字を取り除き、
	// 前後の空白を削って最大長に切り詰める。
	SanitizeText(raw string) string
}

type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はbluemondayのStrictPolicyを使うTextSanitizerを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *textSanitizer) SanitizeText(raw string) string {
	// StrictPolicyは&等をエスケープするため、テンプレート側での二重エスケープを避けて戻す
	stripped := html.UnescapeString(s.policy.Sanitize(raw))

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, stripped)
	cleaned = strings.TrimSpace(cleaned)

	runes := []rune(cleaned)
	if len(runes) > maxTextLength {
		cleaned = strings.TrimSpace(string(runes[:maxTextLength]))
	}
	return cleaned
}
