package note

import (
	"net/url"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はメモのタイトルと本文から危険なマークアップを取り除く。
type Sanitizer interface {
	// SanitizeTitle はタイトルから全てのタグを除去する。
	SanitizeTitle(raw string) string
	// SanitizeContent は本文を許可リストのタグのみに制限する。
	SanitizeContent(raw string) string
}

type htmlSanitizer struct {
	title   *bluemonday.Policy
	content *bluemonday.Policy
}

// NewSanitizer はbluemondayのポリシーでSanitizerを生成する。
// タイトルはタグを一切許可しない。本文のポリシー:
//   - 許可タグ: p, br, ul, ol, li, blockquote, pre, code, strong, em, a
//   - aタグのhrefはhttpsの完全なURLのみ。rel="noopener noreferrer"とtarget="_blank"を付与
//   - script, iframe, styleとon*属性は許可リストにないため除去される
func NewSanitizer() Sanitizer {
	content := bluemonday.NewPolicy()
	content.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)
	content.AllowAttrs("href").OnElements("a")
	content.AllowRelativeURLs(false)
	content.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})
	content.RequireNoReferrerOnLinks(true)
	content.AddTargetBlankToFullyQualifiedLinks(true)

	return &htmlSanitizer{
		title:   bluemonday.StrictPolicy(),
		content: content,
	}
}

func (s *htmlSanitizer) SanitizeTitle(raw string) string {
	return s.title.Sanitize(raw)
}

func (s *htmlSanitizer) SanitizeContent(raw string) string {
	return s.content.Sanitize(raw)
}
