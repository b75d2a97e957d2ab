package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// NoteSanitizerService は注文の備考をサニタイズするインターフェースを定義する。
type NoteSanitizerService interface {
	// Sanitize はHTMLタグをすべて除去したテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// noteSanitizer はNoteSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type noteSanitizer struct {
	policy *bluemonday.Policy
}

// NewNoteSanitizer はNoteSanitizerServiceの新しいインスタンスを生成する。
// 備考はプレーンテキストとして扱うため、bluemondayのStrictPolicyで全タグを除去する。
// script・styleは中身ごと除去される。備考はJSONで返すため、残ったテキストの
// HTMLエスケープは戻してプレーンテキストにする。
func NewNoteSanitizer() *noteSanitizer {
	return &noteSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はHTMLタグを除去したプレーンテキストを返す。
// "salt & pepper" や "<3" のようにタグでない記号はそのまま残る。
func (s *noteSanitizer) Sanitize(raw string) string {
	return html.UnescapeString(s.policy.Sanitize(raw))
}
