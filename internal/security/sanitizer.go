// Package security はユーザー入力の無害化を提供する。
//
// タスクやTodoのタイトル・説明、表示名はプレーンテキストとして保存する。
// HTMLタグはbluemondayのStrictPolicyで全て除去し、実体参照は文字に戻す。
package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// maxStripPasses はタグ除去と実体参照の復元を繰り返す上限。
// "&lt;b&gt;"のように復元後にタグが現れる入力を除去しきるため複数回適用する。
const maxStripPasses = 3

// strict は全てのタグと属性を除去するポリシー。構築後はスレッドセーフ。
var strict = bluemonday.StrictPolicy()

// PlainText はHTMLタグを除去したプレーンテキストを返す。
// タグを含まない入力はそのまま返す（"Fish & Chips" は変換されない）。
// 同一入力に対して常に同一出力を返し、出力に再適用しても変化しない。
func PlainText(s string) string {
	for i := 0; i < maxStripPasses; i++ {
		next := html.UnescapeString(strict.Sanitize(s))
		if next == s {
			return s
		}
		s = next
	}
	return s
}
