package security

import "testing"

func TestPlainText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "牛乳を買う", "牛乳を買う"},
		{"アンパサンドは保持される", "Fish & Chips", "Fish & Chips"},
		{"比較記号は保持される", "a < b", "a < b"},
		{"タグは除去される", "<b>重要</b>な打ち合わせ", "重要な打ち合わせ"},
		{"scriptタグは中身ごと除去される", "予定<script>alert(1)</script>", "予定"},
		{"イベント属性付きタグも除去される", `<img src=x onerror="alert(1)">写真`, "写真"},
		{"実体参照で隠したタグも除去される", "&lt;b&gt;太字&lt;/b&gt;", "太字"},
		{"空文字列", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlainText(tt.input); got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPlainText_Idempotent(t *testing.T) {
	inputs := []string{
		"<p>段落</p>",
		"&amp;lt;i&amp;gt;入れ子&amp;lt;/i&amp;gt;",
		"Tom & Jerry <3",
	}
	for _, in := range inputs {
		once := PlainText(in)
		if twice := PlainText(once); twice != once {
			t.Errorf("PlainText not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}
