package app

import (
	"fmt"
	"io"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はリセットトークンのクリーンアップワーカーを起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp は使い方を表示することを示す。
	CommandHelp Command = "help"
)

// commands はサポートするサブコマンドと説明。usageの表示順を兼ねる。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "APIサーバーを起動する（デフォルト）"},
	{CommandWorker, "期限切れリセットトークンのクリーンアップを定期実行する"},
	{CommandMigrate, "未適用のデータベースマイグレーションを適用する"},
	{CommandHealthcheck, "ローカルの /health を確認する"},
	{CommandHelp, "この使い方を表示する"},
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はCommandServeを返す。サポート外のコマンドはエラーとする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	switch name := strings.TrimLeft(args[0], "-"); name {
	case "h":
		return CommandHelp, nil
	default:
		for _, c := range commands {
			if string(c.cmd) == name {
				return c.cmd, nil
			}
		}
		return "", fmt.Errorf("unknown command %q", args[0])
	}
}

// printUsage はサブコマンドの一覧を出力する。
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: taskdesk [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.desc)
	}
}
