// Package app はCLIのエントリーポイントと依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
	"github.com/hitoshi/gofinances/internal/config"
	"github.com/hitoshi/gofinances/internal/logger"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを再設定する
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析して実行する。
// コマンドの結果はstdoutに、ログはstderrに出力する。argsにはos.Args[1:]を渡す。
func Run(stdout, stderr io.Writer, args []string) error {
	return run(stdout, stderr, args, buildComponents)
}

func run(stdout, stderr io.Writer, args []string, build buildFunc) error {
	fs := flag.NewFlagSet("gofinances", flag.ContinueOnError)
	fs.SetOutput(stderr)

	commander := subcommands.NewCommander(fs, "gofinances")
	commander.Output = stdout
	commander.Error = stderr

	rt := &runtime{stdout: stdout, stderr: stderr, build: build}

	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	commander.Register(&signinCmd{rt: rt}, "auth")
	commander.Register(&signoutCmd{rt: rt}, "auth")
	commander.Register(&whoamiCmd{rt: rt}, "auth")
	commander.Register(&migrateCmd{rt: rt}, "storage")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse arguments: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := commander.Execute(ctx)
	if rt.err != nil {
		return rt.err
	}
	if status != subcommands.ExitSuccess {
		return fmt.Errorf("command exited with status %d", status)
	}
	return nil
}

// runtime はサブコマンド間で共有する実行時の状態。
type runtime struct {
	stdout io.Writer
	stderr io.Writer
	build  buildFunc
	err    error
}

// fail はエラーを記録し、ユーザー向けのメッセージを出力してExitFailureを返す。
func (rt *runtime) fail(err error) subcommands.ExitStatus {
	rt.err = err
	fmt.Fprintln(rt.stderr, userMessage(err))
	return subcommands.ExitFailure
}

// withComponents は設定を読み込んで依存関係を構築し、fnを実行する。
// 終了時に接続を閉じ、設定されていればメトリクスを書き出す。
func (rt *runtime) withComponents(ctx context.Context, fn func(c *components) error) subcommands.ExitStatus {
	cfg, err := Init(rt.stderr)
	if err != nil {
		return rt.fail(err)
	}

	c, err := rt.build(ctx, cfg, rt.stdout)
	if err != nil {
		return rt.fail(err)
	}
	defer c.Close()

	if err := fn(c); err != nil {
		return rt.fail(err)
	}
	return subcommands.ExitSuccess
}
