package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/subcommands"
	"github.com/hitoshi/gofinances/internal/auth"
	"github.com/hitoshi/gofinances/internal/config"
	"github.com/hitoshi/gofinances/internal/database"
	"github.com/hitoshi/gofinances/internal/model"
)

// signinCmd はIdPでサインインする。
type signinCmd struct {
	rt *runtime
}

func (*signinCmd) Name() string { return "signin" }
func (*signinCmd) Synopsis() string { return "sign in with a Google or Apple account" }
func (*signinCmd) Usage() string {
	return `gofinances signin google|apple

  Opens the provider's authorization page in the browser and waits for the
  redirect on the local callback server. The signed-in user is stored on
  this device until "gofinances signout".
`
}
func (*signinCmd) SetFlags(*flag.FlagSet) {}

func (c *signinCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(c.rt.stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	provider := f.Arg(0)
	if provider != auth.ProviderGoogle && provider != auth.ProviderApple {
		fmt.Fprintf(c.rt.stderr, "unknown provider: %s\n", provider)
		return subcommands.ExitUsageError
	}

	return c.rt.withComponents(ctx, func(comp *components) error {
		svc := comp.service
		if err := svc.Restore(ctx); err != nil {
			// 復元できなくてもサインインで上書きできる
			slog.Warn("continuing without stored session", slog.String("error", err.Error()))
		}

		published, unsubscribe := svc.Subscribe()
		defer unsubscribe()

		var err error
		if provider == auth.ProviderApple {
			err = svc.SignInWithApple(ctx)
		} else {
			err = svc.SignInWithGoogle(ctx)
		}
		if err != nil {
			return err
		}

		select {
		case user := <-published:
			printUser(c.rt.stdout, user)
		default:
			fmt.Fprintln(c.rt.stdout, "サインインはキャンセルされました。")
		}
		return nil
	})
}

// signoutCmd は保存済みセッションを削除する。
type signoutCmd struct {
	rt *runtime
}

func (*signoutCmd) Name() string { return "signout" }
func (*signoutCmd) Synopsis() string { return "sign out and forget the stored session" }
func (*signoutCmd) Usage() string {
	return `gofinances signout

  Removes the stored session from this device. Cached Apple identities are kept.
`
}
func (*signoutCmd) SetFlags(*flag.FlagSet) {}

func (c *signoutCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.rt.withComponents(ctx, func(comp *components) error {
		if err := comp.service.Restore(ctx); err != nil {
			slog.Warn("continuing without stored session", slog.String("error", err.Error()))
		}
		if err := comp.service.SignOut(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.rt.stdout, "サインアウトしました。")
		return nil
	})
}

// whoamiCmd は保存済みセッションのユーザーを表示する。
type whoamiCmd struct {
	rt      *runtime
	jsonOut bool
}

func (*whoamiCmd) Name() string { return "whoami" }
func (*whoamiCmd) Synopsis() string { return "show the signed-in user" }
func (*whoamiCmd) Usage() string {
	return `gofinances whoami [-json]

  Restores the stored session and prints the current user.
`
}

func (c *whoamiCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.jsonOut, "json", false, "print the user as JSON")
}

func (c *whoamiCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.rt.withComponents(ctx, func(comp *components) error {
		if err := comp.service.Restore(ctx); err != nil {
			return err
		}
		user := comp.service.CurrentUser()

		if c.jsonOut {
			enc := json.NewEncoder(c.rt.stdout)
			enc.SetIndent("", "  ")
			if user.IsZero() {
				return enc.Encode(nil)
			}
			return enc.Encode(user)
		}

		if user.IsZero() {
			fmt.Fprintln(c.rt.stdout, "サインインしていません。")
			return nil
		}
		printUser(c.rt.stdout, user)
		return nil
	})
}

// migrateCmd はSQLストレージバックエンドのマイグレーションを実行する。
type migrateCmd struct {
	rt *runtime
}

func (*migrateCmd) Name() string { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply storage schema migrations" }
func (*migrateCmd) Usage() string {
	return `gofinances migrate

  Applies all pending migrations for the configured sqlite or postgres backend.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (c *migrateCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := Init(c.rt.stderr)
	if err != nil {
		return c.rt.fail(err)
	}
	if err := runMigrate(cfg); err != nil {
		return c.rt.fail(err)
	}
	return subcommands.ExitSuccess
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		slog.Info("running database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case config.BackendSQLite:
		slog.Info("running database migrations", slog.String("sqlite_path", cfg.SQLitePath))
		if err := database.RunSQLiteMigrations(cfg.SQLitePath); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	default:
		slog.Info("storage backend has no schema", slog.String("backend", cfg.StorageBackend))
		return nil
	}

	slog.Info("database migrations completed successfully")
	return nil
}

func printUser(w io.Writer, user model.User) {
	fmt.Fprintf(w, "ID:    %s\n", user.ID)
	fmt.Fprintf(w, "Name:  %s\n", user.Name)
	fmt.Fprintf(w, "Email: %s\n", user.Email)
	if user.Photo != "" {
		fmt.Fprintf(w, "Photo: %s\n", user.Photo)
	}
}

// userMessage はエラーからユーザー向けのメッセージを組み立てる。
func userMessage(err error) string {
	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		return authErr.Message + "\n" + authErr.Action
	}
	return err.Error()
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
