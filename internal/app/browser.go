package app

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	goruntime "runtime"

	"github.com/hitoshi/gofinances/internal/auth"
)

// newBrowserOpener はURLを表示したうえで既定のブラウザで開くOpenerを返す。
// ブラウザを起動できない環境でも、表示したURLを手動で開けば続行できる。
func newBrowserOpener(w io.Writer) auth.Opener {
	return func(authURL string) error {
		fmt.Fprintf(w, "ブラウザで次のURLを開いてください:\n%s\n", authURL)

		cmd := browserCommand(authURL)
		if cmd == nil {
			return nil
		}
		if err := cmd.Start(); err != nil {
			slog.Debug("failed to launch browser", slog.String("error", err.Error()))
			return nil
		}
		go cmd.Wait()
		return nil
	}
}

func browserCommand(u string) *exec.Cmd {
	switch goruntime.GOOS {
	case "darwin":
		return exec.Command("open", u)
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", u)
	case "linux", "freebsd", "openbsd":
		return exec.Command("xdg-open", u)
	default:
		return nil
	}
}
