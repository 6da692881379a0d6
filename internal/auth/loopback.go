package auth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/gofinances/internal/middleware"
)

const (
	// CancelPath はユーザーがフローを中断するためのパス。
	CancelPath = "/cancel"

	maxCallbackBodySize = 64 << 10
	shutdownTimeout     = 5 * time.Second
)

// Opener は認可URLをユーザーのブラウザで開く。
type Opener func(authURL string) error

// LoopbackConfig はループバック認可セッションの設定。
type LoopbackConfig struct {
	// ListenAddr はコールバックを待ち受けるアドレス。空の場合はリダイレクトURLのhost:portを使う。
	ListenAddr string
	// Timeout を過ぎてもリダイレクトが来ない場合はdismissとして終了する。0の場合は無制限。
	Timeout   time.Duration
	RateLimit middleware.RateLimiterConfig
}

// LoopbackAuthSession はローカルHTTPサーバーでリダイレクトを受け取るAuthSession。
// 1回のStartで最初に届いた結果だけを採用する。
type LoopbackAuthSession struct {
	config LoopbackConfig
	open   Opener
	logger *slog.Logger
	listen func(network, address string) (net.Listener, error)
}

// NewLoopbackAuthSession はLoopbackAuthSessionを生成する。
func NewLoopbackAuthSession(config LoopbackConfig, open Opener, logger *slog.Logger) *LoopbackAuthSession {
	if config.RateLimit.Burst == 0 {
		config.RateLimit = middleware.DefaultRateLimiterConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LoopbackAuthSession{
		config: config,
		open:   open,
		logger: logger,
		listen: net.Listen,
	}
}

// Start はコールバックサーバーを起動してブラウザで認可URLを開き、結果を待つ。
func (s *LoopbackAuthSession) Start(ctx context.Context, authURL, redirectURL string) (*AuthSessionResult, error) {
	redirect, err := url.Parse(redirectURL)
	if err != nil || redirect.Host == "" {
		return nil, fmt.Errorf("invalid redirect url: %q", redirectURL)
	}
	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}

	addr := s.config.ListenAddr
	if addr == "" {
		addr = redirect.Host
	}

	ln, err := s.listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	results := make(chan *AuthSessionResult, 1)
	srv := &http.Server{
		Handler:           s.newRouter(callbackPath, results),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("callback server error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
		}
	}()

	s.logger.Info("waiting for authorization callback",
		slog.String("addr", ln.Addr().String()),
		slog.String("path", callbackPath),
	)

	if err := s.open(authURL); err != nil {
		return nil, fmt.Errorf("failed to open authorization url: %w", err)
	}

	var timeout <-chan time.Time
	if s.config.Timeout > 0 {
		timer := time.NewTimer(s.config.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case result := <-results:
		return result, nil
	case <-timeout:
		s.logger.Info("authorization session timed out")
		return &AuthSessionResult{Type: ResultDismiss}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// newRouter はコールバック用のルーターを構築する。
func (s *LoopbackAuthSession) newRouter(callbackPath string, results chan<- *AuthSessionResult) http.Handler {
	deliver := func(result *AuthSessionResult) {
		select {
		case results <- result:
		default:
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(s.logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(s.logger))
	r.Use(middleware.NewRateLimitMiddleware(s.config.RateLimit))

	r.Get(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		params := flatten(r.URL.Query())
		if len(params) == 0 {
			// インプリシットグラントのトークンはURLフラグメントで届くため、ページ側でPOSTし直す
			renderPage(w, relayPage, pageData{CallbackPath: callbackPath, CancelPath: CancelPath})
			return
		}
		result := resultFromParams(params)
		deliver(result)
		renderPage(w, donePage, pageData{Cancelled: result.Type != ResultSuccess})
	})

	r.Post(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBodySize)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		result := resultFromParams(flatten(r.PostForm))
		deliver(result)
		renderPage(w, donePage, pageData{Cancelled: result.Type != ResultSuccess})
	})

	r.Get(CancelPath, func(w http.ResponseWriter, r *http.Request) {
		deliver(&AuthSessionResult{Type: ResultCancel, Params: map[string]string{}})
		renderPage(w, donePage, pageData{Cancelled: true})
	})

	return r
}

// flatten は各キーの最初の値だけを取り出す。
func flatten(values url.Values) map[string]string {
	params := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}

type pageData struct {
	CallbackPath string
	CancelPath   string
	Cancelled    bool
}

var relayPage = template.Must(template.New("relay").Parse(`<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>gofinances</title></head>
<body>
<p id="msg">サインイン処理中です...</p>
<p><a href="{{.CancelPath}}">キャンセル</a></p>
<script>
(function () {
  var fragment = window.location.hash.substring(1);
  if (!fragment) {
    document.getElementById("msg").textContent = "認可情報を受け取れませんでした。";
    return;
  }
  history.replaceState(null, "", window.location.pathname);
  var form = document.createElement("form");
  form.method = "POST";
  form.action = {{.CallbackPath}};
  new URLSearchParams(fragment).forEach(function (value, key) {
    var input = document.createElement("input");
    input.type = "hidden";
    input.name = key;
    input.value = value;
    form.appendChild(input);
  });
  document.body.appendChild(form);
  form.submit();
})();
</script>
</body>
</html>
`))

var donePage = template.Must(template.New("done").Parse(`<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>gofinances</title></head>
<body>
{{if .Cancelled}}<p>サインインを中断しました。</p>{{else}}<p>サインインが完了しました。このウィンドウを閉じてください。</p>{{end}}
</body>
</html>
`))

func renderPage(w http.ResponseWriter, tmpl *template.Template, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		slog.Error("failed to render callback page", slog.String("error", err.Error()))
	}
}

// compile-time interface check
var _ AuthSession = (*LoopbackAuthSession)(nil)
