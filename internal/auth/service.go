package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/gofinances/internal/metrics"
	"github.com/hitoshi/gofinances/internal/model"
)

// SessionStore は端末上の単一セッションレコードの永続化インターフェース。
type SessionStore interface {
	Save(ctx context.Context, user model.User) error
	Load(ctx context.Context) (*model.User, error)
	Clear(ctx context.Context) error
}

// IdentityResolver はIdP識別子から氏名とメールアドレスを解決する。
// 戻り値のboolはキャッシュ済みの値を使ったかどうか。
type IdentityResolver interface {
	Resolve(ctx context.Context, id string, supplied model.Profile) (model.Profile, bool, error)
}

// ServiceConfig は認証コーディネータの設定。
type ServiceConfig struct {
	AvatarBaseURL string
}

// Service は認証コーディネータ。
// 現在のユーザーを唯一の書き込み者として管理し、セッションストアと同期させる。
// サインイン・サインアウト・復元は同時に1つしか実行できない。
type Service struct {
	google     Provider
	apple      Provider
	sessions   SessionStore
	identities IdentityResolver
	metrics    metrics.MetricsCollector
	config     ServiceConfig

	opMu  sync.Mutex
	user  atomic.Pointer[model.User]
	state atomic.Value // model.AuthState

	subMu     sync.Mutex
	subs      map[int]chan model.User
	nextSubID int
}

// NewService はServiceを生成する。appleがnilの場合、Appleサインインは利用できない。
func NewService(
	google, apple Provider,
	sessions SessionStore,
	identities IdentityResolver,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.NoopCollector{}
	}
	if config.AvatarBaseURL == "" {
		config.AvatarBaseURL = DefaultAvatarBaseURL
	}
	s := &Service{
		google:     google,
		apple:      apple,
		sessions:   sessions,
		identities: identities,
		metrics:    collector,
		config:     config,
		subs:       make(map[int]chan model.User),
	}
	s.user.Store(&model.User{})
	s.state.Store(model.StateUninitialized)
	return s
}

// CurrentUser は現在のユーザーを返す。未ログインの場合は空のユーザー。
func (s *Service) CurrentUser() model.User {
	return *s.user.Load()
}

// State は現在の認証状態を返す。
func (s *Service) State() model.AuthState {
	return s.state.Load().(model.AuthState)
}

// Restoring は保存済みセッションの復元が完了していないかを返す。
// UIは復元中にログイン画面を出さないためにこれを参照する。
func (s *Service) Restoring() bool {
	st := s.State()
	return st == model.StateUninitialized || st == model.StateRestoring
}

// Subscribe は新しく公開されたユーザーを受け取るチャネルを返す。
// 受信が追いつかない場合は最新の値だけが残る。戻り値の関数で購読を解除する。
func (s *Service) Subscribe() (<-chan model.User, func()) {
	ch := make(chan model.User, 1)

	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

// Restore は保存済みセッションを読み込んで現在のユーザーを復元する。
// 2回目以降の呼び出しは何もしない。
// ストレージエラーの場合は未ログイン状態にしてエラーを返す。
func (s *Service) Restore(ctx context.Context) error {
	if !s.opMu.TryLock() {
		return model.NewBusyError()
	}
	defer s.opMu.Unlock()

	if s.State() != model.StateUninitialized {
		return nil
	}
	s.state.Store(model.StateRestoring)

	user, err := s.sessions.Load(ctx)
	if err != nil {
		s.state.Store(model.StateAnonymous)
		slog.Warn("failed to restore session", slog.String("error", err.Error()))
		return err
	}
	if user == nil {
		s.state.Store(model.StateAnonymous)
		slog.Info("no stored session")
		return nil
	}

	s.publish(*user)
	s.state.Store(model.StateAuthenticated)
	slog.Info("session restored", slog.String("user_id", user.ID))
	return nil
}

// SignInWithGoogle はGoogleアカウントでサインインする。
// キャンセルされた場合は状態を変えずにnilを返す。
func (s *Service) SignInWithGoogle(ctx context.Context) error {
	return s.signIn(ctx, ProviderGoogle, s.google)
}

// SignInWithApple はAppleアカウントでサインインする。
// キャンセルされた場合は状態を変えずにnilを返す。
func (s *Service) SignInWithApple(ctx context.Context) error {
	return s.signIn(ctx, ProviderApple, s.apple)
}

func (s *Service) signIn(ctx context.Context, name string, provider Provider) error {
	if provider == nil {
		return model.NewProviderError(fmt.Errorf("%s sign-in is not configured", name))
	}
	if !s.opMu.TryLock() {
		return model.NewBusyError()
	}
	defer s.opMu.Unlock()

	start := time.Now()
	outcome, err := provider.Authorize(ctx)
	s.metrics.RecordProviderLatency(name, time.Since(start))
	if err != nil {
		s.metrics.RecordSignIn(name, metrics.OutcomeError)
		slog.Warn("sign-in failed",
			slog.String("provider", name),
			slog.String("error", err.Error()),
		)
		return err
	}
	if outcome.Cancelled {
		s.metrics.RecordSignIn(name, metrics.OutcomeCancelled)
		slog.Info("sign-in cancelled", slog.String("provider", name))
		return nil
	}

	user, err := s.normalize(ctx, outcome.Credential)
	if err != nil {
		s.metrics.RecordSignIn(name, metrics.OutcomeError)
		slog.Warn("failed to resolve user",
			slog.String("provider", name),
			slog.String("error", err.Error()),
		)
		return err
	}

	if err := s.sessions.Save(ctx, user); err != nil {
		s.metrics.RecordSignIn(name, metrics.OutcomeError)
		slog.Error("failed to save session",
			slog.String("provider", name),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.publish(user)
	s.state.Store(model.StateAuthenticated)
	s.metrics.RecordSignIn(name, metrics.OutcomeSuccess)
	slog.Info("user signed in",
		slog.String("provider", name),
		slog.String("user_id", user.ID),
	)
	return nil
}

// normalize はCredentialを正規化されたユーザーに変換する。
func (s *Service) normalize(ctx context.Context, cred *model.Credential) (model.User, error) {
	if cred == nil || cred.Subject == "" {
		return model.User{}, model.NewProviderError(errors.New("empty credential"))
	}

	profile := cred.Profile()
	if cred.ResolveIdentity {
		resolved, fromCache, err := s.identities.Resolve(ctx, cred.Subject, profile)
		if err == nil || errors.Is(err, model.ErrIdentityResolution) {
			s.metrics.RecordIdentityCacheLookup(fromCache)
		}
		if err != nil {
			return model.User{}, err
		}
		profile = resolved
	}

	// 生成アバターはAppleユーザーのみ。Googleで画像が無い場合は空のまま
	photo := cred.Photo
	if photo == "" && cred.Provider == ProviderApple {
		photo = AvatarURL(s.config.AvatarBaseURL, profile.Name)
	}

	return model.User{
		ID:    cred.Subject,
		Name:  profile.Name,
		Email: profile.Email,
		Photo: photo,
	}, nil
}

// SignOut はセッションレコードを削除して未ログイン状態にする。
// 削除に失敗した場合は現在のユーザーを維持してエラーを返す。
func (s *Service) SignOut(ctx context.Context) error {
	if !s.opMu.TryLock() {
		return model.NewBusyError()
	}
	defer s.opMu.Unlock()

	prev := s.CurrentUser()
	if err := s.sessions.Clear(ctx); err != nil {
		slog.Error("failed to clear session", slog.String("error", err.Error()))
		return err
	}

	s.publish(model.User{})
	s.state.Store(model.StateAnonymous)
	s.metrics.RecordSignOut()
	slog.Info("user signed out", slog.String("user_id", prev.ID))
	return nil
}

// publish は現在のユーザーを置き換えて購読者に通知する。
func (s *Service) publish(user model.User) {
	s.user.Store(&user)

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- user:
		default:
			// 古い値を捨てて最新の値を入れる
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- user:
			default:
			}
		}
	}
}
