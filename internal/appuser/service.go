// Package appuser は利用者アカウント管理のドメインロジックを提供する。
// 登録、トークン発行、本人情報の参照・更新・退会、管理者向け一覧を扱う。
package appuser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/notekeeper/internal/auth"
	"github.com/hitoshi/notekeeper/internal/model"
	"github.com/hitoshi/notekeeper/internal/outbox"
	"github.com/hitoshi/notekeeper/internal/repository"
)

const (
	minUsernameLength = 5
	maxUsernameLength = 500
	minPasswordBytes  = 8
	// bcryptが扱える上限
	maxPasswordBytes = 72

	defaultPageSize = 20
	maxPageSize     = 100
)

// Authenticator は資格情報をPrincipalに解決する。
type Authenticator interface {
	Authenticate(ctx context.Context, p auth.Presentation) (model.Principal, error)
}

// TokenIssuer はPrincipalに対してトークンを発行する。
type TokenIssuer interface {
	Issue(p model.Principal) (string, *auth.Claims, error)
}

// EventDispatcher はコミット後のイベントを即時配信する。
type EventDispatcher interface {
	DispatchAsync(ctx context.Context, pub *model.EventPublication)
}

// Recorder はアカウント操作のメトリクスを記録する。
type Recorder interface {
	RecordTokenIssued()
	RecordEventAppended(eventType string)
}

type nopRecorder struct{}

func (nopRecorder) RecordTokenIssued()         {}
func (nopRecorder) RecordEventAppended(string) {}

// Token は発行したトークンと有効期限。
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// UpdateInput は本人情報の更新内容。nilのフィールドは変更しない。
type UpdateInput struct {
	Username *string
	Password *string
}

// Page は一覧取得の結果。
type Page struct {
	Items []*model.Appuser
	Page  int
	Size  int
	Total int
}

// Service は利用者アカウント管理のサービス層。
type Service struct {
	appusers      repository.AppuserRepository
	txm           repository.TxManager
	hasher        auth.PasswordHasher
	authenticator Authenticator
	tokens        TokenIssuer
	dispatcher    EventDispatcher
	recorder      Recorder
	now           func() time.Time
}

// Option はServiceの生成オプション。
type Option func(*Service)

// WithRecorder はメトリクスの記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	appusers repository.AppuserRepository,
	txm repository.TxManager,
	hasher auth.PasswordHasher,
	authenticator Authenticator,
	tokens TokenIssuer,
	dispatcher EventDispatcher,
	opts ...Option,
) *Service {
	s := &Service{
		appusers:      appusers,
		txm:           txm,
		hasher:        hasher,
		authenticator: authenticator,
		tokens:        tokens,
		dispatcher:    dispatcher,
		recorder:      nopRecorder{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register は新しい利用者を登録する。スコープは{APPLICATION}。
// usernameの重複は事前確認し、競合した場合も一意制約違反をConflictとして返す。
func (s *Service) Register(ctx context.Context, username, password string) (*model.Appuser, error) {
	return s.create(ctx, username, password, model.NewScopeSet(model.ScopeApplication))
}

func (s *Service) create(ctx context.Context, username, password string, scopes model.ScopeSet) (*model.Appuser, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	exists, err := s.appusers.ExistsByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("usernameの確認に失敗しました: %w", err)
	}
	if exists {
		return nil, model.NewUsernameConflictError(username)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	now := s.now()
	appuser := &model.Appuser{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		Scopes:       scopes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.appusers.Create(ctx, appuser); err != nil {
		if errors.Is(err, repository.ErrUsernameTaken) {
			return nil, model.NewUsernameConflictError(username)
		}
		return nil, fmt.Errorf("利用者の作成に失敗しました: %w", err)
	}

	slog.Info("利用者を登録しました",
		slog.String("appuser_id", appuser.ID),
		slog.String("scopes", appuser.Scopes.String()),
	)
	return appuser, nil
}

// Login はusernameとパスワードを検証してトークンを発行する。
func (s *Service) Login(ctx context.Context, username, password string) (*Token, error) {
	principal, err := s.authenticator.Authenticate(ctx, auth.BasicPresentation(username, password))
	if err != nil {
		return nil, err
	}

	value, claims, err := s.tokens.Issue(principal)
	if err != nil {
		return nil, fmt.Errorf("トークンの発行に失敗しました: %w", err)
	}
	s.recorder.RecordTokenIssued()

	return &Token{Value: value, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Get は本人の利用者情報を返す。
func (s *Service) Get(ctx context.Context, p model.Principal) (*model.Appuser, error) {
	appuser, err := s.appusers.FindByID(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("利用者の取得に失敗しました: %w", err)
	}
	if appuser == nil {
		return nil, model.NewAppuserNotFoundError()
	}
	return appuser, nil
}

// Update は本人のusernameまたはパスワードを更新する。
func (s *Service) Update(ctx context.Context, p model.Principal, in UpdateInput) (*model.Appuser, error) {
	appuser, err := s.Get(ctx, p)
	if err != nil {
		return nil, err
	}

	if in.Username != nil && *in.Username != appuser.Username {
		if err := validateUsername(*in.Username); err != nil {
			return nil, err
		}
		exists, err := s.appusers.ExistsByUsername(ctx, *in.Username)
		if err != nil {
			return nil, fmt.Errorf("usernameの確認に失敗しました: %w", err)
		}
		if exists {
			return nil, model.NewUsernameConflictError(*in.Username)
		}
		appuser.Username = *in.Username
	}

	if in.Password != nil {
		if err := validatePassword(*in.Password); err != nil {
			return nil, err
		}
		hash, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
		}
		appuser.PasswordHash = hash
	}

	appuser.UpdatedAt = s.now()
	if err := s.appusers.Update(ctx, appuser); err != nil {
		switch {
		case errors.Is(err, repository.ErrUsernameTaken):
			return nil, model.NewUsernameConflictError(appuser.Username)
		case errors.Is(err, repository.ErrNotFound):
			return nil, model.NewAppuserNotFoundError()
		}
		return nil, fmt.Errorf("利用者の更新に失敗しました: %w", err)
	}
	return appuser, nil
}

// Delete は本人のアカウントを削除する。
// 資格情報の削除とAppuserDeletedイベントの追記は同一トランザクションで行い、
// 所有メモの削除はイベントのコンシューマに委ねる。
func (s *Service) Delete(ctx context.Context, p model.Principal) error {
	pub, err := outbox.NewPublication(outbox.EventAppuserDeleted, outbox.AppuserDeleted{AppuserID: p.ID}, s.now())
	if err != nil {
		return err
	}

	err = s.txm.WithinTx(ctx, func(tx repository.Tx) error {
		if err := tx.Appusers().DeleteByID(ctx, p.ID); err != nil {
			return err
		}
		return tx.Outbox().Append(ctx, pub)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewAppuserNotFoundError()
	}
	if err != nil {
		return fmt.Errorf("退会処理に失敗しました: %w", err)
	}

	s.recorder.RecordEventAppended(pub.EventType)
	slog.Info("退会処理が完了しました",
		slog.String("appuser_id", p.ID),
		slog.String("event_id", pub.ID),
	)

	s.dispatcher.DispatchAsync(ctx, pub)
	return nil
}

// List は利用者一覧を返す。ADMINスコープを持つPrincipalのみ実行できる。
// pageは1始まり。sizeは1〜100で、0の場合は20とする。
func (s *Service) List(ctx context.Context, p model.Principal, page, size int) (*Page, error) {
	if err := auth.Check(p, auth.RouteAdmin); err != nil {
		return nil, err
	}
	if page == 0 {
		page = 1
	}
	if size == 0 {
		size = defaultPageSize
	}
	if page < 1 {
		return nil, model.NewValidationError("pageは1以上を指定してください")
	}
	if size < 1 || size > maxPageSize {
		return nil, model.NewValidationError(fmt.Sprintf("sizeは1〜%dで指定してください", maxPageSize))
	}

	items, err := s.appusers.List(ctx, (page-1)*size, size)
	if err != nil {
		return nil, fmt.Errorf("利用者一覧の取得に失敗しました: %w", err)
	}
	total, err := s.appusers.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("利用者数の取得に失敗しました: %w", err)
	}
	return &Page{Items: items, Page: page, Size: size, Total: total}, nil
}

// EnsureAdmin は管理者アカウントが存在しなければ{ADMIN}スコープで作成する。
// 作成した場合はtrueを返す。
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	existing, err := s.appusers.FindByUsername(ctx, username)
	if err != nil {
		return false, fmt.Errorf("管理者アカウントの確認に失敗しました: %w", err)
	}
	if existing != nil {
		if !existing.Scopes.Has(model.ScopeAdmin) {
			slog.Warn("管理者として指定されたusernameはADMINスコープを持っていません",
				slog.String("appuser_id", existing.ID),
			)
		}
		return false, nil
	}

	if _, err := s.create(ctx, username, password, model.NewScopeSet(model.ScopeAdmin)); err != nil {
		if model.HasCode(err, model.ErrCodeUsernameConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < minUsernameLength || n > maxUsernameLength {
		return model.NewValidationError(fmt.Sprintf("usernameは%d〜%d文字で指定してください", minUsernameLength, maxUsernameLength))
	}
	return nil
}

func validatePassword(password string) error {
	n := len(password)
	if n < minPasswordBytes || n > maxPasswordBytes {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d〜%dバイトで指定してください", minPasswordBytes, maxPasswordBytes))
	}
	return nil
}
