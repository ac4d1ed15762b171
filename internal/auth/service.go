// Package auth はローカル認証、OAuth認証、パスワードリセットを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/taskdesk/internal/mail"
	"github.com/hitoshi/taskdesk/internal/metrics"
	"github.com/hitoshi/taskdesk/internal/model"
	"github.com/hitoshi/taskdesk/internal/password"
	"github.com/hitoshi/taskdesk/internal/repository"
	"github.com/hitoshi/taskdesk/internal/security"
	"github.com/hitoshi/taskdesk/internal/token"
)

// デフォルトのリセットトークン有効期間
const defaultResetTokenTTL = time.Hour

// デフォルトのメール送信タイムアウト
const defaultMailTimeout = 30 * time.Second

// 未登録メールアドレスでのログイン時に照合するダミーの平文。
// ユーザーの有無で応答時間が変わらないようにする。
const dummyPassword = "taskdesk-dummy-password"

// TokenIssuer はアクセストークンの発行インターフェース。
type TokenIssuer interface {
	Issue(user *model.User) (*token.Token, error)
}

// AuthResult は認証成功時の結果を表す。
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// RegisterInput はユーザー登録の入力値。
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	ResetTokenTTL time.Duration    // リセットトークン有効期間（デフォルト: 1時間）
	FrontendURL   string           // リセットリンクの生成に使用するフロントエンドのURL
	MailTimeout   time.Duration    // リセットメール1通あたりの送信タイムアウト（デフォルト: 30秒）
	Now           func() time.Time // テスト用の時刻関数（デフォルト: time.Now）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users   repository.UserRepository
	hasher  password.Hasher
	issuer  TokenIssuer
	oauth   OAuthProvider // nilの場合はOAuthログイン無効
	mailer  mail.Mailer
	metrics metrics.MetricsCollector
	config  ServiceConfig

	dummyOnce sync.Once
	dummyHash string

	// 送信中のリセットメール
	mailWG sync.WaitGroup
}

// NewService はServiceを生成する。
// oauthにnilを渡した場合、OAuthログインは無効となる。
func NewService(
	users repository.UserRepository,
	hasher password.Hasher,
	issuer TokenIssuer,
	oauth OAuthProvider,
	mailer mail.Mailer,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if config.ResetTokenTTL <= 0 {
		config.ResetTokenTTL = defaultResetTokenTTL
	}
	if config.MailTimeout <= 0 {
		config.MailTimeout = defaultMailTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	config.FrontendURL = strings.TrimRight(config.FrontendURL, "/")
	if collector == nil {
		collector = metrics.Nop{}
	}
	if mailer == nil {
		mailer = mail.NewLogMailer(slog.Default())
	}
	return &Service{
		users:   users,
		hasher:  hasher,
		issuer:  issuer,
		oauth:   oauth,
		mailer:  mailer,
		metrics: collector,
		config:  config,
	}
}

// Register はローカル認証のユーザーを登録し、アクセストークンを発行する。
func (s *Service) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	// 1. 入力値の正規化と検証
	email := normalizeEmail(input.Email)
	displayName := strings.TrimSpace(security.PlainText(input.DisplayName))

	verrs := model.ValidationErrors{}
	validateEmail(verrs, email)
	validatePassword(verrs, "password", input.Password)
	validateDisplayName(verrs, displayName)
	if err := verrs.Err(); err != nil {
		return nil, err
	}

	// 2. メールアドレスの重複確認
	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailAlreadyRegisteredError()
	}

	// 3. パスワードのハッシュ化（平文を変更する経路でのみ実行する）
	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	// 4. ユーザーの作成
	now := s.config.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: &hash,
		DisplayName:  displayName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		// 重複確認と作成の間に同じメールアドレスが登録された場合
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailAlreadyRegisteredError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.metrics.RecordRegistration()
	slog.Info("user registered", slog.String("user_id", user.ID))

	// 5. アクセストークンの発行
	return s.issue(user)
}

// Login はメールアドレスとパスワードでローカル認証を行う。
// 未登録、パスワード未設定（OAuthのみ）、パスワード不一致はすべて同一のエラーを返す。
func (s *Service) Login(ctx context.Context, email, plaintext string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || plaintext == "" {
		verrs := model.ValidationErrors{}
		if email == "" {
			verrs.Add("email", "メールアドレスを入力してください。")
		}
		if plaintext == "" {
			verrs.Add("password", "パスワードを入力してください。")
		}
		return nil, verrs.Err()
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		s.metrics.RecordLogin(metrics.ResultError)
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	if user == nil || !user.HasPassword() {
		// ユーザーの有無が応答時間に出ないよう、ダミーハッシュと照合する
		s.hasher.Verify(plaintext, s.dummy())
		s.metrics.RecordLogin(metrics.ResultFailure)
		return nil, model.NewInvalidCredentialsError()
	}

	if !s.hasher.Verify(plaintext, *user.PasswordHash) {
		s.metrics.RecordLogin(metrics.ResultFailure)
		slog.Info("login failed", slog.String("user_id", user.ID))
		return nil, model.NewInvalidCredentialsError()
	}

	s.metrics.RecordLogin(metrics.ResultSuccess)
	slog.Info("user logged in", slog.String("user_id", user.ID), slog.String("method", "password"))
	return s.issue(user)
}

// CurrentUser は指定IDのユーザーを取得する。削除済みの場合は未認証エラーを返す。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}

// issue はユーザーに対するアクセストークンを発行する。
func (s *Service) issue(user *model.User) (*AuthResult, error) {
	tok, err := s.issuer.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &AuthResult{
		Token:     tok.Value,
		ExpiresAt: tok.ExpiresAt,
		User:      user,
	}, nil
}

// dummy はタイミング均一化用のダミーハッシュを返す。初回呼び出し時に生成する。
func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			slog.Error("failed to generate dummy hash", slog.String("error", err.Error()))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}
