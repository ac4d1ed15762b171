package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/taskdesk/internal/metrics"
	"github.com/hitoshi/taskdesk/internal/model"
	"github.com/hitoshi/taskdesk/internal/repository"
	"github.com/hitoshi/taskdesk/internal/security"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	PictureURL     string
	Provider       string // "google"
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// OAuthEnabled はOAuthログインが設定されているかを返す。
func (s *Service) OAuthEnabled() bool {
	return s.oauth != nil
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) (string, error) {
	if s.oauth == nil {
		return "", model.NewOAuthDisabledError()
	}
	return s.oauth.GetLoginURL(state), nil
}

// HandleOAuthCallback は認可コードからユーザーを解決し、アクセストークンを発行する。
// プロバイダーとの通信は1回ずつ行い、失敗時は再試行しない。
func (s *Service) HandleOAuthCallback(ctx context.Context, code string) (*AuthResult, error) {
	if s.oauth == nil {
		return nil, model.NewOAuthDisabledError()
	}

	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.metrics.RecordOAuthLogin(metrics.ResultError)
		slog.Error("oauth code exchange failed", slog.String("error", err.Error()))
		return nil, model.NewOAuthFailedError()
	}

	// 2. ユーザーの解決（検索・紐付け・作成）
	user, err := s.ResolveOAuthUser(ctx, info)
	if err != nil {
		s.metrics.RecordOAuthLogin(metrics.ResultFailure)
		return nil, err
	}

	s.metrics.RecordOAuthLogin(metrics.ResultSuccess)

	// 3. アクセストークンの発行
	return s.issue(user)
}

// ResolveOAuthUser はプロバイダーのユーザー情報からユーザーを解決する。
//  1. プロバイダーIDで検索し、見つかればそのユーザーを返す
//  2. メールアドレスで検索し、見つかればプロバイダーIDを紐付けて返す
//  3. どちらもなければパスワードなしのユーザーを作成する
//
// 作成時にメールアドレスの一意制約で競合した場合は、メールアドレスでの検索と紐付けを1回だけ再試行する。
func (s *Service) ResolveOAuthUser(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	if info == nil || strings.TrimSpace(info.ProviderUserID) == "" {
		return nil, model.NewOAuthFailedError()
	}
	email := normalizeEmail(info.Email)
	if email == "" {
		return nil, model.NewOAuthEmailMissingError()
	}
	name := strings.TrimSpace(security.PlainText(info.Name))
	if name == "" {
		name = email[:strings.IndexByte(email+"@", '@')]
	}
	var picture *string
	if info.PictureURL != "" {
		picture = &info.PictureURL
	}

	// 1. プロバイダーIDで検索
	user, err := s.users.FindByGoogleID(ctx, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by google ID: %w", err)
	}
	if user != nil {
		s.refreshProfile(ctx, user, name, picture)
		slog.Info("user logged in", slog.String("user_id", user.ID), slog.String("method", info.Provider))
		return user, nil
	}

	// 2. メールアドレスで検索し、既存アカウントに紐付け
	user, err = s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user != nil {
		return s.linkProvider(ctx, user, info.ProviderUserID, picture)
	}

	// 3. 新規ユーザーの作成
	now := s.config.Now()
	user = &model.User{
		ID:            uuid.New().String(),
		Email:         email,
		DisplayName:   name,
		ProfilePicURL: picture,
		GoogleID:      &info.ProviderUserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = s.users.Create(ctx, user)
	switch {
	case err == nil:
		slog.Info("user created via oauth", slog.String("user_id", user.ID), slog.String("provider", info.Provider))
		return user, nil
	case errors.Is(err, repository.ErrDuplicateGoogleID):
		// 同一アカウントの並行コールバックが先に作成した
		existing, findErr := s.users.FindByGoogleID(ctx, info.ProviderUserID)
		if findErr != nil || existing == nil {
			return nil, fmt.Errorf("failed to resolve concurrently created user: %w", err)
		}
		return existing, nil
	case errors.Is(err, repository.ErrDuplicateEmail):
		// 検索と作成の間に同じメールアドレスで登録された
		existing, findErr := s.users.FindByEmail(ctx, email)
		if findErr != nil || existing == nil {
			return nil, fmt.Errorf("failed to resolve concurrently registered user: %w", err)
		}
		return s.linkProvider(ctx, existing, info.ProviderUserID, picture)
	default:
		return nil, fmt.Errorf("failed to create oauth user: %w", err)
	}
}

// linkProvider は既存ユーザーにプロバイダーIDを紐付ける。パスワードハッシュは変更しない。
// 別のプロバイダーIDが紐付け済みのユーザーは上書きせず認証失敗とする。
func (s *Service) linkProvider(ctx context.Context, user *model.User, providerUserID string, picture *string) (*model.User, error) {
	if user.GoogleID != nil && *user.GoogleID != providerUserID {
		slog.Warn("google account link refused: user is linked to another google account",
			slog.String("user_id", user.ID))
		return nil, model.NewOAuthFailedError()
	}
	if err := s.users.LinkGoogleID(ctx, user.ID, providerUserID, picture); err != nil {
		if errors.Is(err, repository.ErrGoogleIDMismatch) {
			slog.Warn("google account link refused: linked concurrently to another google account",
				slog.String("user_id", user.ID))
			return nil, model.NewOAuthFailedError()
		}
		return nil, fmt.Errorf("failed to link google ID: %w", err)
	}
	user.GoogleID = &providerUserID
	if user.ProfilePicURL == nil {
		user.ProfilePicURL = picture
	}
	slog.Info("google account linked", slog.String("user_id", user.ID))
	return user, nil
}

// refreshProfile はプロバイダー側で変更された表示名・プロフィール画像を反映する。
// 反映に失敗してもログインは継続する。
func (s *Service) refreshProfile(ctx context.Context, user *model.User, name string, picture *string) {
	if picture == nil {
		picture = user.ProfilePicURL
	}
	if user.DisplayName == name && equalStringPtr(user.ProfilePicURL, picture) {
		return
	}
	if err := s.users.UpdateProfile(ctx, user.ID, name, picture); err != nil {
		slog.Warn("failed to refresh profile",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	user.DisplayName = name
	user.ProfilePicURL = picture
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
