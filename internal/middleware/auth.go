// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/taskdesk/internal/model"
	"github.com/hitoshi/taskdesk/internal/token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに認証済みユーザー情報を格納するためのキー。
var identityContextKey = contextKey("identity")

// Identity は認証済みリクエストのユーザー情報。
// トークンの検証後にユーザーを再取得した結果であり、トークン内のメールアドレスは使わない。
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
}

// TokenVerifier はアクセストークンの検証に必要なインターフェース。
type TokenVerifier interface {
	Parse(raw string) (*token.Claims, error)
}

// UserFinder はユーザーの検索に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// 認証済みユーザー情報をリクエストコンテキストに注入するミドルウェアを返す。
// ヘッダー欠落・形式不正・署名不正・期限切れ・削除済みユーザーはすべて同じ401応答とする。
func NewAuthMiddleware(verifier TokenVerifier, users UserFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Bearerトークンの取得
			raw, ok := bearerToken(r)
			if !ok {
				writeUnauthorized(w)
				return
			}

			// 2. 署名・有効期限の検証
			claims, err := verifier.Parse(raw)
			if err != nil {
				slog.Debug("bearer token rejected", slog.String("reason", err.Error()))
				writeUnauthorized(w)
				return
			}

			// 3. ユーザーの再取得（削除済みユーザーのトークンを拒否する）
			user, err := users.FindByID(r.Context(), claims.UserID)
			if err != nil {
				slog.Error("failed to find user for token",
					slog.String("user_id", claims.UserID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if user == nil {
				writeUnauthorized(w)
				return
			}

			// 4. 認証済みユーザー情報をコンテキストに注入
			ctx := ContextWithIdentity(r.Context(), Identity{
				UserID:      user.ID,
				Email:       user.Email,
				DisplayName: user.DisplayName,
			})
			setLogUserID(ctx, user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	scheme, raw, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="taskdesk"`)
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
}

// IdentityFromContext はリクエストコンテキストから認証済みユーザー情報を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("user ID not found in context")
	}
	return id.UserID, nil
}

// ContextWithIdentity はコンテキストに認証済みユーザー情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}
