// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/taskdesk/internal/model"
	"github.com/hitoshi/taskdesk/internal/repository"
)

// UserStore は退会処理に必要なユーザーリポジトリの部分集合。
type UserStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	DeleteWithOwnedData(ctx context.Context, id string) error
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo UserStore
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo UserStore) *Service {
	return &Service{userRepo: userRepo}
}

// Withdraw はユーザーの退会処理を実行する。
// todos、tasks、userを同一トランザクションで削除し、途中で失敗した場合は何も削除しない。
// 退会後は発行済みトークンも認証ミドルウェアのユーザー再取得で拒否される。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	// 1. ユーザー存在確認
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 2. ユーザーと所有データの削除
	if err := s.userRepo.DeleteWithOwnedData(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}

var _ UserStore = (repository.UserRepository)(nil)
