package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hitoshi/taskdesk/internal/metrics"
	"github.com/hitoshi/taskdesk/internal/model"
)

// リセットトークンのバイト長（hexエンコード後は64文字）
const resetTokenBytes = 32

const resetMailSubject = "パスワードリセットのご案内"

// RequestPasswordReset はパスワードリセットを申請する。
// ユーザーの存在有無に関わらずnilを返し、登録済みの場合のみリセットリンクをメール送信する。
// メール送信はリクエストとは別のgoroutineで行い、応答時間に送信時間を含めない。
// 送信の失敗はログとメトリクスに記録し、呼び出し元には返さない。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	verrs := model.ValidationErrors{}
	validateEmail(verrs, email)
	if err := verrs.Err(); err != nil {
		return err
	}

	s.metrics.RecordPasswordResetRequest()

	// 1. ユーザーの検索（未登録でも同じ応答を返す）
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		slog.Debug("password reset requested for unknown email")
		return nil
	}

	// 2. トークンの生成と保存（既存のトークンは上書きされ、常に最新の1件のみ有効）
	resetToken, err := generateResetToken()
	if err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}
	expiresAt := s.config.Now().Add(s.config.ResetTokenTTL)
	if err := s.users.SetResetToken(ctx, user.ID, resetToken, expiresAt); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}

	// 3. リセットリンクのメール送信（完了を待たない）
	s.dispatchResetMail(ctx, user.ID, user.Email, s.resetMailBody(resetToken))
	return nil
}

// dispatchResetMail はリセットメールをバックグラウンドで送信する。
// リクエストのキャンセルは引き継がず、MailTimeoutで送信時間を打ち切る。
func (s *Service) dispatchResetMail(ctx context.Context, userID, to, body string) {
	mailCtx := context.WithoutCancel(ctx)

	s.mailWG.Add(1)
	go func() {
		defer s.mailWG.Done()

		sendCtx, cancel := context.WithTimeout(mailCtx, s.config.MailTimeout)
		defer cancel()

		if err := s.mailer.Send(sendCtx, to, resetMailSubject, body); err != nil {
			s.metrics.RecordMailFailure()
			slog.Error("failed to send password reset mail",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			return
		}
		slog.Info("password reset mail sent", slog.String("user_id", userID))
	}()
}

// Wait は送信中のリセットメールがすべて終わるまで待機する。
// シャットダウン時に呼び出す。
func (s *Service) Wait() {
	s.mailWG.Wait()
}

// ResetPassword はリセットトークンを検証し、新しいパスワードを設定する。
// トークンの不一致と期限切れは同一のエラーを返す。
// パスワードの更新とトークンのクリアは単一の条件付きUPDATEで行い、並行した消費は片方のみ成功する。
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	resetToken = strings.TrimSpace(resetToken)
	verrs := model.ValidationErrors{}
	if resetToken == "" {
		verrs.Add("token", "リセットトークンを指定してください。")
	}
	validatePassword(verrs, "newPassword", newPassword)
	if err := verrs.Err(); err != nil {
		return err
	}

	now := s.config.Now()

	// 1. 有効期限内のトークンを持つユーザーを検索
	user, err := s.users.FindByResetToken(ctx, resetToken, now)
	if err != nil {
		s.metrics.RecordPasswordReset(metrics.ResultError)
		return fmt.Errorf("failed to find user by reset token: %w", err)
	}
	if user == nil {
		s.metrics.RecordPasswordReset(metrics.ResultFailure)
		return model.NewInvalidResetTokenError()
	}

	// 2. 新しいパスワードのハッシュ化
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.metrics.RecordPasswordReset(metrics.ResultError)
		return fmt.Errorf("failed to hash password: %w", err)
	}

	// 3. パスワード更新とトークンのクリアを同時に実行
	consumed, err := s.users.ConsumeResetToken(ctx, user.ID, resetToken, hash, now)
	if err != nil {
		s.metrics.RecordPasswordReset(metrics.ResultError)
		return fmt.Errorf("failed to reset password: %w", err)
	}
	if !consumed {
		s.metrics.RecordPasswordReset(metrics.ResultFailure)
		return model.NewInvalidResetTokenError()
	}

	s.metrics.RecordPasswordReset(metrics.ResultSuccess)
	slog.Info("password reset completed", slog.String("user_id", user.ID))
	return nil
}

// resetMailBody はリセットリンクを含むメール本文を生成する。
func (s *Service) resetMailBody(resetToken string) string {
	link := s.config.FrontendURL + "/reset-password?token=" + url.QueryEscape(resetToken)
	return "パスワードリセットの申請を受け付けました。\n\n" +
		"以下のリンクから新しいパスワードを設定してください。\n" +
		link + "\n\n" +
		fmt.Sprintf("このリンクの有効期限は%sです。心当たりがない場合はこのメールを破棄してください。\n",
			formatTTL(s.config.ResetTokenTTL.Minutes()))
}

// formatTTL は有効期間（分）を表示用の文字列にする。
func formatTTL(minutes float64) string {
	if minutes >= 60 && int(minutes)%60 == 0 {
		return fmt.Sprintf("%d時間", int(minutes)/60)
	}
	return fmt.Sprintf("%d分", int(minutes))
}

// generateResetToken は暗号的に安全なリセットトークンを生成する。
func generateResetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
