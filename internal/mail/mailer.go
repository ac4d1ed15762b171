// Package mail はメール送信の抽象化と実装を提供する。
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// デフォルトのSMTP通信タイムアウト
const defaultSMTPTimeout = 15 * time.Second

// Mailer はメール送信のインターフェース。
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig はSMTP送信の設定。
type SMTPConfig struct {
	Server   string // host:port
	User     string
	Password string
	From     string        // 空の場合はUserを使用
	Timeout  time.Duration // 接続から送信完了までの上限（デフォルト: 15秒）
}

// sendMailFunc はSMTPトランザクションを実行する関数。テストで差し替える。
type sendMailFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer はSMTPでメールを送信するMailer。
type SMTPMailer struct {
	config   SMTPConfig
	host     string
	sendMail sendMailFunc
}

// NewSMTPMailer はSMTPMailerを生成する。
// Serverがhost:port形式でない場合はエラーを返す。
func NewSMTPMailer(config SMTPConfig) (*SMTPMailer, error) {
	host, _, err := net.SplitHostPort(config.Server)
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP server address (expected host:port): %w", err)
	}
	if config.From == "" {
		config.From = config.User
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultSMTPTimeout
	}
	m := &SMTPMailer{
		config: config,
		host:   host,
	}
	m.sendMail = m.dialAndSend
	return m, nil
}

// Send はプレーンテキストのメールを送信する。
// 接続と送受信はTimeoutとctxの期限のうち早い方で打ち切る。
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("mail header contains line break")
	}

	var auth smtp.Auth
	if m.config.User != "" {
		auth = smtp.PlainAuth("", m.config.User, m.config.Password, m.host)
	}

	msg := []byte("From: " + m.config.From + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
		body + "\r\n")

	if err := m.sendMail(ctx, m.config.Server, auth, m.config.From, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send mail via %s: %w", m.host, err)
	}
	return nil
}

// dialAndSend は期限付きの接続上でSMTPトランザクションを実行する。
// smtp.SendMailは接続・応答待ちに期限を設けられないため、net.Dialerとsmtp.NewClientで組み立てる。
func (m *SMTPMailer) dialAndSend(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	deadline := time.Now().Add(m.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := &net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return err
	}

	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp: server doesn't support AUTH")
		}
		if err := c.Auth(a); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// LogMailer はメールを送信せずログに出力するMailer。
// SMTPが未設定のローカル開発環境で使用する。
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer はLogMailerを生成する。
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// Send はメールの宛先と件名をログに出力する。
// 本文にはリセットリンクが含まれるため、DEBUGレベルでのみ出力する。
func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	m.logger.InfoContext(ctx, "mail not sent (SMTP is not configured)",
		slog.String("to", to),
		slog.String("subject", subject),
	)
	m.logger.DebugContext(ctx, "unsent mail body",
		slog.String("to", to),
		slog.String("body", body),
	)
	return nil
}

// compile-time interface check
var (
	_ Mailer = (*SMTPMailer)(nil)
	_ Mailer = (*LogMailer)(nil)
)
