// Package mail 发送注册、审批和问题反馈通知邮件
// 发送在后台进行，失败只记录日志，不影响触发操作
package mail

import (
	"fmt"
	"sync"

	"github.com/weiwangfds/medcap/config"
	"github.com/weiwangfds/medcap/internal/logger"
	"gopkg.in/gomail.v2"
)

// Message 待发送的邮件
type Message struct {
	To      string
	Subject string
	Body    string // 纯文本正文
}

// Sender 实际投递邮件的后端
type Sender interface {
	Send(msg Message) error
}

// MailService 邮件通知服务接口
type MailService interface {
	// Notify 异步发送邮件，不返回错误
	Notify(msg Message)

	// NotifyAdmin 向配置的管理员邮箱发送通知，未配置时忽略
	NotifyAdmin(subject, body string)

	// Wait 等待所有已提交的邮件发送完成，用于关闭服务和测试
	Wait()
}

type mailService struct {
	sender     Sender
	adminEmail string
	wg         sync.WaitGroup
}

// NewMailService 创建邮件服务
// 参数:
//   cfg - 邮件配置，Enabled为false时只记录日志不投递
func NewMailService(cfg config.MailConfig) MailService {
	var sender Sender = logSender{}
	if cfg.Enabled {
		sender = NewSMTPSender(cfg)
	}
	return NewMailServiceWithSender(sender, cfg.AdminEmail)
}

// NewMailServiceWithSender 使用指定后端创建邮件服务
func NewMailServiceWithSender(sender Sender, adminEmail string) MailService {
	return &mailService{sender: sender, adminEmail: adminEmail}
}

func (s *mailService) Notify(msg Message) {
	if msg.To == "" {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sender.Send(msg); err != nil {
			logger.WithField("to", msg.To).Errorf("邮件发送失败: %s, 错误: %v", msg.Subject, err)
			return
		}
		logger.WithField("to", msg.To).Infof("邮件已发送: %s", msg.Subject)
	}()
}

func (s *mailService) NotifyAdmin(subject, body string) {
	s.Notify(Message{To: s.adminEmail, Subject: subject, Body: body})
}

func (s *mailService) Wait() {
	s.wg.Wait()
}

// SMTPSender 基于gomail的SMTP投递
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPSender 创建SMTP投递后端
func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   from,
	}
}

// Send 发送一封纯文本邮件
func (s *SMTPSender) Send(msg Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// logSender 邮件未启用时只记录日志
type logSender struct{}

func (logSender) Send(msg Message) error {
	logger.Debugf("邮件未启用, 跳过发送: to=%s subject=%s", msg.To, msg.Subject)
	return nil
}
