package mail

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/weiwangfds/medcap/config"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (r *recordingSender) Send(msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return r.err
}

func TestNotify(t *testing.T) {
	rec := &recordingSender{}
	svc := NewMailServiceWithSender(rec, "admin@example.com")

	svc.Notify(WelcomeMessage("a@example.com", "Asha"))
	svc.NotifyAdmin("New issue", IssueSubmittedBody("AB12CD", "a@example.com", "printer jam"))
	svc.Notify(Message{Subject: "no recipient"})
	svc.Wait()

	assert.Len(t, rec.sent, 2)
}

func TestNotifyFailureDoesNotPropagate(t *testing.T) {
	rec := &recordingSender{err: errors.New("smtp down")}
	svc := NewMailServiceWithSender(rec, "")

	svc.Notify(ApprovalMessage("a@example.com", "Asha", "http://localhost"))
	svc.NotifyAdmin("ignored", "no admin configured")
	svc.Wait()

	assert.Len(t, rec.sent, 1)
}

func TestDisabledMailUsesLogSender(t *testing.T) {
	svc := NewMailService(config.MailConfig{Enabled: false})
	svc.Notify(WelcomeMessage("a@example.com", "Asha"))
	svc.Wait()
}
