package emailsvc

import (
	"context"
	"net/mail"
	"sync"

	"github.com/pkg/errors"

	"github.com/didisacademy/academy/core"
)

var ErrMockSendFailed = errors.New("mock email send failed")

// MockService renders and records messages without sending them. Used in tests.
type MockService struct {
	mu       sync.Mutex
	sent     []core.EmailMessage
	failures map[string]bool // recipient address -> fail
	failAll  bool
}

var _ core.EmailService = (*MockService)(nil)

func NewMockService() *MockService {
	return &MockService{failures: make(map[string]bool)}
}

// FailFor makes every message addressed to addr fail until Recover is called.
func (svc *MockService) FailFor(addr string) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.failures[addr] = true
}

// FailAll makes every message fail until Recover is called.
func (svc *MockService) FailAll() {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.failAll = true
}

func (svc *MockService) Recover() {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.failures = make(map[string]bool)
	svc.failAll = false
}

// SendMessages runs synchronously.
func (svc *MockService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		_ = svc.SendMessage(context.Background(), msg)
	}
}

func (svc *MockService) SendMessage(ctx context.Context, msg *core.EmailMessage) error {
	if err := msg.Render(); err != nil {
		return errors.Wrap(err, "rendering email")
	}
	if !msg.IsSendable() {
		return core.ErrNoRecipients
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.failAll {
		return ErrMockSendFailed
	}
	for _, to := range msg.To {
		if svc.failures[to.Address] {
			return errors.Wrap(ErrMockSendFailed, to.Address)
		}
	}
	svc.sent = append(svc.sent, *msg)
	return nil
}

// Sent returns a copy of the messages sent so far.
func (svc *MockService) Sent() []core.EmailMessage {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]core.EmailMessage(nil), svc.sent...)
}

// SentTo returns the messages sent to addr.
func (svc *MockService) SentTo(addr string) []core.EmailMessage {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	var msgs []core.EmailMessage
	for _, msg := range svc.sent {
		if containsAddress(msg.To, addr) {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func containsAddress(addrs []mail.Address, addr string) bool {
	for _, a := range addrs {
		if a.Address == addr {
			return true
		}
	}
	return false
}
