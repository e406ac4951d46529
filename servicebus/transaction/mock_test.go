//go:build unit

package transaction

import (
	"context"
	"sync"

	"github.com/LerianStudio/lib-servicebus/servicebus/transport"
)

// txCall records one primitive submitted to the mock transaction context.
type txCall struct {
	op          string
	sender      transport.Sender
	receiver    transport.Receiver
	sendable    transport.Sendable
	info        transport.DeliveryInfo
	rejectError *transport.Error
	modified    transport.Modified
}

// mockTxContext is a programmable transport.TxContext that records every
// primitive it receives.
type mockTxContext struct {
	mu    sync.Mutex
	calls []txCall

	postOutcome transport.Outcome
	postErr     error
	waitOutcome transport.Outcome
	waitErr     error
	acceptErr   error
	rejectErr   error
	modifyErr   error
	commitErr   error
	rollbackErr error
}

func newMockTxContext() *mockTxContext {
	return &mockTxContext{
		postOutcome: transport.Accepted{},
		waitOutcome: transport.Accepted{},
	}
}

func (m *mockTxContext) record(call txCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockTxContext) recorded() []txCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]txCall(nil), m.calls...)
}

func (m *mockTxContext) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *mockTxContext) Post(_ context.Context, sender transport.Sender, sendable transport.Sendable) (transport.Outcome, error) {
	m.record(txCall{op: "post", sender: sender, sendable: sendable})

	if m.postErr != nil {
		return nil, m.postErr
	}

	return m.postOutcome, nil
}

func (m *mockTxContext) PostBatchable(_ context.Context, sender transport.Sender, sendable transport.Sendable) (transport.OutcomeWaiter, error) {
	m.record(txCall{op: "post_batchable", sender: sender, sendable: sendable})

	if m.postErr != nil {
		return nil, m.postErr
	}

	return func(context.Context) (transport.Outcome, error) {
		m.record(txCall{op: "await_batch"})

		if m.waitErr != nil {
			return nil, m.waitErr
		}

		return m.waitOutcome, nil
	}, nil
}

func (m *mockTxContext) Accept(_ context.Context, receiver transport.Receiver, info transport.DeliveryInfo) error {
	m.record(txCall{op: "accept", receiver: receiver, info: info})

	return m.acceptErr
}

func (m *mockTxContext) Reject(_ context.Context, receiver transport.Receiver, info transport.DeliveryInfo, rejectError *transport.Error) error {
	m.record(txCall{op: "reject", receiver: receiver, info: info, rejectError: rejectError})

	return m.rejectErr
}

func (m *mockTxContext) Modify(_ context.Context, receiver transport.Receiver, info transport.DeliveryInfo, modified transport.Modified) error {
	m.record(txCall{op: "modify", receiver: receiver, info: info, modified: modified})

	return m.modifyErr
}

func (m *mockTxContext) Commit(context.Context) error {
	m.record(txCall{op: "commit"})

	return m.commitErr
}

func (m *mockTxContext) Rollback(context.Context) error {
	m.record(txCall{op: "rollback"})

	return m.rollbackErr
}

// testSender is a minimal transport.Sender double.
type testSender struct {
	name string
}

func (s *testSender) LinkName() string { return s.name }

// testReceiver is a minimal transport.Receiver double.
type testReceiver struct {
	name    string
	session string
}

func (r *testReceiver) LinkName() string  { return r.name }
func (r *testReceiver) SessionID() string { return r.session }
