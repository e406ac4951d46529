//go:build unit

package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/LerianStudio/lib-servicebus/servicebus/pointers"
	"github.com/LerianStudio/lib-servicebus/servicebus/transport"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type channelCall struct {
	op         string
	exchange   string
	routingKey string
	body       []byte
	tag        uint64
	multiple   bool
	requeue    bool
}

// mockTxChannel is a programmable TxChannel that records every call.
type mockTxChannel struct {
	mu    sync.Mutex
	calls []channelCall

	txErr       error
	publishErr  error
	ackErr      error
	nackErr     error
	rejectErr   error
	commitErr   error
	rollbackErr error
	closeErr    error

	published []amqp.Publishing
}

func (m *mockTxChannel) record(call channelCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockTxChannel) recorded() []channelCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]channelCall(nil), m.calls...)
}

func (m *mockTxChannel) Tx() error {
	m.record(channelCall{op: "tx"})

	return m.txErr
}

func (m *mockTxChannel) TxCommit() error {
	m.record(channelCall{op: "tx_commit"})

	return m.commitErr
}

func (m *mockTxChannel) TxRollback() error {
	m.record(channelCall{op: "tx_rollback"})

	return m.rollbackErr
}

func (m *mockTxChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	m.record(channelCall{op: "publish", exchange: exchange, routingKey: key, body: msg.Body})

	m.mu.Lock()
	m.published = append(m.published, msg)
	m.mu.Unlock()

	return m.publishErr
}

func (m *mockTxChannel) Ack(tag uint64, multiple bool) error {
	m.record(channelCall{op: "ack", tag: tag, multiple: multiple})

	return m.ackErr
}

func (m *mockTxChannel) Nack(tag uint64, multiple, requeue bool) error {
	m.record(channelCall{op: "nack", tag: tag, multiple: multiple, requeue: requeue})

	return m.nackErr
}

func (m *mockTxChannel) Reject(tag uint64, requeue bool) error {
	m.record(channelCall{op: "reject", tag: tag, requeue: requeue})

	return m.rejectErr
}

func (m *mockTxChannel) Close() error {
	m.record(channelCall{op: "close"})

	return m.closeErr
}

func beginTestTx(t *testing.T, ch *mockTxChannel, opts ...TxContextOption) *TxContext {
	t.Helper()

	txc, err := Begin(context.Background(), ch, opts...)
	require.NoError(t, err)

	return txc
}

func TestBegin(t *testing.T) {
	t.Parallel()

	t.Run("nil channel", func(t *testing.T) {
		t.Parallel()

		_, err := Begin(context.Background(), nil)
		assert.ErrorIs(t, err, ErrChannelRequired)

		var typedNil *mockTxChannel

		_, err = Begin(context.Background(), typedNil)
		assert.ErrorIs(t, err, ErrChannelRequired)
	})

	t.Run("tx.select refused", func(t *testing.T) {
		t.Parallel()

		ch := &mockTxChannel{txErr: errors.New("access refused")}

		_, err := Begin(context.Background(), ch)
		assert.ErrorIs(t, err, ErrTxModeUnavailable)
		assert.ErrorContains(t, err, "access refused")
	})

	t.Run("places channel in transaction mode", func(t *testing.T) {
		t.Parallel()

		ch := &mockTxChannel{}
		txc := beginTestTx(t, ch)

		require.NotNil(t, txc)

		calls := ch.recorded()
		require.Len(t, calls, 1)
		assert.Equal(t, "tx", calls[0].op)
	})
}

func TestTxContextPost(t *testing.T) {
	t.Parallel()

	t.Run("publishes payload and reports accepted", func(t *testing.T) {
		t.Parallel()

		ch := &mockTxChannel{}
		txc := beginTestTx(t, ch)
		sender := &Sender{Exchange: "orders", RoutingKey: "created"}

		outcome, err := txc.Post(context.Background(), sender, transport.Sendable{Payloads: [][]byte{[]byte("one")}})
		require.NoError(t, err)
		assert.Equal(t, transport.Accepted{}, outcome)

		calls := ch.recorded()
		require.Len(t, calls, 2)
		assert.Equal(t, "publish", calls[1].op)
		assert.Equal(t, "orders", calls[1].exchange)
		assert.Equal(t, "created", calls[1].routingKey)
		assert.Equal(t, []byte("one"), calls[1].body)

		require.Len(t, ch.published, 1)
		assert.Equal(t, "application/json", ch.published[0].ContentType)
		assert.Equal(t, uint8(amqp.Persistent), ch.published[0].DeliveryMode)
	})

	t.Run("custom content type", func(t *testing.T) {
		t.Parallel()

		ch := &mockTxChannel{}
		txc := beginTestTx(t, ch, WithContentType("application/octet-stream"))

		_, err := txc.Post(context.Background(), &Sender{RoutingKey: "q"}, transport.Sendable{Payloads: [][]byte{{0x01}}})
		require.NoError(t, err)

		require.Len(t, ch.published, 1)
		assert.Equal(t, "application/octet-stream", ch.published[0].ContentType)
	})

	t.Run("publish failure is a link state error", func(t *testing.T) {
		t.Parallel()

		ch := &mockTxChannel{publishErr: errors.New("channel closed")}
		txc := beginTestTx(t, ch)

		_, err := txc.Post(context.Background(), &Sender{Exchange: "orders", RoutingKey: "created"}, transport.Sendable{Payloads: [][]byte{[]byte("one")}})

		var linkErr *transport.LinkStateError

		require.ErrorAs(t, err, &linkErr)
		assert.Equal(t, "orders/created", linkErr.LinkName)
		assert.ErrorContains(t, err, "channel closed")
	})

	t.Run("foreign sender type", func(t *testing.T) {
		t.Parallel()

		ch := &mockTxChannel{}
		txc := beginTestTx(t, ch)

		_, err := txc.Post(context.Background(), foreignSender{}, transport.Sendable{Payloads: [][]byte{[]byte("one")}})
		assert.ErrorContains(t, err, "*rabbitmq.Sender")
	})
}

type foreignSender struct{}

func (foreignSender) LinkName() string { return "foreign" }

func TestTxContextPostBatchable(t *testing.T) {
	t.Parallel()

	t.Run("publishes every payload up front", func(t *testing.T) {
		t.Parallel()

		ch := &mockTxChannel{}
		txc := beginTestTx(t, ch)
		sendable := transport.Sendable{
			Payloads: [][]byte{[]byte("one"), []byte("two")},
			Format:   transport.MessageFormatBatch,
		}

		wait, err := txc.PostBatchable(context.Background(), &Sender{RoutingKey: "q"}, sendable)
		require.NoError(t, err)

		publishes := 0
		for _, call := range ch.recorded() {
			if call.op == "publish" {
				publishes++
			}
		}

		assert.Equal(t, 2, publishes)

		outcome, err := wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, transport.Accepted{}, outcome)
	})

	t.Run("waiter honors context cancellation", func(t *testing.T) {
		t.Parallel()

		ch := &mockTxChannel{}
		txc := beginTestTx(t, ch)

		wait, err := txc.PostBatchable(context.Background(), &Sender{RoutingKey: "q"}, transport.Sendable{Payloads: [][]byte{[]byte("one")}})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err = wait(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestTxContextDispositions(t *testing.T) {
	t.Parallel()

	receiver := &Receiver{Queue: "orders"}
	info := transport.DeliveryInfo{DeliveryTag: 7, LinkName: "orders"}

	t.Run("accept acks the delivery", func(t *testing.T) {
		t.Parallel()

		ch := &mockTxChannel{}
		txc := beginTestTx(t, ch)

		require.NoError(t, txc.Accept(context.Background(), receiver, info))

		calls := ch.recorded()
		require.Len(t, calls, 2)
		assert.Equal(t, "ack", calls[1].op)
		assert.Equal(t, uint64(7), calls[1].tag)
		assert.False(t, calls[1].multiple)
	})

	t.Run("reject dead-letters without requeue", func(t *testing.T) {
		t.Parallel()

		ch := &mockTxChannel{}
		txc := beginTestTx(t, ch)
		rejectError := &transport.Error{Condition: "com.microsoft:dead-letter", Description: "bad payload"}

		require.NoError(t, txc.Reject(context.Background(), receiver, info, rejectError))

		calls := ch.recorded()
		require.Len(t, calls, 2)
		assert.Equal(t, "reject", calls[1].op)
		assert.Equal(t, uint64(7), calls[1].tag)
		assert.False(t, calls[1].requeue)
	})

	t.Run("modify requeues unless undeliverable here", func(t *testing.T) {
		t.Parallel()

		cases := []struct {
			name              string
			undeliverableHere *bool
			wantRequeue       bool
		}{
			{"unset requeues", nil, true},
			{"false requeues", pointers.Bool(false), true},
			{"true drops from this link", pointers.Bool(true), false},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()

				ch := &mockTxChannel{}
				txc := beginTestTx(t, ch)
				modified := transport.Modified{UndeliverableHere: tc.undeliverableHere}

				require.NoError(t, txc.Modify(context.Background(), receiver, info, modified))

				calls := ch.recorded()
				require.Len(t, calls, 2)
				assert.Equal(t, "nack", calls[1].op)
				assert.Equal(t, tc.wantRequeue, calls[1].requeue)
			})
		}
	})

	t.Run("disposition failure is a link state error", func(t *testing.T) {
		t.Parallel()

		ch := &mockTxChannel{ackErr: errors.New("unknown delivery tag")}
		txc := beginTestTx(t, ch)

		err := txc.Accept(context.Background(), receiver, info)

		var linkErr *transport.LinkStateError

		require.ErrorAs(t, err, &linkErr)
		assert.Equal(t, "orders", linkErr.LinkName)
	})
}

func TestTxContextDischarge(t *testing.T) {
	t.Parallel()

	t.Run("commit is effective once", func(t *testing.T) {
		t.Parallel()

		ch := &mockTxChannel{}
		txc := beginTestTx(t, ch)

		require.NoError(t, txc.Commit(context.Background()))

		assert.ErrorIs(t, txc.Commit(context.Background()), ErrTxDischarged)
		assert.ErrorIs(t, txc.Rollback(context.Background()), ErrTxDischarged)

		commits := 0
		for _, call := range ch.recorded() {
			if call.op == "tx_commit" {
				commits++
			}
		}

		assert.Equal(t, 1, commits)
	})

	t.Run("rollback is effective once", func(t *testing.T) {
		t.Parallel()

		ch := &mockTxChannel{}
		txc := beginTestTx(t, ch)

		require.NoError(t, txc.Rollback(context.Background()))
		assert.ErrorIs(t, txc.Rollback(context.Background()), ErrTxDischarged)
	})

	t.Run("operations after discharge fail without reaching the channel", func(t *testing.T) {
		t.Parallel()

		ch := &mockTxChannel{}
		txc := beginTestTx(t, ch)

		require.NoError(t, txc.Commit(context.Background()))
		before := len(ch.recorded())

		_, err := txc.Post(context.Background(), &Sender{RoutingKey: "q"}, transport.Sendable{Payloads: [][]byte{[]byte("one")}})
		assert.ErrorIs(t, err, ErrTxDischarged)
		assert.ErrorIs(t, txc.Accept(context.Background(), &Receiver{Queue: "orders"}, transport.DeliveryInfo{DeliveryTag: 1}), ErrTxDischarged)
		assert.Len(t, ch.recorded(), before)
	})

	t.Run("commit failure is wrapped and final", func(t *testing.T) {
		t.Parallel()

		ch := &mockTxChannel{commitErr: errors.New("connection lost")}
		txc := beginTestTx(t, ch)

		err := txc.Commit(context.Background())
		require.Error(t, err)
		assert.ErrorContains(t, err, "rabbitmq tx commit")

		assert.ErrorIs(t, txc.Rollback(context.Background()), ErrTxDischarged)
	})
}

func TestSenderLinkName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "orders/created", (&Sender{Exchange: "orders", RoutingKey: "created"}).LinkName())
	assert.Equal(t, "created", (&Sender{RoutingKey: "created"}).LinkName())
}

func TestReceiverIdentity(t *testing.T) {
	t.Parallel()

	receiver := &Receiver{Queue: "orders", Session: "session-42"}

	assert.Equal(t, "orders", receiver.LinkName())
	assert.Equal(t, "session-42", receiver.SessionID())
}
