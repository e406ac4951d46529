// Package rabbitmq binds the transaction coordinator to RabbitMQ through
// github.com/rabbitmq/amqp091-go.
//
// A channel placed in transaction mode (tx.select) backs one
// transport.TxContext: publishes and acknowledgements enlisted on the
// channel are applied atomically by tx.commit and discarded by tx.rollback.
// Dispositions map onto basic.ack / basic.nack / basic.reject; rejected
// messages reach the dead-letter sub-queue through the queue's dead-letter
// exchange.
//
// The 0.9.1 protocol has no per-transfer disposition frame inside a
// transaction, so a successful publish is reported as an Accepted outcome
// and broker-side failures surface at commit. Message annotations carried by
// modified dispositions cannot travel on the wire and are logged instead.
package rabbitmq
