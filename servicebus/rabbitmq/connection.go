package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/LerianStudio/lib-servicebus/servicebus/backoff"
	"github.com/LerianStudio/lib-servicebus/servicebus/log"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrNilConnection is returned when a method is called on a nil Connection.
var ErrNilConnection = errors.New("rabbitmq connection is nil")

// reconnectBackoffCap is the maximum delay between reconnect attempts.
const reconnectBackoffCap = 30 * time.Second

// reconnectBackoffBase is the starting delay for reconnect rate limiting.
const reconnectBackoffBase = 500 * time.Millisecond

// Connection is a hub which deals with one rabbitmq connection and the
// channel transactional contexts are begun on.
type Connection struct {
	mu                     sync.Mutex // protects connection and channel operations
	ConnectionStringSource string     `json:"-"`
	Connection             *amqp.Connection
	Channel                *amqp.Channel
	Logger                 log.Logger
	Connected              bool

	dialerContext         func(context.Context, string) (*amqp.Connection, error)
	channelFactoryContext func(context.Context, *amqp.Connection) (*amqp.Channel, error)
	connectionCloser      func(*amqp.Connection) error
	connectionClosedFn    func(*amqp.Connection) bool
	channelClosedFn       func(*amqp.Channel) bool
	channelCloser         func(*amqp.Channel) error

	// Reconnect rate-limiting: prevents thundering-herd reconnect storms
	// when the broker is down by enforcing exponential backoff between
	// attempts.
	lastReconnectAttempt time.Time
	reconnectAttempts    int
}

// Connect establishes the singleton connection and channel.
func (c *Connection) Connect() error {
	return c.ConnectContext(context.Background())
}

// ConnectContext establishes the singleton connection and channel.
func (c *Connection) ConnectContext(ctx context.Context) error {
	if c == nil {
		return ErrNilConnection
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rabbitmq connect: %w", err)
	}

	tracer := otel.Tracer("servicebus.rabbitmq")

	ctx, span := tracer.Start(ctx, "rabbitmq.connect")
	defer span.End()

	span.SetAttributes(attribute.String("messaging.system", "rabbitmq"))

	c.mu.Lock()
	c.applyDefaults()
	connStr := c.ConnectionStringSource
	dialer := c.dialerContext
	channelFactory := c.channelFactoryContext
	connCloser := c.connectionCloser
	logger := c.logger()
	c.mu.Unlock()

	logger.Log(ctx, log.LevelInfo, "connecting to rabbitmq")

	conn, err := dialer(ctx, connStr)
	if err != nil {
		sanitizedErr := newSanitizedError(err, connStr, "failed to connect to rabbitmq")

		logger.Log(ctx, log.LevelError, "failed to connect to rabbitmq", log.Err(sanitizedErr))
		span.RecordError(sanitizedErr)
		span.SetStatus(codes.Error, "connect failed")

		return sanitizedErr
	}

	ch, err := channelFactory(ctx, conn)
	if err != nil {
		c.closeConnectionWith(conn, connCloser)

		logger.Log(ctx, log.LevelError, "failed to open channel on rabbitmq", log.Err(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "channel open failed")

		return fmt.Errorf("failed to open channel on rabbitmq: %w", err)
	}

	logger.Log(ctx, log.LevelInfo, "connected to rabbitmq")

	c.mu.Lock()
	c.Connected = true
	c.Connection = conn
	c.Channel = ch
	c.reconnectAttempts = 0
	c.mu.Unlock()

	return nil
}

// EnsureChannelContext re-establishes the connection and channel when either
// has closed. Reconnect attempts are rate-limited with exponential backoff.
func (c *Connection) EnsureChannelContext(ctx context.Context) error {
	if c == nil {
		return ErrNilConnection
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rabbitmq ensure channel: %w", err)
	}

	c.mu.Lock()
	c.applyDefaults()

	needConnection := c.Connection == nil || c.connectionClosedFn(c.Connection)
	needChannel := needConnection || c.Channel == nil || c.channelClosedFn(c.Channel)

	if !needChannel {
		c.mu.Unlock()

		return nil
	}

	if needConnection && c.reconnectAttempts > 0 {
		delay := backoff.ExponentialWithJitter(reconnectBackoffBase, c.reconnectAttempts)
		if delay > reconnectBackoffCap {
			delay = reconnectBackoffCap
		}

		if elapsed := time.Since(c.lastReconnectAttempt); elapsed < delay {
			c.mu.Unlock()

			return fmt.Errorf("rabbitmq ensure channel: rate-limited (next attempt in %s)", delay-elapsed)
		}
	}

	if needConnection {
		c.lastReconnectAttempt = time.Now()
	}

	c.mu.Unlock()

	if needConnection {
		if err := c.ConnectContext(ctx); err != nil {
			c.mu.Lock()
			c.Connected = false
			c.reconnectAttempts++
			c.mu.Unlock()

			return err
		}

		return nil
	}

	c.mu.Lock()
	conn := c.Connection
	channelFactory := c.channelFactoryContext
	logger := c.logger()
	c.mu.Unlock()

	ch, err := channelFactory(ctx, conn)
	if err == nil && ch == nil {
		err = errors.New("channel factory returned nil channel")
	}

	if err != nil {
		c.mu.Lock()
		c.Channel = nil
		c.Connected = false
		c.mu.Unlock()

		logger.Log(ctx, log.LevelError, "failed to open channel on rabbitmq", log.Err(err))

		return fmt.Errorf("rabbitmq ensure channel: %w", err)
	}

	c.mu.Lock()
	c.Channel = ch
	c.Connected = true
	c.mu.Unlock()

	return nil
}

// ChannelSnapshot returns the current channel, or nil when disconnected.
func (c *Connection) ChannelSnapshot() *amqp.Channel {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.Channel
}

// TxChannelContext opens a fresh dedicated channel for a transactional
// context. Transaction mode is per-channel state, so each transaction scope
// needs its own channel rather than the shared one.
func (c *Connection) TxChannelContext(ctx context.Context) (*amqp.Channel, error) {
	if c == nil {
		return nil, ErrNilConnection
	}

	if err := c.EnsureChannelContext(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	conn := c.Connection
	channelFactory := c.channelFactoryContext
	c.mu.Unlock()

	ch, err := channelFactory(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq tx channel: %w", err)
	}

	if ch == nil {
		return nil, errors.New("rabbitmq tx channel: channel factory returned nil channel")
	}

	return ch, nil
}

// Close closes the rabbitmq channel and connection.
func (c *Connection) Close() error {
	return c.CloseContext(context.Background())
}

// CloseContext closes the rabbitmq channel and connection.
func (c *Connection) CloseContext(ctx context.Context) error {
	if c == nil {
		return ErrNilConnection
	}

	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	c.applyDefaults()
	channel := c.Channel
	connection := c.Connection
	chCloser := c.channelCloser
	connCloser := c.connectionCloser
	logger := c.logger()
	c.Connection = nil
	c.Channel = nil
	c.Connected = false
	c.mu.Unlock()

	var closeErr error

	if channel != nil {
		if err := chCloser(channel); err != nil {
			closeErr = fmt.Errorf("failed to close rabbitmq channel: %w", err)
			logger.Log(ctx, log.LevelWarn, "failed to close rabbitmq channel", log.Err(err))
		}
	}

	if connection != nil {
		if err := connCloser(connection); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("failed to close rabbitmq connection: %w", err))
			logger.Log(ctx, log.LevelWarn, "failed to close rabbitmq connection", log.Err(err))
		}
	}

	return closeErr
}

func (c *Connection) applyDefaults() {
	if c.dialerContext == nil {
		c.dialerContext = func(_ context.Context, connectionString string) (*amqp.Connection, error) {
			return amqp.Dial(connectionString)
		}
	}

	if c.channelFactoryContext == nil {
		c.channelFactoryContext = func(_ context.Context, connection *amqp.Connection) (*amqp.Channel, error) {
			if connection == nil {
				return nil, errors.New("cannot create channel: connection is nil")
			}

			return connection.Channel()
		}
	}

	if c.connectionCloser == nil {
		c.connectionCloser = func(connection *amqp.Connection) error {
			if connection == nil {
				return nil
			}

			return connection.Close()
		}
	}

	if c.connectionClosedFn == nil {
		c.connectionClosedFn = func(connection *amqp.Connection) bool {
			return connection == nil || connection.IsClosed()
		}
	}

	if c.channelClosedFn == nil {
		c.channelClosedFn = func(ch *amqp.Channel) bool {
			return ch == nil || ch.IsClosed()
		}
	}

	if c.channelCloser == nil {
		c.channelCloser = func(ch *amqp.Channel) error {
			if ch == nil {
				return nil
			}

			return ch.Close()
		}
	}
}

func (c *Connection) closeConnectionWith(connection *amqp.Connection, closer func(*amqp.Connection) error) {
	if closer == nil {
		return
	}

	if err := closer(connection); err != nil {
		c.logger().Log(context.Background(), log.LevelWarn, "failed to close rabbitmq connection during cleanup", log.Err(err))
	}
}

func (c *Connection) logger() log.Logger {
	if c == nil || c.Logger == nil {
		return &log.NopLogger{}
	}

	return c.Logger
}

// BuildConnectionString constructs an AMQP connection string.
// If vhost is empty, the default vhost "/" is used (no path in URL).
// Special characters in user, password, and vhost are URL-encoded
// automatically. Supports IPv6 hosts (e.g., "[::1]").
func BuildConnectionString(protocol, user, pass, host, port, vhost string) string {
	u := &url.URL{Scheme: protocol}
	if user != "" || pass != "" {
		u.User = url.UserPassword(user, pass)
	}

	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		// Bracket bare IPv6 addresses to avoid malformed URLs.
		if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
			u.Host = "[" + host + "]"
		} else {
			u.Host = host
		}
	}

	if vhost != "" {
		// QueryEscape encodes '/' (required as %2F in vhost names) while
		// PathEscape does not; '+' must then become path-style %20.
		escapedVHost := url.QueryEscape(vhost)
		escapedVHost = strings.ReplaceAll(escapedVHost, "+", "%20")
		u.Path = "/" + vhost
		u.RawPath = "/" + escapedVHost
	}

	return u.String()
}

// sanitizedError wraps an original error with a redacted message.
// Error() returns the sanitized message; Unwrap() returns the original
// so that errors.Is / errors.As still work for programmatic inspection.
type sanitizedError struct {
	original error
	message  string
}

// Error returns the sanitized message.
func (e *sanitizedError) Error() string { return e.message }

// Unwrap returns the original wrapped error.
func (e *sanitizedError) Unwrap() error { return e.original }

// newSanitizedError wraps err with a human-readable prefix and redacted
// connection string.
func newSanitizedError(err error, connectionString, prefix string) error {
	return fmt.Errorf("%s: %w", prefix, &sanitizedError{
		original: err,
		message:  sanitizeAMQPErr(err, connectionString),
	})
}

func sanitizeAMQPErr(err error, connectionString string) string {
	if err == nil {
		return ""
	}

	if connectionString == "" {
		return err.Error()
	}

	referenceURL, parseErr := url.Parse(connectionString)
	if parseErr != nil {
		return err.Error()
	}

	redactedURL := referenceURL.Redacted()

	errMsg := err.Error()
	if strings.Contains(errMsg, connectionString) {
		errMsg = strings.ReplaceAll(errMsg, connectionString, redactedURL)
	}

	if strings.Contains(errMsg, referenceURL.String()) {
		errMsg = strings.ReplaceAll(errMsg, referenceURL.String(), redactedURL)
	}

	// Redact the decoded password individually, covering error messages that
	// contain it with URL-encoded special characters decoded.
	if referenceURL.User != nil {
		if pass, ok := referenceURL.User.Password(); ok && pass != "" {
			errMsg = strings.ReplaceAll(errMsg, pass, "xxxxx")
		}
	}

	return errMsg
}
