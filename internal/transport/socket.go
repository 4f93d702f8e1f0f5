package transport

import (
	"bufio"
	"context"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/iotaledger/hive.go/logger"
	"github.com/pkg/errors"

	"github.com/dueldanov/packscript/internal/packscript"
)

var ErrUnsupportedScheme = errors.New("unsupported socket scheme")

// inboxSize bounds messages buffered between two polls
const inboxSize = 256

// TCPDialer satisfies packscript.SocketDialer with newline-delimited TCP
// streams. URLs are tcp://host:port or bare host:port.
type TCPDialer struct {
	*logger.WrappedLogger

	dialer       net.Dialer
	writeTimeout time.Duration
}

func NewTCPDialer(log *logger.Logger, dialTimeout time.Duration) *TCPDialer {
	return &TCPDialer{
		WrappedLogger: logger.NewWrappedLogger(log),
		dialer:        net.Dialer{Timeout: dialTimeout},
		writeTimeout:  dialTimeout,
	}
}

func (d *TCPDialer) Dial(ctx context.Context, rawURL string) (packscript.SocketConn, error) {
	addr, err := socketAddress(rawURL)
	if err != nil {
		return nil, err
	}

	conn, err := d.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}

	c := &lineConn{
		conn:         conn,
		inbox:        make(chan string, inboxSize),
		done:         make(chan struct{}),
		writeTimeout: d.writeTimeout,
		log:          d.WrappedLogger,
	}
	go c.readLoop()
	return c, nil
}

func socketAddress(rawURL string) (string, error) {
	if !strings.Contains(rawURL, "://") {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrap(err, "invalid socket url")
	}
	if u.Scheme != "tcp" {
		return "", errors.Wrap(ErrUnsupportedScheme, u.Scheme)
	}
	return u.Host, nil
}

// lineConn reads lines on its own goroutine; Poll drains them without
// blocking so delivery stays on the script's thread
type lineConn struct {
	conn         net.Conn
	inbox        chan string
	done         chan struct{}
	writeTimeout time.Duration
	log          *logger.WrappedLogger

	mu      sync.Mutex
	readErr error
	closed  bool
}

func (c *lineConn) readLoop() {
	defer close(c.inbox)

	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		select {
		case c.inbox <- scanner.Text():
		case <-c.done:
			return
		}
	}

	c.mu.Lock()
	if !c.closed {
		c.readErr = scanner.Err()
	}
	c.mu.Unlock()
}

func (c *lineConn) Send(ctx context.Context, message string) error {
	// a zero deadline means none
	var deadline time.Time
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(err, "set write deadline")
	}

	if _, err := c.conn.Write([]byte(message + "\n")); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(err, "socket write")
	}
	return nil
}

func (c *lineConn) Poll() ([]string, error) {
	var messages []string
	for {
		select {
		case msg, ok := <-c.inbox:
			if !ok {
				c.mu.Lock()
				err := c.readErr
				c.mu.Unlock()
				return messages, err
			}
			messages = append(messages, msg)
		default:
			return messages, nil
		}
	}
}

func (c *lineConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	if err := c.conn.Close(); err != nil {
		return errors.Wrap(err, "socket close")
	}
	c.log.LogDebugf("closed socket %s", c.conn.RemoteAddr())
	return nil
}
