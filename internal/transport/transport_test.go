package transport

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iotaledger/hive.go/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcherGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/price":
			w.Write([]byte(`{"usd": 42}`))
		case "/big":
			w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(logger.NewNopLogger(), time.Second, 0, 0)

	body, err := f.Get(context.Background(), srv.URL+"/price")
	require.NoError(t, err)
	assert.JSONEq(t, `{"usd": 42}`, string(body))

	_, err = f.Get(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	f.maxBodySize = 16
	_, err = f.Get(context.Background(), srv.URL+"/big")
	require.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestHTTPFetcherRateLimitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	// one request per minute: the second call cannot get a token in time
	f := NewHTTPFetcher(logger.NewNopLogger(), time.Second, 1.0/60, 1)
	_, err := f.Get(context.Background(), srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.Get(ctx, srv.URL)
	require.Error(t, err)
}

func TestSocketAddress(t *testing.T) {
	addr, err := socketAddress("tcp://127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", addr)

	addr, err = socketAddress("localhost:80")
	require.NoError(t, err)
	assert.Equal(t, "localhost:80", addr)

	_, err = socketAddress("ws://example.com/feed")
	require.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestTCPDialerEcho(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			conn.Write([]byte("echo:" + scanner.Text() + "\n"))
		}
	}()

	d := NewTCPDialer(logger.NewNopLogger(), time.Second)
	conn, err := d.Dial(context.Background(), "tcp://"+ln.Addr().String())
	require.NoError(t, err)

	require.NoError(t, conn.Send(context.Background(), "hello"))
	require.NoError(t, conn.Send(context.Background(), "world"))

	var received []string
	require.Eventually(t, func() bool {
		messages, _ := conn.Poll()
		received = append(received, messages...)
		return len(received) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"echo:hello", "echo:world"}, received)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
}
