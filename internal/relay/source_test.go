package relay

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/opsconsole/internal/transport"
	"github.com/nextlevelbuilder/opsconsole/pkg/protocol"
)

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(Config{URL: "http://cache:6379"})
	assert.Error(t, err)

	s, err := New(Config{URL: "redis://cache:6379/2"})
	require.NoError(t, err)
	assert.Equal(t, DefaultChannel, s.cfg.Channel)
	assert.Equal(t, "cache:6379", s.opts.Addr)
	assert.Equal(t, 2, s.opts.DB)
	assert.Equal(t, transport.StatusDisconnected, s.State().Status)
}

func TestStatusFrame(t *testing.T) {
	frame, ok := statusFrame([]byte(`{"run_id": 12, "status": "running"}`))
	require.True(t, ok)
	assert.Equal(t, protocol.EventAgentStatus, frame.Type)
	assert.JSONEq(t, `{"run_id":12,"status":"running"}`, string(frame.Data))

	_, ok = statusFrame([]byte(`{"run_id": 12}`))
	assert.False(t, ok)
	_, ok = statusFrame([]byte(`idle`))
	assert.False(t, ok)
}

func TestDeliver_DropsMalformed(t *testing.T) {
	s, err := New(Config{URL: "redis://localhost:6379"})
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []protocol.PushFrame
	)
	s.OnFrame(func(f protocol.PushFrame) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.fanout.Run(ctx)

	s.deliver([]byte(`not json`))
	s.deliver([]byte(`{"data":{}}`))
	s.deliver([]byte(`{"type":"tool_call","data":{"tool":"read_gmail"}}`))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, protocol.EventToolCall, got[0].Type)
}

func TestSource_UnreachableCountsRetries(t *testing.T) {
	// Reserve a port, then free it so dials are refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s, err := New(Config{
		URL:     "redis://" + addr,
		Backoff: transport.Backoff{Policy: transport.BackoffFixed, Base: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	s.opts.MaxRetries = -1
	s.opts.DialTimeout = 200 * time.Millisecond

	require.NoError(t, s.Connect(context.Background()))
	assert.ErrorIs(t, s.Connect(context.Background()), transport.ErrAlreadyConnected)

	require.Eventually(t, func() bool { return s.State().RetryAttempt >= 3 }, 5*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, s.State().LastError)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, transport.StatusDisconnected, s.State().Status)
	assert.ErrorIs(t, s.Connect(context.Background()), transport.ErrClosed)
}
