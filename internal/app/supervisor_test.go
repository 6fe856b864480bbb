package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mellanfrost/twitch-bot/internal/credential"
	boterr "github.com/Mellanfrost/twitch-bot/internal/errors"
	"github.com/Mellanfrost/twitch-bot/internal/platform/retry"
)

type fakeAuth struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (a *fakeAuth) EnsureValid(context.Context) (credential.Credential, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return credential.Credential{}, a.err
	}
	return credential.Credential{AccessToken: "token"}, nil
}

func (a *fakeAuth) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// scriptedChannel fails with the scripted errors in order, then blocks
// until the context ends.
type scriptedChannel struct {
	mu   sync.Mutex
	errs []error
	runs int
}

func (c *scriptedChannel) Run(ctx context.Context) error {
	c.mu.Lock()
	c.runs++
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (c *scriptedChannel) runCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}
}

func TestSupervisor_CleanShutdown(t *testing.T) {
	auth := &fakeAuth{}
	channel := &scriptedChannel{}
	s := NewSupervisor(auth, channel, testPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return channel.runCount() == 1 },
		time.Second, time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, 1, auth.callCount())
}

func TestSupervisor_ReconnectsOnTransportError(t *testing.T) {
	auth := &fakeAuth{}
	channel := &scriptedChannel{errs: []error{
		errors.New("websocket: close 1006"),
		errors.New("connection reset by peer"),
	}}
	s := NewSupervisor(auth, channel, testPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return channel.runCount() == 3 },
		time.Second, time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	// Reconnects reuse the validated credential.
	assert.Equal(t, 1, auth.callCount())
}

func TestSupervisor_UnauthorizedTriggersCredentialRecovery(t *testing.T) {
	auth := &fakeAuth{}
	channel := &scriptedChannel{errs: []error{
		boterr.Unauthorized("subscription rejected"),
	}}
	s := NewSupervisor(auth, channel, testPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// One cycle before the 401, one after recovery.
	require.Eventually(t, func() bool { return auth.callCount() == 2 },
		time.Second, time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, 2, channel.runCount())
}

func TestSupervisor_FatalCredentialError(t *testing.T) {
	auth := &fakeAuth{err: boterr.Authentication("interactive authorization failed", nil)}
	s := NewSupervisor(auth, &scriptedChannel{}, testPolicy())

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, boterr.IsKind(err, boterr.KindAuthentication))
}

func TestSupervisor_FatalChannelError(t *testing.T) {
	auth := &fakeAuth{}
	channel := &scriptedChannel{errs: []error{
		boterr.Subscription("subscription returned status 400"),
	}}
	s := NewSupervisor(auth, channel, testPolicy())

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, boterr.IsKind(err, boterr.KindSubscription))
	assert.Equal(t, 1, channel.runCount())
}

func TestSupervisor_ReconnectBudgetExhausted(t *testing.T) {
	auth := &fakeAuth{}
	channel := &scriptedChannel{errs: []error{
		errors.New("dial failed"),
		errors.New("dial failed"),
		errors.New("dial failed"),
	}}
	policy := testPolicy()
	policy.MaxAttempts = 3
	s := NewSupervisor(auth, channel, policy)

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, channel.runCount())
}
