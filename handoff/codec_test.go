package handoff

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	trustroute "github.com/dhays4sports/usdc-bot"
	"github.com/dhays4sports/usdc-bot/store"
)

const testSecret = "test-handoff-secret"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordedEvent struct {
	surface trustroute.Surface
	event   trustroute.StatEvent
}

type fakeStats struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeStats) Record(_ context.Context, surface trustroute.Surface, event trustroute.StatEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{surface, event})
}

func newTestCodec(t *testing.T, opts ...Option) (*Codec, *testClock, *store.MemoryStore) {
	t.Helper()
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	st := store.NewMemoryStore(store.WithMemoryClock(clock.Now))
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	c, err := NewCodec(testSecret, st, opts...)
	require.NoError(t, err)
	return c, clock, st
}

func mintPayments(t *testing.T, c *Codec, ttl time.Duration) string {
	t.Helper()
	token, err := c.Mint(context.Background(), MintRequest{
		Issuer:   trustroute.SurfaceHub,
		Audience: trustroute.SurfacePayments,
		Intent:   "pay",
		Fields: trustroute.Fields{
			trustroute.FieldAmount:       "50",
			trustroute.FieldPayeeAddress: "0xAbC1230000000000000000000000000000000001",
		},
		TTL: ttl,
	})
	require.NoError(t, err)
	return token
}

func TestNewCodec_RequiresSecret(t *testing.T) {
	_, err := NewCodec("   ", store.NewMemoryStore())
	require.Error(t, err)
	assert.Equal(t, trustroute.CodeInvalidConfig, trustroute.CodeOf(err))

	_, err = NewCodec(testSecret, nil)
	require.Error(t, err)
}

func TestMintVerify_RoundTrip(t *testing.T) {
	stats := &fakeStats{}
	c, clock, _ := newTestCodec(t, WithStats(stats))
	token := mintPayments(t, c, 0)

	assert.Equal(t, 1, strings.Count(token, "."), "token has two segments")

	got, err := c.Consume(context.Background(), token, trustroute.SurfacePayments)
	require.NoError(t, err)
	assert.Equal(t, trustroute.SurfaceHub, got.Issuer)
	assert.Equal(t, trustroute.SurfacePayments, got.Audience)
	assert.Equal(t, "pay", got.Intent)
	assert.Equal(t, "50", got.Fields.Get(trustroute.FieldAmount))
	assert.Len(t, got.Nonce, 32)
	assert.Equal(t, clock.Now().Add(DefaultTTL), got.ExpiresAt)

	assert.Equal(t, []recordedEvent{
		{trustroute.SurfacePayments, trustroute.StatHandoffsConsumed},
	}, stats.events)
}

// callLog records every store call made through it.
type callLog struct {
	store.Store
	mu    sync.Mutex
	calls []string
}

func (l *callLog) note(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) Get(ctx context.Context, key string) (string, error) {
	l.note("Get")
	return l.Store.Get(ctx, key)
}

func (l *callLog) Set(ctx context.Context, key, value string) error {
	l.note("Set")
	return l.Store.Set(ctx, key, value)
}

func (l *callLog) SetIfNotExists(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	l.note("SetIfNotExists")
	return l.Store.SetIfNotExists(ctx, key, value, ttl)
}

func (l *callLog) Incr(ctx context.Context, key string) (int64, error) {
	l.note("Incr")
	return l.Store.Incr(ctx, key)
}

func (l *callLog) Expire(ctx context.Context, key string, ttl time.Duration) error {
	l.note("Expire")
	return l.Store.Expire(ctx, key, ttl)
}

func (l *callLog) TTL(ctx context.Context, key string) (time.Duration, error) {
	l.note("TTL")
	return l.Store.TTL(ctx, key)
}

func (l *callLog) HashIncrBy(ctx context.Context, key, field string, n int64) (int64, error) {
	l.note("HashIncrBy")
	return l.Store.HashIncrBy(ctx, key, field, n)
}

func (l *callLog) HashSet(ctx context.Context, key, field, value string) error {
	l.note("HashSet")
	return l.Store.HashSet(ctx, key, field, value)
}

func (l *callLog) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	l.note("HashGetAll")
	return l.Store.HashGetAll(ctx, key)
}

func TestMint_LeavesStoreUntouched(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	log := &callLog{Store: store.NewMemoryStore(store.WithMemoryClock(clock.Now))}
	stats := &fakeStats{}
	c, err := NewCodec(testSecret, log, WithClock(clock.Now), WithStats(stats))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		mintPayments(t, c, 0)
	}

	assert.Empty(t, log.calls, "minting must not read or write the store")
	assert.Empty(t, stats.events, "minting must not record counters")

	// The first consume is the only write a token causes.
	token := mintPayments(t, c, 0)
	p, err := c.Inspect(token)
	require.NoError(t, err)
	_, err = log.Get(context.Background(), ReplayKey(p.Audience, p.Nonce))
	assert.ErrorIs(t, err, store.ErrNotFound)

	log.calls = nil
	_, err = c.Consume(context.Background(), token, trustroute.SurfacePayments)
	require.NoError(t, err)
	assert.Equal(t, []string{"SetIfNotExists"}, log.calls)
	assert.Equal(t, []recordedEvent{
		{trustroute.SurfacePayments, trustroute.StatHandoffsConsumed},
	}, stats.events)
}

func TestMint_TTLClamp(t *testing.T) {
	tests := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{"default", 0, 120 * time.Second},
		{"below minimum", 5 * time.Second, 30 * time.Second},
		{"within bounds", 300 * time.Second, 300 * time.Second},
		{"above maximum", time.Hour, 600 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clock, _ := newTestCodec(t)
			token := mintPayments(t, c, tt.ttl)

			p, err := c.Inspect(token)
			require.NoError(t, err)
			assert.Equal(t, clock.Now().Unix(), p.IssuedAt)
			assert.Equal(t, int64(tt.want/time.Second), p.ExpiresAt-p.IssuedAt)
		})
	}
}

func TestMint_InvalidAudience(t *testing.T) {
	c, _, _ := newTestCodec(t)

	for _, aud := range []trustroute.Surface{trustroute.SurfaceHub, trustroute.SurfaceSMS, "evil.example"} {
		_, err := c.Mint(context.Background(), MintRequest{
			Issuer:   trustroute.SurfaceHub,
			Audience: aud,
			Intent:   "pay",
		})
		assert.ErrorIs(t, err, ErrInvalidAudience, "audience %s", aud)
		assert.Equal(t, trustroute.KindValidation, trustroute.KindOf(err))
	}
}

func TestMint_DeterministicWithInjectedRand(t *testing.T) {
	seed := bytes.Repeat([]byte{0xab}, 16)
	c, _, _ := newTestCodec(t, WithRand(bytes.NewReader(seed)))
	token := mintPayments(t, c, 0)

	p, err := c.Inspect(token)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ab", 16), p.Nonce)
}

func TestVerify_SingleUse(t *testing.T) {
	c, _, _ := newTestCodec(t)
	token := mintPayments(t, c, 0)

	_, err := c.Verify(context.Background(), token, trustroute.SurfacePayments)
	require.NoError(t, err)

	_, err = c.Verify(context.Background(), token, trustroute.SurfacePayments)
	assert.ErrorIs(t, err, ErrAlreadyUsed)
	assert.Equal(t, trustroute.KindAuthentication, trustroute.KindOf(err))
}

func TestVerify_SingleUseUnderConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, _, _ := newTestCodec(t)
	token := mintPayments(t, c, 0)

	const workers = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		replays   int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := c.Verify(context.Background(), token, trustroute.SurfacePayments)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyUsed):
				replays++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, replays)
}

func TestVerify_WrongAudience(t *testing.T) {
	c, _, st := newTestCodec(t)
	token := mintPayments(t, c, 0)

	_, err := c.Verify(context.Background(), token, trustroute.SurfaceInvoice)
	assert.ErrorIs(t, err, ErrWrongAudience)

	p, err := c.Inspect(token)
	require.NoError(t, err)
	_, err = st.Get(context.Background(), ReplayKey(trustroute.SurfacePayments, p.Nonce))
	assert.ErrorIs(t, err, store.ErrNotFound, "rejected token must not burn its nonce")

	_, err = c.Verify(context.Background(), token, trustroute.SurfacePayments)
	assert.NoError(t, err)
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	tests := []struct {
		name    string
		skew    time.Duration
		advance time.Duration
		wantErr error
	}{
		{"before expiry", 0, 119 * time.Second, nil},
		{"exactly at expiry", 0, 120 * time.Second, nil},
		{"one second past expiry", 0, 121 * time.Second, ErrExpired},
		{"within skew", 5 * time.Second, 124 * time.Second, nil},
		{"past skew", 5 * time.Second, 126 * time.Second, ErrExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clock, _ := newTestCodec(t, WithClockSkew(tt.skew))
			start := clock.Now()
			token := mintPayments(t, c, 0)

			clock.Set(start.Add(tt.advance))
			_, err := c.Verify(context.Background(), token, trustroute.SurfacePayments)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestVerify_ReplayLockOutlivesToken(t *testing.T) {
	c, clock, st := newTestCodec(t)
	start := clock.Now()
	token := mintPayments(t, c, 0)

	clock.Set(start.Add(120 * time.Second))
	p, err := c.Verify(context.Background(), token, trustroute.SurfacePayments)
	require.NoError(t, err)

	ttl, err := st.TTL(context.Background(), ReplayKey(p.Audience, p.Nonce))
	require.NoError(t, err)
	assert.Equal(t, time.Second, ttl, "lock TTL has a one second floor")
}

func TestVerify_Rejections(t *testing.T) {
	c, _, _ := newTestCodec(t)
	token := mintPayments(t, c, 0)
	segment, sig, _ := strings.Cut(token, ".")

	other, err := NewCodec("other-secret", store.NewMemoryStore())
	require.NoError(t, err)
	foreign, err := other.Mint(context.Background(), MintRequest{
		Issuer:   trustroute.SurfaceHub,
		Audience: trustroute.SurfacePayments,
		Intent:   "pay",
	})
	require.NoError(t, err)

	signed := func(p any) string {
		body, err := json.Marshal(p)
		require.NoError(t, err)
		seg := b64.EncodeToString(body)
		return seg + "." + b64.EncodeToString(c.sign(seg))
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"empty", "", ErrMalformed},
		{"one segment", segment, ErrMalformed},
		{"three segments", "v1." + token, ErrMalformed},
		{"empty signature", segment + ".", ErrMalformed},
		{"tampered payload", "x" + segment + "." + sig, ErrBadSignature},
		{"signature not base64", segment + ".***", ErrBadSignature},
		{"different secret", foreign, ErrBadSignature},
		{"payload not json", signed("not-an-object"), ErrBadPayload},
		{"short nonce", signed(Payload{V: 1, Audience: trustroute.SurfacePayments, Nonce: "abc", ExpiresAt: time.Now().Add(time.Hour).Unix()}), ErrBadPayload},
		{"future version", signed(Payload{V: 2, Audience: trustroute.SurfacePayments, Nonce: strings.Repeat("a", 32), ExpiresAt: time.Now().Add(time.Hour).Unix()}), ErrUnsupportedVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Verify(context.Background(), tt.token, trustroute.SurfacePayments)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, trustroute.KindAuthentication, trustroute.KindOf(err))
		})
	}
}

func TestInspect_DoesNotConsume(t *testing.T) {
	c, _, _ := newTestCodec(t)
	token := mintPayments(t, c, 0)

	for i := 0; i < 3; i++ {
		_, err := c.Inspect(token)
		require.NoError(t, err)
	}
	_, err := c.Verify(context.Background(), token, trustroute.SurfacePayments)
	assert.NoError(t, err)
}

type failingStore struct {
	store.Store
}

func (failingStore) SetIfNotExists(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func TestVerify_StoreFault(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	c, err := NewCodec(testSecret, failingStore{store.NewMemoryStore()}, WithClock(clock.Now))
	require.NoError(t, err)
	token := mintPayments(t, c, 0)

	_, err = c.Verify(context.Background(), token, trustroute.SurfacePayments)
	require.Error(t, err)
	assert.Equal(t, trustroute.KindTransient, trustroute.KindOf(err))
}
