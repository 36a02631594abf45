package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	trustroute "github.com/dhays4sports/usdc-bot"
	"github.com/dhays4sports/usdc-bot/evm"
	"github.com/dhays4sports/usdc-bot/handoff"
	"github.com/dhays4sports/usdc-bot/ratelimit"
	"github.com/dhays4sports/usdc-bot/record"
	"github.com/dhays4sports/usdc-bot/resolve"
	"github.com/dhays4sports/usdc-bot/router"
	"github.com/dhays4sports/usdc-bot/stats"
	"github.com/dhays4sports/usdc-bot/store"
)

const addr = "0xAbC1230000000000000000000000000000000001"

var txHash = "0x" + strings.Repeat("ab", 32)

type fakeVerifier struct {
	err   error
	calls int
}

func (f *fakeVerifier) VerifySettlement(_ context.Context, _ *trustroute.IntentRecord, claimedTx string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return strings.ToLower(claimedTx), nil
}

type fixture struct {
	handler  http.Handler
	codec    *handoff.Codec
	verifier *fakeVerifier
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	recorder, err := stats.New(st)
	require.NoError(t, err)

	codec, err := handoff.NewCodec("test-secret", st, handoff.WithStats(recorder))
	require.NoError(t, err)

	verifier := &fakeVerifier{}
	cfg := Config{
		Surface: trustroute.SurfacePayments,
		Handoff: codec,
		Records: record.New(st, record.WithStats(recorder), record.WithVerifier(verifier)),
		Router:  router.New(resolve.New(nil)),
		Stats:   recorder,
		Limiter: ratelimit.New(st),
	}
	for _, m := range mutate {
		m(&cfg)
	}

	srv, err := New(cfg)
	require.NoError(t, err)

	return &fixture{handler: srv.Handler(), codec: codec, verifier: verifier}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["error"]
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{Surface: trustroute.SurfacePayments})
	assert.Error(t, err)

	_, err = New(Config{Surface: "example.com"})
	assert.Error(t, err)
}

func TestPreview(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/hub/preview", map[string]string{"prompt": "send $50 usdc to " + addr})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	p := decode[router.Preview](t, rec)
	assert.Equal(t, router.IntentPay, p.Intent)
	assert.Equal(t, trustroute.SurfacePayments, p.Route.Surface)
	assert.Equal(t, addr, p.Fields.Get(trustroute.FieldPayeeAddress))

	rec = f.do(t, http.MethodPost, "/api/hub/preview", map[string]string{"command": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing command", errorOf(t, rec))
}

func TestPreview_RateLimited(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Limits = DefaultLimits()
		c.Limits.Preview.Limit = 1
	})

	body := map[string]string{"command": "refund tx " + txHash}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/hub/preview", body).Code)

	rec := f.do(t, http.MethodPost, "/api/hub/preview", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "Rate limit exceeded. Try again soon.", errorOf(t, rec))
}

func commitToken(t *testing.T, rec *httptest.ResponseRecorder) (*url.URL, string) {
	t.Helper()
	res := decode[commitResponse](t, rec)
	require.True(t, res.OK)
	u, err := url.Parse(res.Redirect)
	require.NoError(t, err)
	return u, u.Query().Get("h")
}

func TestCommit_AudiencePrecedence(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/hub/commit", map[string]any{
		"intent": "pay",
		"aud":    "refund.chat",
		"path":   "/ignored",
		"route":  map[string]string{"aud": "invoice.chat", "surface": "payments.chat", "path": "/new"},
		"fields": map[string]string{"amount": "50"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[commitResponse](t, rec)
	assert.Equal(t, 90, res.TTLSec)

	u, token := commitToken(t, rec)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "payments.chat", u.Host)
	assert.Equal(t, "/new", u.Path)

	p, err := f.codec.Inspect(token)
	require.NoError(t, err)
	assert.Equal(t, trustroute.SurfaceHub, p.Issuer)
	assert.Equal(t, trustroute.SurfacePayments, p.Audience)
	assert.Equal(t, "50", p.Fields.Get(trustroute.FieldAmount))
}

func TestCommit_Defaults(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/hub/commit", map[string]any{"intent": "invoice", "aud": "Invoice.Chat"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	u, _ := commitToken(t, rec)
	assert.Equal(t, "invoice.chat", u.Host)
	assert.Equal(t, "/new", u.Path)
}

func TestCommit_Rejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body map[string]any
		want string
	}{
		{"missing intent", map[string]any{"aud": "payments.chat"}, "Missing intent"},
		{"missing audience", map[string]any{"intent": "pay"}, "Missing route.aud"},
		{"unknown audience", map[string]any{"intent": "pay", "aud": "evil.example"}, "Invalid route.aud"},
		{"hub audience", map[string]any{"intent": "pay", "aud": "hub.chat"}, "Invalid route.aud"},
		{"protocol relative", map[string]any{"intent": "pay", "aud": "payments.chat", "path": "//evil.example"}, "route.path must be a safe relative path starting with /"},
		{"absolute url", map[string]any{"intent": "pay", "aud": "payments.chat", "path": "https://evil.example"}, "route.path must be a safe relative path starting with /"},
		{"no leading slash", map[string]any{"intent": "pay", "aud": "payments.chat", "path": "new"}, "route.path must be a safe relative path starting with /"},
		{"backslash", map[string]any{"intent": "pay", "aud": "payments.chat", "path": `/\evil.example`}, "route.path must be a safe relative path starting with /"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/hub/commit", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, errorOf(t, rec))
		})
	}
}

func TestCommit_InvalidJSON(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/hub/commit", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid JSON body", errorOf(t, rec))
}

func (f *fixture) mint(t *testing.T, audience trustroute.Surface) string {
	t.Helper()
	token, err := f.codec.Mint(context.Background(), handoff.MintRequest{
		Issuer:   trustroute.SurfaceHub,
		Audience: audience,
		Intent:   "pay",
		Fields:   trustroute.Fields{trustroute.FieldAmount: "5"},
		Context:  trustroute.Fields{"source": "test"},
	})
	require.NoError(t, err)
	return token
}

func TestHandoff_Consume(t *testing.T) {
	f := newFixture(t)
	token := f.mint(t, trustroute.SurfacePayments)

	rec := f.do(t, http.MethodPost, "/api/handoff", map[string]string{"token": token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[handoffResponse](t, rec)
	assert.True(t, res.OK)
	assert.Equal(t, trustroute.SurfaceHub, res.Issuer)
	assert.Equal(t, "pay", res.Intent)
	assert.Equal(t, "5", res.Fields.Get(trustroute.FieldAmount))
	assert.Equal(t, "test", res.Context.Get("source"))
	assert.NotZero(t, res.Exp)

	rec = f.do(t, http.MethodPost, "/api/handoff", map[string]string{"token": token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandoff_Rejections(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/handoff", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing token", errorOf(t, rec))

	rec = f.do(t, http.MethodPost, "/api/handoff", map[string]string{"token": f.mint(t, trustroute.SurfaceInvoice)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/handoff", map[string]string{"token": "garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLanding(t *testing.T) {
	f := newFixture(t)

	commit := f.do(t, http.MethodPost, "/api/hub/commit", map[string]any{
		"intent": "pay",
		"route":  map[string]string{"surface": "payments.chat"},
		"fields": map[string]string{"amount": "50", "payeeAddress": addr},
	})
	require.Equal(t, http.StatusOK, commit.Code, commit.Body.String())
	u, _ := commitToken(t, commit)

	rec := f.do(t, http.MethodGet, u.RequestURI(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[handoffResponse](t, rec)
	assert.Equal(t, addr, res.Fields.Get(trustroute.FieldPayeeAddress))

	// A reload replays the token.
	rec = f.do(t, http.MethodGet, u.RequestURI(), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/new", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing handoff token", errorOf(t, rec))
}

func createPayment(t *testing.T, f *fixture, amount string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/payments", map[string]string{
		"payeeInput":   "device.eth",
		"payeeAddress": addr,
		"amount":       amount,
		"memo":         "coffee",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[recordResponse](t, rec)
	require.True(t, res.OK)
	require.NotEmpty(t, res.ID)
	return res.ID
}

func TestPayments_Lifecycle(t *testing.T) {
	f := newFixture(t)
	id := createPayment(t, f, "12.50")

	rec := f.do(t, http.MethodGet, "/api/payments/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[trustroute.IntentRecord](t, rec)
	assert.Equal(t, trustroute.StatusProposed, got.Status)
	assert.Equal(t, "12.50", got.Amount)
	assert.Equal(t, "device.eth", got.Counterparty.Input)

	rec = f.do(t, http.MethodPatch, "/api/payments/"+id, map[string]any{"proof": "https://basescan.org/tx/" + txHash})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	linked := decode[recordResponse](t, rec)
	assert.Equal(t, trustroute.StatusLinked, linked.Record.Status)
	assert.Equal(t, &trustroute.SettlementProof{Type: trustroute.ProofTypeTxHash, Value: txHash}, linked.Record.Proof)

	receipt := "https://usdc.bot/e/abc123"
	rec = f.do(t, http.MethodPatch, "/api/payments/"+id, map[string]any{
		"proof":      "garbage",
		"settlement": map[string]string{"type": "usdc_bot_receipt", "value": receipt},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, receipt, decode[recordResponse](t, rec).Record.Proof.Value)

	rec = f.do(t, http.MethodPatch, "/api/payments/"+id, map[string]string{"action": "settle"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, trustroute.StatusSettled, decode[recordResponse](t, rec).Record.Status)

	rec = f.do(t, http.MethodPatch, "/api/payments/"+id, map[string]any{"proof": txHash})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/payments/"+id, map[string]string{"action": "revoke"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPayments_Rejections(t *testing.T) {
	f := newFixture(t)
	id := createPayment(t, f, "1")

	tests := []struct {
		name   string
		method string
		target string
		body   any
		status int
	}{
		{"unknown record", http.MethodGet, "/api/payments/missing", nil, http.StatusNotFound},
		{"bad amount", http.MethodPost, "/api/payments", map[string]string{"payeeInput": "x", "payeeAddress": addr, "amount": "0"}, http.StatusBadRequest},
		{"bad address", http.MethodPost, "/api/payments", map[string]string{"payeeInput": "x", "payeeAddress": "0x12", "amount": "1"}, http.StatusBadRequest},
		{"memo too long", http.MethodPost, "/api/payments", map[string]string{"payeeInput": "x", "payeeAddress": addr, "amount": "1", "memo": strings.Repeat("m", 181)}, http.StatusBadRequest},
		{"invalid proof", http.MethodPatch, "/api/payments/" + id, map[string]string{"proof": "0x1234"}, http.StatusBadRequest},
		{"missing proof", http.MethodPatch, "/api/payments/" + id, map[string]string{}, http.StatusBadRequest},
		{"unknown action", http.MethodPatch, "/api/payments/" + id, map[string]string{"action": "explode"}, http.StatusBadRequest},
		{"settle proposed", http.MethodPatch, "/api/payments/" + id, map[string]string{"action": "settle"}, http.StatusConflict},
		{"link unknown", http.MethodPatch, "/api/payments/missing", map[string]string{"proof": txHash}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAuthorize_Revoke(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/authorize", map[string]string{
		"counterpartyInput":   "spender.eth",
		"counterpartyAddress": addr,
		"amount":              "100",
		"scope":               "subscriptions",
		"limit":               "25",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[recordResponse](t, rec)
	require.NotNil(t, created.Record.Authorization)
	assert.Equal(t, "subscriptions", created.Record.Authorization.Scope)

	rec = f.do(t, http.MethodPatch, "/api/authorize/"+created.ID, map[string]string{"action": "revoke"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, trustroute.StatusRevoked, decode[recordResponse](t, rec).Record.Status)

	rec = f.do(t, http.MethodPatch, "/api/authorize/"+created.ID, map[string]any{"proof": txHash})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/authorize/"+created.ID+"/verify", map[string]string{"txHash": txHash})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRemit_Create(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/remit", map[string]string{
		"counterpartyInput":   "family.eth",
		"counterpartyAddress": addr,
		"amount":              "200",
		"reference":           "rent march",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[recordResponse](t, rec)
	assert.Equal(t, trustroute.KindRemittance, created.Record.Kind)
	require.NotNil(t, created.Record.Remittance)
	assert.Equal(t, "rent march", created.Record.Remittance.Reference)

	// Remittances live under their own namespace.
	rec = f.do(t, http.MethodGet, "/api/payments/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerify_AutoLink(t *testing.T) {
	f := newFixture(t)
	id := createPayment(t, f, "12.5")

	rec := f.do(t, http.MethodPost, "/api/payments/"+id+"/verify", map[string]string{"txHash": "basescan.org/tx/" + txHash})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[map[string]any](t, rec)
	assert.Equal(t, true, res["ok"])
	assert.Equal(t, true, res["linked"])
	assert.Equal(t, txHash, res["txHash"])
	assert.Nil(t, res["alreadyLinked"])

	rec = f.do(t, http.MethodPost, "/api/payments/"+id+"/verify", map[string]string{"txHash": txHash})
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[map[string]any](t, rec)
	assert.Equal(t, true, res["alreadyLinked"])
	assert.Equal(t, 1, f.verifier.calls)

	rec = f.do(t, http.MethodPost, "/api/payments/"+id+"/verify", map[string]string{"txHash": "0x1234"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a bad hash is rejected even once linked")
}

func TestVerify_Failures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		txHash     string
		status     int
		retryAfter string
	}{
		{"not yet mined", evm.ErrTxNotFound, txHash, http.StatusServiceUnavailable, "5"},
		{"mismatch", evm.ErrNoMatchingTransfer, txHash, http.StatusBadRequest, ""},
		{"reverted", evm.ErrTxFailed, txHash, http.StatusBadRequest, ""},
		{"invalid hash", nil, "0x1234", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.verifier.err = tt.err
			id := createPayment(t, f, "1")

			rec := f.do(t, http.MethodPost, "/api/payments/"+id+"/verify", map[string]string{"txHash": tt.txHash})
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))

			got := decode[trustroute.IntentRecord](t, f.do(t, http.MethodGet, "/api/payments/"+id, nil))
			assert.Equal(t, trustroute.StatusProposed, got.Status)
		})
	}
}

func TestCreate_RateLimited(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Limits = DefaultLimits()
		c.Limits.Create.Limit = 1
	})
	createPayment(t, f, "1")

	rec := f.do(t, http.MethodPost, "/api/payments", map[string]string{"payeeInput": "x", "payeeAddress": addr, "amount": "1"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Buckets are per surface.
	rec = f.do(t, http.MethodPost, "/api/remit", map[string]string{"counterpartyInput": "x", "counterpartyAddress": addr, "amount": "1"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	id := createPayment(t, f, "1")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPatch, "/api/payments/"+id, map[string]any{"proof": txHash}).Code)

	rec := f.do(t, http.MethodGet, "/api/tr/stats?surface=payments.chat", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[stats.Snapshot](t, rec)
	assert.Equal(t, trustroute.SurfacePayments, snap.Surface)
	assert.Equal(t, int64(1), snap.Count(trustroute.StatIntentsCreated))
	assert.Equal(t, int64(1), snap.Count(trustroute.StatProofsLinked))
	assert.NotEmpty(t, snap.Stats[stats.FieldLastActivityAt])
	assert.Empty(t, snap.Message)

	rec = f.do(t, http.MethodGet, "/api/tr/stats?surface=refund.chat", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No activity yet", decode[stats.Snapshot](t, rec).Message)

	rec = f.do(t, http.MethodGet, "/api/tr/stats", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing surface param (e.g. ?surface=payments.chat)", errorOf(t, rec))

	rec = f.do(t, http.MethodGet, "/api/tr/stats?surface=evil.example", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func (f *fixture) sms(t *testing.T, from, body string) string {
	t.Helper()

	form := url.Values{"From": {from}, "Body": {body}}
	req := httptest.NewRequest(http.MethodPost, "/api/sms/inbound", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/xml", rec.Header().Get("Content-Type"))

	var reply twimlResponse
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &reply), rec.Body.String())
	return reply.Message
}

func TestSMSInbound(t *testing.T) {
	f := newFixture(t)

	msg := f.sms(t, "+15550001111", "send $5 usdc to "+addr)
	link, ok := strings.CutPrefix(msg, smsReadyMessage)
	require.True(t, ok, msg)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "payments.chat", u.Host)
	assert.Equal(t, "/new", u.Path)

	rec := f.do(t, http.MethodPost, "/api/handoff", map[string]string{"token": u.Query().Get("h")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[handoffResponse](t, rec)
	assert.Equal(t, trustroute.SurfaceSMS, res.Issuer)
	assert.Equal(t, "5", res.Fields.Get(trustroute.FieldAmount))
	assert.Equal(t, trustroute.Fields{"source": "sms", "from": "+15550001111", "text": "send $5 usdc to " + addr}, res.Context)
}

func TestSMSInbound_Replies(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, smsUsage, f.sms(t, "+15550002222", "   "))

	// Unknown commands still route to payments.
	msg := f.sms(t, "+15550003333", "hello there")
	assert.True(t, strings.HasPrefix(msg, smsReadyMessage+"https://payments.chat/new?h="), msg)
}

func TestSMSInbound_RateLimitedPerSender(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Limits = DefaultLimits()
		c.Limits.Inbound.Limit = 1
	})

	assert.Equal(t, smsUsage, f.sms(t, "+15550004444", ""))
	assert.Equal(t, smsRateLimited, f.sms(t, "+15550004444", "send 5 to "+addr))
	assert.Equal(t, smsUsage, f.sms(t, "+15550005555", ""))
}
