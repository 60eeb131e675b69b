package orch

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incubator/pkg/config"
	"incubator/pkg/gate"
	"incubator/pkg/intent"
	"incubator/pkg/llm"
	"incubator/pkg/otp"
	"incubator/pkg/payment"
	"incubator/pkg/policy"
	"incubator/pkg/session"
)

const noIntent = `{"is_restart_request":false,"is_switch_request":false,"switch_target":""}`

// envelope builds a model response in the mutation protocol.
func envelope(reply string, muts ...policy.Mutation) string {
	out := map[string]any{"reply": reply}
	if len(muts) > 0 {
		out["mutations"] = muts
	}
	b, _ := json.Marshal(out)
	return string(b)
}

type fakeMailer struct {
	to   string
	code string
	err  error
}

func (f *fakeMailer) Send(_ context.Context, to, code string) error {
	if f.err != nil {
		return f.err
	}
	f.to, f.code = to, code
	return nil
}

type fakeProvider struct {
	status    payment.Status
	statusErr error
	created   int
	queried   int
}

func (f *fakeProvider) CreateCheckout(_ context.Context, conversationID string, q payment.Quote, successURL, cancelURL string) (payment.Checkout, error) {
	f.created++
	return payment.Checkout{ID: "cs_test_123", URL: "https://pay.example/cs_test_123"}, nil
}

func (f *fakeProvider) QueryStatus(_ context.Context, checkoutID string) (payment.Status, error) {
	f.queried++
	return f.status, f.statusErr
}

type fixture struct {
	orch     *Orchestrator
	chat     *llm.MockClient
	store    *session.Store
	mailer   *fakeMailer
	provider *fakeProvider
}

func newFixture(t *testing.T, chatResponses ...string) *fixture {
	t.Helper()
	store, err := session.Open(filepath.Join(t.TempDir(), "conversations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Config{
		Provider:    config.ProviderAnthropic,
		SwitchLimit: config.DefaultSwitchLimit,
		TurnTimeout: 5 * time.Second,
		SiteURL:     "http://localhost:8080",
	}
	chat := llm.NewMockClient(chatResponses...)
	mailer := &fakeMailer{}
	provider := &fakeProvider{status: payment.StatusPending}

	o := New(cfg, store, gate.New(store, cfg.SwitchLimit), intent.New(llm.NewMockClient(noIntent)),
		chat, otp.NewVerifier(mailer), provider)
	// Background summaries get their own script so they never consume a
	// scripted chat response mid-test.
	o.summarizer = NewSummarizer(llm.NewMockClient("summary"))

	return &fixture{orch: o, chat: chat, store: store, mailer: mailer, provider: provider}
}

// completeLLCRecord returns a saved record that passes the LLC checklist.
func completeLLCRecord(t *testing.T, f *fixture, id string) *session.Record {
	t.Helper()
	r := session.NewRecord(id)
	r.Mode = session.ModeLLC
	r.SwitchCount = 1
	r.SetField(session.FieldBusinessState, "Delaware")
	for _, flag := range []string{
		session.FlagIdentityCaptured, session.FlagVerificationPassed,
		session.FlagDesignatorSet, session.FlagGovernanceSet,
		session.FlagRegisteredAgentSet, session.FlagVirtualAddressSet,
	} {
		r.SetFlag(flag, true)
	}
	require.NoError(t, f.store.Save(r))
	return r
}

func TestStartConversation(t *testing.T) {
	f := newFixture(t)

	r, greeting, err := f.orch.StartConversation(context.Background())
	require.NoError(t, err)
	assert.Contains(t, greeting, r.ConversationID)

	stored, err := f.store.Load(r.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, session.ModeIntake, stored.Mode)
	require.Len(t, stored.Transcript, 1)
	assert.Equal(t, "assistant", stored.Transcript[0].Role)
}

func TestHandleTurnCapturesIdentityField(t *testing.T) {
	f := newFixture(t, envelope("Nice to meet you, Ada!", policy.Mutation{
		Name: policy.MutSetIdentityField,
		Args: map[string]string{"name": session.FieldUserName, "value": "Ada Lovelace"},
	}))

	reply, err := f.orch.HandleTurn(context.Background(), "conv-1", "Hi, I'm Ada Lovelace")
	require.NoError(t, err)
	assert.Equal(t, "Nice to meet you, Ada!", reply)

	r, err := f.store.Load("conv-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", r.Field(session.FieldUserName))
	require.Len(t, r.Transcript, 2)
	assert.Equal(t, "Hi, I'm Ada Lovelace", r.Transcript[0].Content)
}

func TestHandleTurnGenerationErrorLeavesRecordUntouched(t *testing.T) {
	f := newFixture(t)

	r := session.NewRecord("conv-err")
	r.AppendTurn("assistant", "hello", "intake")
	require.NoError(t, f.store.Save(r))

	f.chat.SetError(errors.New("upstream unavailable"))

	reply, err := f.orch.HandleTurn(context.Background(), "conv-err", "I Confirm")
	require.NoError(t, err)
	assert.Equal(t, policy.RetryReply, reply)

	// Nothing persisted: not the turn, and not the confirmation token.
	after, err := f.store.Load("conv-err")
	require.NoError(t, err)
	assert.Len(t, after.Transcript, 1)
	assert.False(t, after.ReadyToPay)
}

func TestHandleTurnRefusesOutOfModeMutation(t *testing.T) {
	// An intake policy has no checkout capability; the mutation is dropped
	// but the reply still goes out.
	f := newFixture(t, envelope("Let me set that up.", policy.Mutation{
		Name: policy.MutCreateCheckout,
		Args: map[string]string{"plan": "Classic"},
	}))

	reply, err := f.orch.HandleTurn(context.Background(), "conv-2", "take my money")
	require.NoError(t, err)
	assert.Equal(t, "Let me set that up.", reply)

	r, err := f.store.Load("conv-2")
	require.NoError(t, err)
	assert.Nil(t, r.Payment)
	assert.False(t, r.AwaitingPayment)
	assert.Zero(t, f.provider.created)
}

func TestHandleTurnSwitchDeniedAtLimitSkipsGeneration(t *testing.T) {
	f := newFixture(t)
	f.orch.classifier = intent.New(llm.NewMockClient(
		`{"is_restart_request":false,"is_switch_request":true,"switch_target":"C-CORP"}`))

	r := session.NewRecord("conv-3")
	r.Mode = session.ModeLLC
	r.SwitchCount = config.DefaultSwitchLimit
	require.NoError(t, f.store.Save(r))

	reply, err := f.orch.HandleTurn(context.Background(), "conv-3", "switch me to a C-Corp")
	require.NoError(t, err)
	assert.Equal(t, policy.SwitchLimitReply, reply)
	assert.Empty(t, f.chat.Requests())

	after, err := f.store.Load("conv-3")
	require.NoError(t, err)
	assert.Equal(t, session.ModeLLC, after.Mode)
	assert.Equal(t, config.DefaultSwitchLimit, after.SwitchCount)
}

func TestHandleTurnRestartAlwaysDenied(t *testing.T) {
	f := newFixture(t)
	f.orch.classifier = intent.New(llm.NewMockClient(
		`{"is_restart_request":true,"is_switch_request":false,"switch_target":""}`))

	r := session.NewRecord("conv-4")
	r.Mode = session.ModeCorp
	r.SetField(session.FieldUserName, "Ada Lovelace")
	require.NoError(t, f.store.Save(r))

	reply, err := f.orch.HandleTurn(context.Background(), "conv-4", "scrap everything and restart")
	require.NoError(t, err)
	assert.Equal(t, policy.RestartReply, reply)

	after, err := f.store.Load("conv-4")
	require.NoError(t, err)
	assert.Equal(t, session.ModeCorp, after.Mode)
	assert.Equal(t, "Ada Lovelace", after.Field(session.FieldUserName))
}

func TestConfirmationTokenArmsPaymentGate(t *testing.T) {
	f := newFixture(t, envelope("Moving to payment.", policy.Mutation{Name: policy.MutRequestPayment}))
	completeLLCRecord(t, f, "conv-5")

	_, err := f.orch.HandleTurn(context.Background(), "conv-5", "I Confirm")
	require.NoError(t, err)

	after, err := f.store.Load("conv-5")
	require.NoError(t, err)
	assert.Equal(t, session.ModePayment, after.Mode)
	assert.Equal(t, session.ModeLLC, after.OriginMode)
	assert.False(t, after.ReadyToPay)
}

func TestConfirmationTokenExpiresAfterOneTurn(t *testing.T) {
	f := newFixture(t,
		envelope("Great, you're confirmed. Anything else before we pay?"),
	)
	completeLLCRecord(t, f, "conv-14")

	_, err := f.orch.HandleTurn(context.Background(), "conv-14", "I Confirm")
	require.NoError(t, err)

	armed, err := f.store.Load("conv-14")
	require.NoError(t, err)
	assert.True(t, armed.ReadyToPay)

	// The next turn carries no confirmation, so the stale token must not let
	// the model push the conversation into payment.
	f.chat.Reset(envelope("Moving to payment.", policy.Mutation{Name: policy.MutRequestPayment}))
	reply, err := f.orch.HandleTurn(context.Background(), "conv-14", "actually, what does the filing fee cover?")
	require.NoError(t, err)
	assert.Contains(t, reply, policy.NotConfirmedReply)

	after, err := f.store.Load("conv-14")
	require.NoError(t, err)
	assert.Equal(t, session.ModeLLC, after.Mode)
	assert.False(t, after.ReadyToPay)
}

func TestInexactConfirmationDoesNotArmGate(t *testing.T) {
	f := newFixture(t, envelope("Moving to payment.", policy.Mutation{Name: policy.MutRequestPayment}))
	completeLLCRecord(t, f, "conv-6")

	reply, err := f.orch.HandleTurn(context.Background(), "conv-6", "I confirm!")
	require.NoError(t, err)
	assert.Contains(t, reply, policy.NotConfirmedReply)

	after, err := f.store.Load("conv-6")
	require.NoError(t, err)
	assert.Equal(t, session.ModeLLC, after.Mode)
}

func TestVerificationRoundTripThroughTurns(t *testing.T) {
	f := newFixture(t, envelope("Code sent!", policy.Mutation{
		Name: policy.MutSendVerificationCode,
		Args: map[string]string{"email": "ada@example.com"},
	}))

	reply, err := f.orch.HandleTurn(context.Background(), "conv-7", "verify my email ada@example.com")
	require.NoError(t, err)
	assert.Contains(t, reply, "a**@e******.com")
	require.NotEmpty(t, f.mailer.code)

	f.chat.Reset(envelope("Checking that code.", policy.Mutation{
		Name: policy.MutVerifyCode,
		Args: map[string]string{"code": f.mailer.code},
	}))

	reply, err = f.orch.HandleTurn(context.Background(), "conv-7", "the code is "+f.mailer.code)
	require.NoError(t, err)
	assert.Contains(t, reply, "verified")

	r, err := f.store.Load("conv-7")
	require.NoError(t, err)
	assert.True(t, r.Flag(session.FlagVerificationPassed))
	assert.Equal(t, session.VerificationVerified, r.Verification.State)
}

func TestCheckoutCreation(t *testing.T) {
	f := newFixture(t, envelope("Here is your payment link.", policy.Mutation{
		Name: policy.MutCreateCheckout,
		Args: map[string]string{"plan": "Classic", "billingCycle": payment.CycleYearly},
	}))

	r := completeLLCRecord(t, f, "conv-8")
	r.OriginMode = session.ModeLLC
	r.Mode = session.ModePayment
	require.NoError(t, f.store.Save(r))

	reply, err := f.orch.HandleTurn(context.Background(), "conv-8", "I'll take Classic")
	require.NoError(t, err)
	assert.Contains(t, reply, "https://pay.example/cs_test_123")

	after, err := f.store.Load("conv-8")
	require.NoError(t, err)
	require.NotNil(t, after.Payment)
	assert.Equal(t, "cs_test_123", after.Payment.CheckoutID)
	// Classic yearly $299 plus Delaware LLC filing fee $90.
	assert.Equal(t, int64(38900), after.Payment.TotalDueCents)
	assert.True(t, after.AwaitingPayment)
}

func TestPaymentReturnForcesStatusCheck(t *testing.T) {
	f := newFixture(t, envelope("Checking now.", policy.Mutation{Name: policy.MutCheckPaymentStatus}))
	f.provider.status = payment.StatusComplete

	r := completeLLCRecord(t, f, "conv-9")
	r.OriginMode = session.ModeLLC
	r.Mode = session.ModePayment
	r.AwaitingPayment = true
	r.Payment = &session.Payment{CheckoutID: "cs_test_123", Plan: "Classic", TotalDueCents: 38900}
	require.NoError(t, f.store.Save(r))

	reply, err := f.orch.HandleTurn(context.Background(), "conv-9", "ok I paid, I'm back")
	require.NoError(t, err)
	assert.Contains(t, reply, "🎉")
	assert.Equal(t, 1, f.provider.queried)

	after, err := f.store.Load("conv-9")
	require.NoError(t, err)
	assert.False(t, after.AwaitingPayment)
}

func TestResumeIsIdempotent(t *testing.T) {
	f := newFixture(t)

	r := completeLLCRecord(t, f, "conv-10")
	r.OriginMode = session.ModeLLC
	r.Mode = session.ModePayment
	r.AwaitingPayment = true
	r.Payment = &session.Payment{CheckoutID: "cs_test_123", Plan: "Classic", TotalDueCents: 38900}
	require.NoError(t, f.store.Save(r))

	first, err := f.orch.Resume(context.Background(), "conv-10", "success", "cs_test_123")
	require.NoError(t, err)
	afterFirst, err := f.store.Load("conv-10")
	require.NoError(t, err)

	second, err := f.orch.Resume(context.Background(), "conv-10", "success", "cs_test_123")
	require.NoError(t, err)
	afterSecond, err := f.store.Load("conv-10")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	afterFirst.UpdatedAt = afterSecond.UpdatedAt
	assert.Equal(t, afterFirst, afterSecond)
	assert.Len(t, afterSecond.Transcript, len(afterFirst.Transcript))
}

func TestResumeCompletesPayment(t *testing.T) {
	f := newFixture(t)
	f.provider.status = payment.StatusComplete
	f.chat.Enqueue("Your LLC filing is underway. Congratulations!")

	r := completeLLCRecord(t, f, "conv-11")
	r.OriginMode = session.ModeLLC
	r.Mode = session.ModePayment
	r.AwaitingPayment = true
	r.Payment = &session.Payment{CheckoutID: "cs_test_123"}
	require.NoError(t, f.store.Save(r))

	reply, err := f.orch.Resume(context.Background(), "conv-11", "success", "cs_test_123")
	require.NoError(t, err)
	assert.Contains(t, reply, "🎉")

	after, err := f.store.Load("conv-11")
	require.NoError(t, err)
	assert.False(t, after.AwaitingPayment)
}

func TestResumeDerivesOriginAndAdoptsCheckout(t *testing.T) {
	f := newFixture(t)

	r := session.NewRecord("conv-12")
	r.Mode = session.ModeLLC
	r.SetFlag(session.FlagGovernanceSet, true)
	require.NoError(t, f.store.Save(r))

	_, err := f.orch.Resume(context.Background(), "conv-12", "success", "cs_live_456")
	require.NoError(t, err)

	after, err := f.store.Load("conv-12")
	require.NoError(t, err)
	assert.Equal(t, session.ModePayment, after.Mode)
	assert.Equal(t, session.ModeLLC, after.OriginMode)
	require.NotNil(t, after.Payment)
	assert.Equal(t, "cs_live_456", after.Payment.CheckoutID)
}

func TestResumeCancelHint(t *testing.T) {
	f := newFixture(t)

	r := completeLLCRecord(t, f, "conv-13")
	r.OriginMode = session.ModeLLC
	r.Mode = session.ModePayment
	r.AwaitingPayment = true
	r.Payment = &session.Payment{CheckoutID: "cs_test_123"}
	require.NoError(t, f.store.Save(r))

	reply, err := f.orch.Resume(context.Background(), "conv-13", "cancel", "")
	require.NoError(t, err)
	assert.Contains(t, reply, "cancelled")

	after, err := f.store.Load("conv-13")
	require.NoError(t, err)
	assert.False(t, after.AwaitingPayment)
	assert.Zero(t, f.provider.queried)
}

func TestLooksLikePaymentReturn(t *testing.T) {
	cases := []struct {
		message string
		want    bool
	}{
		{"I just paid, what now?", true},
		{"ok payment done", true},
		{"I'm back from the payment page", true},
		{"how much do I have to pay?", false},
		{"what plans do you offer?", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, looksLikePaymentReturn(tc.message), tc.message)
	}
}

func TestEntityLabel(t *testing.T) {
	r := session.NewRecord("x")
	assert.Equal(t, "", entityLabel(r))

	r.Mode = session.ModeLLC
	assert.Equal(t, "LLC", entityLabel(r))

	r.Mode = session.ModeCorp
	assert.Equal(t, "C-Corp", entityLabel(r))
	r.SetField(session.FieldEntitySubtype, "S-Corp")
	assert.Equal(t, "S-Corp", entityLabel(r))

	r.Mode = session.ModePayment
	r.OriginMode = session.ModeCorp
	assert.Equal(t, "S-Corp", entityLabel(r))
}

func TestSummarizerSkipsWhileInFlight(t *testing.T) {
	block := make(chan struct{})
	client := &blockingClient{release: block}
	s := NewSummarizer(client)

	r := session.NewRecord("conv-14")
	s.Trigger("conv-14", r.Clone())

	// Wait until the first summary is actually running.
	require.Eventually(t, func() bool { return client.Calls() == 1 }, time.Second, 5*time.Millisecond)

	s.Trigger("conv-14", r.Clone())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, client.Calls())

	close(block)
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.inflight["conv-14"]
	}, time.Second, 5*time.Millisecond)

	// A fresh trigger runs once the previous one finished.
	s.Trigger("conv-14", r.Clone())
	require.Eventually(t, func() bool { return client.Calls() == 2 }, time.Second, 5*time.Millisecond)
}

// blockingClient parks Complete calls until released.
type blockingClient struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (b *blockingClient) Complete(ctx context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return llm.CompletionResponse{Content: "summary"}, nil
}

func (b *blockingClient) ModelName() string { return "blocking" }

func (b *blockingClient) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}
