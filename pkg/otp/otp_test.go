package otp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incubator/pkg/metrics"
	"incubator/pkg/session"
)

// fakeMailer captures sent codes instead of delivering them.
type fakeMailer struct {
	codes []string
	to    []string
	err   error
}

func (f *fakeMailer) Send(_ context.Context, to, code string) error {
	if f.err != nil {
		return f.err
	}
	f.to = append(f.to, to)
	f.codes = append(f.codes, code)
	return nil
}

func newTestVerifier(mailer *fakeMailer) (*Verifier, *time.Time) {
	v := NewVerifier(mailer)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	v.now = func() time.Time { return *clock }
	return v, clock
}

func TestSendAndVerifyHappyPath(t *testing.T) {
	mailer := &fakeMailer{}
	v, _ := newTestVerifier(mailer)
	rec := &session.Verification{State: session.VerificationUnsent}

	require.NoError(t, v.Send(context.Background(), rec, "ada@example.com"))
	require.Len(t, mailer.codes, 1)
	assert.Equal(t, session.VerificationSent, rec.State)
	assert.Len(t, mailer.codes[0], CodeLength)
	assert.NotContains(t, rec.CodeDigest, mailer.codes[0], "code must not be stored")

	require.NoError(t, v.Verify(rec, mailer.codes[0]))
	assert.True(t, rec.Verified)
	assert.Equal(t, session.VerificationVerified, rec.State)
	assert.Empty(t, rec.CodeDigest)
	assert.Empty(t, rec.Salt)
}

func TestVerifyIncorrectThenCorrect(t *testing.T) {
	mailer := &fakeMailer{}
	v, _ := newTestVerifier(mailer)
	rec := &session.Verification{State: session.VerificationUnsent}
	require.NoError(t, v.Send(context.Background(), rec, "ada@example.com"))

	wrong := "000000"
	if mailer.codes[0] == wrong {
		wrong = "000001"
	}
	err := v.Verify(rec, wrong)
	assert.ErrorIs(t, err, ErrIncorrect)
	assert.Equal(t, 1, rec.AttemptCount)

	require.NoError(t, v.Verify(rec, mailer.codes[0]))
	assert.True(t, rec.Verified)
}

func TestVerifyExpiredIsDistinctAndCostsNoAttempt(t *testing.T) {
	mailer := &fakeMailer{}
	v, clock := newTestVerifier(mailer)
	rec := &session.Verification{State: session.VerificationUnsent}
	require.NoError(t, v.Send(context.Background(), rec, "ada@example.com"))

	*clock = clock.Add(CodeTTL + time.Minute)

	err := v.Verify(rec, mailer.codes[0])
	assert.ErrorIs(t, err, ErrExpired)
	assert.NotErrorIs(t, err, ErrIncorrect)
	assert.Equal(t, 0, rec.AttemptCount)
	assert.False(t, rec.Verified)
}

func TestAttemptCeilingInvalidatesCode(t *testing.T) {
	mailer := &fakeMailer{}
	v, _ := newTestVerifier(mailer)
	rec := &session.Verification{State: session.VerificationUnsent}
	require.NoError(t, v.Send(context.Background(), rec, "ada@example.com"))

	wrong := "999999"
	if mailer.codes[0] == wrong {
		wrong = "999998"
	}

	for i := 0; i < MaxAttempts-1; i++ {
		assert.ErrorIs(t, v.Verify(rec, wrong), ErrIncorrect)
	}
	// Final attempt hits the ceiling and the code dies with it.
	assert.ErrorIs(t, v.Verify(rec, wrong), ErrTooManyAttempts)
	assert.Equal(t, session.VerificationUnsent, rec.State)
	assert.Empty(t, rec.CodeDigest)

	// Even the right code is dead now.
	assert.ErrorIs(t, v.Verify(rec, mailer.codes[0]), ErrNoCodePending)
}

func TestResendThrottling(t *testing.T) {
	mailer := &fakeMailer{}
	v, clock := newTestVerifier(mailer)
	rec := &session.Verification{State: session.VerificationUnsent}

	for i := 0; i < MaxResends; i++ {
		require.NoError(t, v.Send(context.Background(), rec, "ada@example.com"))
	}

	err := v.Send(context.Background(), rec, "ada@example.com")
	var cooldown *CooldownError
	require.ErrorAs(t, err, &cooldown)
	assert.Greater(t, cooldown.Wait, time.Duration(0))
	assert.Len(t, mailer.codes, MaxResends)

	// Window rolls over and sends work again.
	*clock = clock.Add(ResendWindow + time.Second)
	require.NoError(t, v.Send(context.Background(), rec, "ada@example.com"))
	assert.Equal(t, 1, rec.ResendCount)
}

func TestDeliveryFailureBurnsNoBudget(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("smtp down")}
	v, _ := newTestVerifier(mailer)
	rec := &session.Verification{State: session.VerificationUnsent}

	err := v.Send(context.Background(), rec, "ada@example.com")
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Equal(t, session.VerificationUnsent, rec.State)
	assert.Equal(t, 0, rec.ResendCount)

	mailer.err = nil
	require.NoError(t, v.Send(context.Background(), rec, "ada@example.com"))
}

func TestVerifiedIsOneWay(t *testing.T) {
	mailer := &fakeMailer{}
	v, _ := newTestVerifier(mailer)
	rec := &session.Verification{State: session.VerificationUnsent}
	require.NoError(t, v.Send(context.Background(), rec, "ada@example.com"))
	require.NoError(t, v.Verify(rec, mailer.codes[0]))

	// Same target: refuse to re-enter SENT.
	assert.ErrorIs(t, v.Send(context.Background(), rec, "ada@example.com"), ErrAlreadyVerified)
	// Different target without explicit reset: refused.
	assert.ErrorIs(t, v.Send(context.Background(), rec, "grace@example.com"), ErrTargetLocked)
	// Verifying again is refused too.
	assert.ErrorIs(t, v.Verify(rec, mailer.codes[0]), ErrAlreadyVerified)
}

func TestResetStartsFreshCycle(t *testing.T) {
	mailer := &fakeMailer{}
	v, _ := newTestVerifier(mailer)
	rec := &session.Verification{State: session.VerificationUnsent}
	require.NoError(t, v.Send(context.Background(), rec, "ada@example.com"))
	require.NoError(t, v.Verify(rec, mailer.codes[0]))

	v.Reset(rec, "grace@example.com")
	assert.False(t, rec.Verified)
	assert.Equal(t, session.VerificationUnsent, rec.State)
	assert.Equal(t, "grace@example.com", rec.Target)

	require.NoError(t, v.Send(context.Background(), rec, "grace@example.com"))
	require.NoError(t, v.Verify(rec, mailer.codes[1]))
	assert.True(t, rec.Verified)
}

func TestVerifyMalformedCode(t *testing.T) {
	mailer := &fakeMailer{}
	v, _ := newTestVerifier(mailer)
	rec := &session.Verification{State: session.VerificationUnsent}
	require.NoError(t, v.Send(context.Background(), rec, "ada@example.com"))

	for _, code := range []string{"", "12345", "1234567", "12345a"} {
		assert.ErrorIs(t, v.Verify(rec, code), ErrMalformedCode, "code=%q", code)
	}
	assert.Equal(t, 0, rec.AttemptCount)
}

func TestVerifyWithoutSend(t *testing.T) {
	v, _ := newTestVerifier(&fakeMailer{})
	rec := &session.Verification{State: session.VerificationUnsent}

	assert.ErrorIs(t, v.Verify(rec, "123456"), ErrNoCodePending)
}

func TestGeneratedCodesAreWellFormed(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		assert.True(t, isWellFormed(code), "code=%q", code)
		seen[code] = true
	}
	// Not a randomness proof, just a sanity check against a constant generator.
	assert.Greater(t, len(seen), 1)
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "a**@e******.com", MaskEmail("ada@example.com"))
	assert.Equal(t, "***", MaskEmail("nodomain"))
	assert.Equal(t, "", MaskEmail(""))
}

func TestCountersMoveOncePerEvent(t *testing.T) {
	mailer := &fakeMailer{}
	v, _ := newTestVerifier(mailer)
	rec := &session.Verification{State: session.VerificationUnsent}

	sentBefore := testutil.ToFloat64(metrics.OTPSendsTotal.WithLabelValues("sent"))
	require.NoError(t, v.Send(context.Background(), rec, "ada@example.com"))
	assert.Equal(t, sentBefore+1, testutil.ToFloat64(metrics.OTPSendsTotal.WithLabelValues("sent")))

	verifiedBefore := testutil.ToFloat64(metrics.OTPVerifiesTotal.WithLabelValues("verified"))
	require.NoError(t, v.Verify(rec, mailer.codes[0]))
	assert.Equal(t, verifiedBefore+1, testutil.ToFloat64(metrics.OTPVerifiesTotal.WithLabelValues("verified")))
}
