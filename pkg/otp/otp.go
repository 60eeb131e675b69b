// Package otp implements email ownership verification: one-time codes with a
// salted scrypt digest at rest, bounded attempts, TTL expiry, and rolling
// resend throttling.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/scrypt"

	"incubator/pkg/logx"
	"incubator/pkg/metrics"
	"incubator/pkg/session"
)

// Code and throttling parameters.
const (
	CodeLength   = 6
	CodeTTL      = 10 * time.Minute
	MaxAttempts  = 5
	ResendWindow = 10 * time.Minute
	MaxResends   = 3 // sends allowed per rolling window
)

// scrypt parameters for the code digest.
const (
	scryptN       = 32768
	scryptR       = 8
	scryptP       = 1
	scryptKeySize = 32
	saltSize      = 16
)

// Verification outcome errors. Expired and incorrect are deliberately
// distinct: an expired code never burns an attempt.
var (
	ErrExpired         = errors.New("verification code expired")
	ErrIncorrect       = errors.New("verification code incorrect")
	ErrTooManyAttempts = errors.New("too many verification attempts, request a new code")
	ErrNoCodePending   = errors.New("no verification code pending")
	ErrMalformedCode   = errors.New("verification code must be 6 digits")
	ErrAlreadyVerified = errors.New("email already verified")
	ErrTargetLocked    = errors.New("a different email is already verified for this conversation")
	ErrDeliveryFailed  = errors.New("verification code delivery failed")
)

// CooldownError reports how long the caller must wait before another send.
type CooldownError struct {
	Wait time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("resend limit reached, retry in %s", e.Wait.Round(time.Second))
}

// Verifier drives the UNSENT -> SENT -> VERIFIED state machine on a
// session.Verification sub-record. It holds no per-conversation state itself.
type Verifier struct {
	mailer Mailer
	logger *logx.Logger
	now    func() time.Time
}

func NewVerifier(mailer Mailer) *Verifier {
	return &Verifier{
		mailer: mailer,
		logger: logx.NewLogger("otp"),
		now:    time.Now,
	}
}

// Send generates a fresh code for target and emails it. The record is only
// mutated after delivery succeeds, so a failed send burns no resend budget.
func (v *Verifier) Send(ctx context.Context, rec *session.Verification, target string) error {
	if rec.Verified {
		if rec.Target == target {
			return ErrAlreadyVerified
		}
		// Verification is one-way. Changing the verified identity requires an
		// explicit Reset by a policy holding that capability.
		return ErrTargetLocked
	}

	now := v.now().UTC()

	// Roll the throttle window forward.
	windowStart := rec.WindowStart
	resendCount := rec.ResendCount
	if windowStart.IsZero() || now.Sub(windowStart) > ResendWindow {
		windowStart = now
		resendCount = 0
	}
	if resendCount >= MaxResends {
		wait := windowStart.Add(ResendWindow).Sub(now)
		metrics.OTPSendsTotal.WithLabelValues("throttled").Inc()
		v.logger.Info("⏳ Resend throttled for %s, %s remaining", MaskEmail(target), wait.Round(time.Second))
		return &CooldownError{Wait: wait}
	}

	code, err := generateCode()
	if err != nil {
		return logx.Wrap(err, "failed to generate verification code")
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return logx.Wrap(err, "failed to generate salt")
	}
	digest, err := digestCode(code, salt)
	if err != nil {
		return logx.Wrap(err, "failed to digest verification code")
	}

	if err := v.mailer.Send(ctx, target, code); err != nil {
		metrics.OTPSendsTotal.WithLabelValues("delivery_error").Inc()
		v.logger.Error("Delivery to %s failed: %v", MaskEmail(target), err)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	rec.Target = target
	rec.State = session.VerificationSent
	rec.CodeDigest = hex.EncodeToString(digest)
	rec.Salt = hex.EncodeToString(salt)
	rec.IssuedAt = now
	rec.AttemptCount = 0
	rec.WindowStart = windowStart
	rec.ResendCount = resendCount + 1

	metrics.OTPSendsTotal.WithLabelValues("sent").Inc()
	v.logger.Info("📧 Verification code sent to %s (send %d/%d this window)",
		MaskEmail(target), rec.ResendCount, MaxResends)
	return nil
}

// Verify checks a code the user typed back. Expiry is checked before the
// attempt counter, so an expired guess reports ErrExpired and costs nothing.
// On success the record moves to VERIFIED and the digest is cleared.
func (v *Verifier) Verify(rec *session.Verification, code string) error {
	if rec.Verified {
		return ErrAlreadyVerified
	}
	if rec.State != session.VerificationSent {
		return ErrNoCodePending
	}
	if !isWellFormed(code) {
		return ErrMalformedCode
	}

	now := v.now().UTC()
	if now.Sub(rec.IssuedAt) > CodeTTL {
		// No resend budget left means nothing can follow; drop back to UNSENT.
		if rec.ResendCount >= MaxResends && now.Sub(rec.WindowStart) <= ResendWindow {
			v.invalidate(rec)
		}
		metrics.OTPVerifiesTotal.WithLabelValues("expired").Inc()
		return ErrExpired
	}

	if rec.AttemptCount >= MaxAttempts {
		v.invalidate(rec)
		metrics.OTPVerifiesTotal.WithLabelValues("exhausted").Inc()
		return ErrTooManyAttempts
	}

	salt, err := hex.DecodeString(rec.Salt)
	if err != nil {
		return logx.Errorf("corrupt verification salt: %v", err)
	}
	stored, err := hex.DecodeString(rec.CodeDigest)
	if err != nil {
		return logx.Errorf("corrupt verification digest: %v", err)
	}
	guess, err := digestCode(code, salt)
	if err != nil {
		return logx.Wrap(err, "failed to digest verification guess")
	}

	if subtle.ConstantTimeCompare(guess, stored) != 1 {
		rec.AttemptCount++
		if rec.AttemptCount >= MaxAttempts {
			v.invalidate(rec)
			metrics.OTPVerifiesTotal.WithLabelValues("exhausted").Inc()
			v.logger.Info("🚫 Attempt ceiling reached for %s", MaskEmail(rec.Target))
			return ErrTooManyAttempts
		}
		metrics.OTPVerifiesTotal.WithLabelValues("incorrect").Inc()
		return ErrIncorrect
	}

	rec.State = session.VerificationVerified
	rec.Verified = true
	rec.CodeDigest = ""
	rec.Salt = ""
	metrics.OTPVerifiesTotal.WithLabelValues("verified").Inc()
	v.logger.Info("✅ Email verified: %s", MaskEmail(rec.Target))
	return nil
}

// Reset clears the record for a new target identity. Callers must hold the
// reset capability; the verifier does not check authorization itself.
func (v *Verifier) Reset(rec *session.Verification, newTarget string) {
	v.logger.Info("🔄 Verification reset: %s -> %s", MaskEmail(rec.Target), MaskEmail(newTarget))
	*rec = session.Verification{
		Target: newTarget,
		State:  session.VerificationUnsent,
	}
}

// invalidate drops a live code; a fresh send is required afterwards.
func (v *Verifier) invalidate(rec *session.Verification) {
	rec.State = session.VerificationUnsent
	rec.CodeDigest = ""
	rec.Salt = ""
	rec.AttemptCount = 0
}

// generateCode returns a fixed-length numeric code from crypto/rand.
func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < CodeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n), nil
}

func digestCode(code string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(code), salt, scryptN, scryptR, scryptP, scryptKeySize)
}

func isWellFormed(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// MaskEmail hides most of an address for log lines: ada@example.com -> a**@e******.com.
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}
	at := -1
	for i, c := range email {
		if c == '@' {
			at = i
			break
		}
	}
	if at <= 0 || at == len(email)-1 {
		return "***"
	}
	local, domain := email[:at], email[at+1:]
	dot := len(domain)
	for i := len(domain) - 1; i >= 0; i-- {
		if domain[i] == '.' {
			dot = i
			break
		}
	}
	masked := string(local[0])
	for i := 1; i < len(local); i++ {
		masked += "*"
	}
	masked += "@" + string(domain[0])
	for i := 1; i < dot; i++ {
		masked += "*"
	}
	return masked + domain[dot:]
}
