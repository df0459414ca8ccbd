package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edlab/edlab/internal/apperr"
	"github.com/edlab/edlab/internal/config"
	"github.com/edlab/edlab/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestChallengeStoresHash(t *testing.T) {
	f := newFixture(t, config.VerificationStrict)
	ctx := context.Background()

	code, err := f.otp.RequestChallenge(ctx, " +15550001 ")
	require.NoError(t, err)
	assert.Len(t, code, 4)
	assert.Equal(t, code, f.sender.codes["+15550001"])

	stored, err := f.stores.OTPs.Get(ctx, "+15550001")
	require.NoError(t, err)
	assert.NotEqual(t, code, stored.OTPHash)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), stored.ExpiresAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OTPChallenges))
}

func TestRequestChallengeRequiresPhone(t *testing.T) {
	f := newFixture(t, config.VerificationStrict)

	_, err := f.otp.RequestChallenge(context.Background(), "  ")
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Phone number is required", verr.Message)
}

func TestRequestChallengeDeliveryFailure(t *testing.T) {
	f := newFixture(t, config.VerificationStrict)
	f.sender.err = errBoom

	_, err := f.otp.RequestChallenge(context.Background(), "+15550001")
	var derr *apperr.DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.ErrorIs(t, err, errBoom)
}

func TestStrictVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("issued code", func(t *testing.T) {
		f := newFixture(t, config.VerificationStrict)
		code, err := f.otp.RequestChallenge(ctx, "+15550001")
		require.NoError(t, err)

		require.NoError(t, f.otp.Verify(ctx, "+15550001", code))

		// the challenge is single use
		err = f.otp.Verify(ctx, "+15550001", code)
		assert.True(t, apperr.IsNotFound(err))
		assert.Equal(t, "OTP not found or expired", err.Error())
	})

	t.Run("wrong code consumes the challenge", func(t *testing.T) {
		f := newFixture(t, config.VerificationStrict)
		code, err := f.otp.RequestChallenge(ctx, "+15550001")
		require.NoError(t, err)

		wrong := "0000"
		if code == wrong {
			wrong = "1111"
		}
		err = f.otp.Verify(ctx, "+15550001", wrong)
		require.True(t, apperr.IsValidation(err))
		assert.Equal(t, "Invalid OTP", err.Error())

		assert.True(t, apperr.IsNotFound(f.otp.Verify(ctx, "+15550001", code)))
	})

	t.Run("resend replaces the previous code", func(t *testing.T) {
		f := newFixture(t, config.VerificationStrict)
		_, err := f.otp.RequestChallenge(ctx, "+15550001")
		require.NoError(t, err)
		second, err := f.otp.RequestChallenge(ctx, "+15550001")
		require.NoError(t, err)

		assert.NoError(t, f.otp.Verify(ctx, "+15550001", second))
	})
}

func TestVerifyExpiredChallenge(t *testing.T) {
	f := newFixture(t, config.VerificationDemo)
	ctx := context.Background()

	_, err := f.otp.RequestChallenge(ctx, "+15550001")
	require.NoError(t, err)

	f.clock.Advance(5*time.Minute + time.Second)
	err = f.otp.Verify(ctx, "+15550001", "1234")
	require.True(t, apperr.IsExpired(err))
	assert.Equal(t, "OTP has expired", err.Error())

	_, err = f.stores.OTPs.Get(ctx, "+15550001")
	assert.True(t, apperr.IsNotFound(err), "expired challenge is deleted")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OTPVerifications.WithLabelValues("expired")))
}

func TestDemoVerificationPolicy(t *testing.T) {
	policy := DemoVerificationPolicy{Length: 4}
	challenge := &models.OTPData{OTPHash: "unused"}

	tests := []struct {
		code string
		want bool
	}{
		{code: "9999", want: true},
		{code: "0000", want: true},
		{code: "123", want: false},
		{code: "12345", want: false},
		{code: "12a4", want: false},
		{code: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Verify(challenge, tt.code))
		})
	}
	assert.True(t, policy.EchoCode())
	assert.False(t, StrictVerificationPolicy{}.EchoCode())
}

func TestNewVerificationPolicy(t *testing.T) {
	p, err := NewVerificationPolicy(&config.OTPConfig{VerificationMode: config.VerificationDemo, Length: 6})
	require.NoError(t, err)
	assert.Equal(t, DemoVerificationPolicy{Length: 6}, p)

	p, err = NewVerificationPolicy(&config.OTPConfig{VerificationMode: config.VerificationStrict})
	require.NoError(t, err)
	assert.IsType(t, StrictVerificationPolicy{}, p)

	_, err = NewVerificationPolicy(&config.OTPConfig{VerificationMode: "lenient"})
	assert.Error(t, err)
}

func TestConcurrentVerifyAcceptsChallengeOnce(t *testing.T) {
	f := newFixture(t, config.VerificationStrict)
	ctx := context.Background()
	const workers = 16

	code, err := f.otp.RequestChallenge(ctx, "+15550001")
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		accepted atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := f.otp.Verify(ctx, "+15550001", code); err == nil {
				accepted.Add(1)
			} else {
				assert.True(t, apperr.IsNotFound(err), "unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OTPVerifications.WithLabelValues("success")))
	assert.Equal(t, float64(workers-1), testutil.ToFloat64(f.metrics.OTPVerifications.WithLabelValues("not_found")))
}
