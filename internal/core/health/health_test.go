package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Classify(200, 200))
	assert.Equal(t, OutcomeFailure, Classify(503, 200))
	assert.Equal(t, OutcomeFailure, Classify(301, 200))
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.MaxAttempts = 0
	assert.ErrorIs(t, p.Validate(), ErrInvalidPolicy)

	p = DefaultPolicy()
	p.BackoffFactor = 0.5
	assert.ErrorIs(t, p.Validate(), ErrInvalidPolicy)

	p = DefaultPolicy()
	p.ExpectedStatus = 42
	assert.ErrorIs(t, p.Validate(), ErrInvalidPolicy)

	p = DefaultPolicy()
	p.Deadline = 0
	assert.ErrorIs(t, p.Validate(), ErrInvalidPolicy)
}

func TestPolicy_FixedDelay(t *testing.T) {
	p := Policy{Interval: 5 * time.Second, BackoffFactor: 1}
	assert.Equal(t, time.Duration(0), p.Delay(1))
	assert.Equal(t, 5*time.Second, p.Delay(2))
	assert.Equal(t, 5*time.Second, p.Delay(4))
}

func TestPolicy_BackoffDelay(t *testing.T) {
	p := Policy{Interval: 2 * time.Second, BackoffFactor: 2}
	assert.Equal(t, time.Duration(0), p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
}

func TestResult_Healthy(t *testing.T) {
	assert.False(t, Result{}.Healthy())
	assert.True(t, Result{SucceededAt: 3}.Healthy())
}

func TestExhaustedError(t *testing.T) {
	code := 503
	err := &ExhaustedError{
		Target: "http://lb.example/health",
		Attempts: []Attempt{
			{Number: 1, StatusCode: &code, Outcome: OutcomeFailure},
			{Number: 2, StatusCode: &code, Outcome: OutcomeFailure},
			{Number: 3, StatusCode: &code, Outcome: OutcomeFailure},
		},
	}
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Contains(t, err.Error(), "after 3 attempts")
}
