package predictsvc

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/menta2k/pulmoscan/pkg/client"
	"github.com/menta2k/pulmoscan/pkg/types"
)

// ResilienceConfig tunes throttling, retries and the circuit breaker
type ResilienceConfig struct {
	RateLimit           float64       // requests per second, 0 disables
	Burst               int
	MaxRetries          uint64
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerInterval     time.Duration
	BreakerOpenTimeout  time.Duration
}

// DefaultResilienceConfig returns conservative defaults
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		RateLimit:           2,
		Burst:               2,
		MaxRetries:          2,
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		BreakerMinRequests:  3,
		BreakerFailureRatio: 0.6,
		BreakerInterval:     30 * time.Second,
		BreakerOpenTimeout:  30 * time.Second,
	}
}

// Resilient wraps a PredictionClient with a rate limiter, bounded retries
// and a circuit breaker
type Resilient struct {
	next    client.PredictionClient
	config  ResilienceConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewResilient decorates next
func NewResilient(next client.PredictionClient, config ResilienceConfig, logger *logrus.Logger) *Resilient {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	r := &Resilient{next: next, config: config, logger: logger}

	if config.RateLimit > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	minRequests := config.BreakerMinRequests
	ratio := config.BreakerFailureRatio
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "prediction-service",
		MaxRequests: 1,
		Interval:    config.BreakerInterval,
		Timeout:     config.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if minRequests == 0 || ratio <= 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithField("breaker", name).Warnf("circuit breaker changed from %v to %v", from, to)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !countsAsOutage(err)
		},
	})
	return r
}

// State returns the breaker state
func (r *Resilient) State() gobreaker.State {
	return r.breaker.State()
}

// Predict forwards req, retrying transient failures
func (r *Resilient) Predict(ctx context.Context, req types.PredictionRequest) (*types.WireResponse, error) {
	var result *types.WireResponse
	attempt := 0

	op := func() error {
		attempt++
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(types.NewRequestError(0, "prediction cancelled: "+err.Error(), err))
			}
		}

		out, err := r.breaker.Execute(func() (interface{}, error) {
			return r.next.Predict(ctx, req)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(types.NewRequestError(http.StatusServiceUnavailable,
					"prediction service temporarily unavailable", err))
			}
			if ctx.Err() != nil || !retryable(err) {
				return backoff.Permanent(err)
			}
			r.logger.WithFields(logrus.Fields{
				"request_id": req.ID,
				"attempt":    attempt,
			}).Debugf("retrying prediction: %v", err)
			return err
		}
		result = out.(*types.WireResponse)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	if r.config.InitialInterval > 0 {
		b.InitialInterval = r.config.InitialInterval
	}
	if r.config.MaxInterval > 0 {
		b.MaxInterval = r.config.MaxInterval
	}
	b.MaxElapsedTime = 0

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, r.config.MaxRetries), ctx)); err != nil {
		var reqErr *types.RequestError
		if errors.As(err, &reqErr) {
			return nil, reqErr
		}
		return nil, types.NewRequestError(0, err.Error(), err)
	}
	return result, nil
}

// retryable is true for transport failures, throttling and server errors
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var reqErr *types.RequestError
	if !errors.As(err, &reqErr) {
		return true
	}
	if reqErr.StatusCode == 0 {
		return !errors.Is(reqErr.Err, types.ErrUnknownTask)
	}
	return reqErr.StatusCode == http.StatusTooManyRequests || reqErr.StatusCode >= 500
}

// countsAsOutage decides what the breaker treats as a failure. Rejections of
// a bad upload and abandoned requests say nothing about service health.
func countsAsOutage(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, types.ErrUnknownTask) {
		return false
	}
	var reqErr *types.RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode >= 400 && reqErr.StatusCode < 500 &&
		reqErr.StatusCode != http.StatusTooManyRequests {
		return false
	}
	return true
}
