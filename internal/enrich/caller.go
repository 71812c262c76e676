package enrich

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/legis-enrich/internal/resilience"
	"github.com/sells-group/legis-enrich/pkg/anthropic"
)

// errWaitInterrupted is returned when the batch context ends while an item
// waits for a request slot. No request was sent.
var errWaitInterrupted = eris.New("enrich: interrupted waiting for request slot")

// caller is the request machinery shared by the orchestrator and the
// classifier: throttling, per-call timeout, error classification and token
// accounting.
type caller struct {
	client  anthropic.Client
	limiter *resilience.AdaptiveLimiter
	timeout time.Duration

	mu    sync.Mutex
	usage anthropic.TokenUsage
}

func newCaller(client anthropic.Client, opts Options) *caller {
	return &caller{
		client:  client,
		limiter: resilience.NewAdaptiveLimiter("anthropic", rate.Limit(opts.RequestsPerSecond), opts.Burst),
		timeout: opts.CallTimeout,
	}
}

// call sends one request. Cancelling ctx only interrupts the wait for a
// request slot; a request that was sent runs until it completes or the
// call timeout fires.
func (c *caller) call(ctx context.Context, phase string, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errWaitInterrupted
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	resp, err := c.client.CreateMessage(callCtx, req)
	if err != nil {
		return nil, c.classify(err)
	}
	c.limiter.OnSuccess()

	c.mu.Lock()
	c.usage.Add(resp.Usage)
	c.mu.Unlock()
	resp.Usage.LogCost(req.Model, phase)

	return resp, nil
}

// classify marks API errors transient or permanent by status. Errors without
// a status are left to resilience.IsTransient.
func (c *caller) classify(err error) error {
	code := anthropic.StatusCode(err)
	switch {
	case code == http.StatusTooManyRequests:
		c.limiter.OnRateLimit()
		return resilience.NewTransientError(err, code)
	case code > 0 && resilience.IsTransientHTTPStatus(code):
		return resilience.NewTransientError(err, code)
	case code > 0:
		return resilience.NewPermanentError(err)
	}
	return err
}

// Usage returns the tokens consumed so far.
func (c *caller) Usage() anthropic.TokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}
