package llm

import (
	"context"
	"errors"

	"github.com/wolfman30/medspa-telehealth/internal/apperr"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

// FallbackClient retries a failed completion on a second provider. Timeouts
// are not retried because the caller's budget is already spent. When both
// fail, a primary configuration or model error outranks a transient fallback
// error so operators still see what to fix.
type FallbackClient struct {
	primary  Client
	fallback Client
	logger   *logging.Logger
}

// NewFallbackClient wraps primary; a nil fallback makes it a pass-through.
func NewFallbackClient(primary, fallback Client, logger *logging.Logger) *FallbackClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackClient{primary: primary, fallback: fallback, logger: logger}
}

func (c *FallbackClient) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if c.fallback == nil || ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return Response{}, err
	}

	c.logger.Warn("primary LLM failed, attempting fallback", "error", err)
	// The fallback has its own default model.
	req.Model = ""
	fallbackResp, fallbackErr := c.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		c.logger.Error("fallback LLM also failed", "primary_error", err, "fallback_error", fallbackErr)
		if operatorFixable(err) && !operatorFixable(fallbackErr) {
			return Response{}, err
		}
		return Response{}, fallbackErr
	}
	c.logger.Info("fallback LLM succeeded after primary failure", "model", fallbackResp.Model)
	return fallbackResp, nil
}

func operatorFixable(err error) bool {
	err = Classify(err)
	return errors.Is(err, apperr.ErrProviderConfig) || errors.Is(err, apperr.ErrProviderModel)
}
