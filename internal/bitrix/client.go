package bitrix

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// baseClient carries the shared transport and call logging for the entity
// clients.
type baseClient struct {
	transport Transport
	logger    *zap.Logger
}

func (c *baseClient) call(ctx context.Context, method string, params map[string]any) (Response, error) {
	start := time.Now()
	resp, err := c.transport.Call(ctx, method, params)
	duration := time.Since(start)
	if err != nil {
		c.log().Error("bitrix24 api call failed",
			zap.String("method", method),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err
	}
	c.log().Debug("bitrix24 api call",
		zap.String("method", method),
		zap.Duration("duration", duration),
	)
	return resp, nil
}

func (c *baseClient) log() *zap.Logger {
	if c != nil && c.logger != nil {
		return c.logger
	}
	return zap.L()
}

// ListOptions narrows paginated list calls.
type ListOptions struct {
	Filter map[string]any
	Select []string
	Order  map[string]string
	Start  int
}

func (o ListOptions) params() map[string]any {
	params := map[string]any{}
	if len(o.Filter) > 0 {
		params["filter"] = o.Filter
	}
	if len(o.Select) > 0 {
		params["select"] = o.Select
	}
	if len(o.Order) > 0 {
		params["order"] = o.Order
	} else {
		params["order"] = map[string]string{"ID": "DESC"}
	}
	if o.Start > 0 {
		params["start"] = o.Start
	}
	return params
}
