package bitrix

import (
	"context"

	"go.uber.org/zap"
)

// UserClient works with portal users.
type UserClient struct {
	base baseClient
}

// NewUserClient builds the user client.
func NewUserClient(transport Transport, logger *zap.Logger) *UserClient {
	return &UserClient{base: baseClient{transport: transport, logger: logger}}
}

// List fetches users matching the filter.
func (c *UserClient) List(ctx context.Context, filter map[string]any) ([]map[string]any, error) {
	params := map[string]any{}
	if len(filter) > 0 {
		params["filter"] = filter
	}
	resp, err := c.base.call(ctx, "user.get", params)
	if err != nil {
		return nil, err
	}
	return resp.List(), nil
}

// Current returns the user the connection is authorized as.
func (c *UserClient) Current(ctx context.Context) (map[string]any, error) {
	resp, err := c.base.call(ctx, "user.current", nil)
	if err != nil {
		return nil, err
	}
	return resp.Item(), nil
}

// Get fetches a user by id, nil when missing.
func (c *UserClient) Get(ctx context.Context, id int64) (map[string]any, error) {
	resp, err := c.base.call(ctx, "user.get", map[string]any{"ID": id})
	if err != nil {
		return nil, err
	}
	// user.get responds with a collection even for a point lookup.
	if items := resp.List(); len(items) > 0 {
		return items[0], nil
	}
	return nil, nil
}

// Search finds users by name, email or position.
func (c *UserClient) Search(ctx context.Context, query string) ([]map[string]any, error) {
	resp, err := c.base.call(ctx, "user.search", map[string]any{"FIND": query})
	if err != nil {
		return nil, err
	}
	return resp.List(), nil
}
