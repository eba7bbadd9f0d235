package bitrix

import (
	"context"

	"go.uber.org/zap"
)

// TaskClient works with Bitrix24 tasks.
type TaskClient struct {
	base baseClient
}

// NewTaskClient builds the task client.
func NewTaskClient(transport Transport, logger *zap.Logger) *TaskClient {
	return &TaskClient{base: baseClient{transport: transport, logger: logger}}
}

// List fetches tasks. The tasks scope nests its collection under
// result.tasks.
func (c *TaskClient) List(ctx context.Context, opts ListOptions) ([]map[string]any, error) {
	resp, err := c.base.call(ctx, "tasks.task.list", opts.params())
	if err != nil {
		return nil, err
	}
	if nested, ok := resp.Item()["tasks"].([]any); ok {
		items := []map[string]any{}
		for _, entry := range nested {
			if item, ok := entry.(map[string]any); ok {
				items = append(items, item)
			}
		}
		return items, nil
	}
	return resp.List(), nil
}

// Get fetches a task by id, nil when missing.
func (c *TaskClient) Get(ctx context.Context, id int64) (map[string]any, error) {
	resp, err := c.base.call(ctx, "tasks.task.get", map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if task, ok := resp.Item()["task"].(map[string]any); ok {
		return task, nil
	}
	return resp.Item(), nil
}

// Add creates a task and returns its id.
func (c *TaskClient) Add(ctx context.Context, fields map[string]any) (int64, error) {
	resp, err := c.base.call(ctx, "tasks.task.add", map[string]any{"fields": fields})
	if err != nil {
		return 0, err
	}
	id, _ := resp.ID()
	return id, nil
}

// Update applies field changes to a task.
func (c *TaskClient) Update(ctx context.Context, id int64, fields map[string]any) (bool, error) {
	resp, err := c.base.call(ctx, "tasks.task.update", map[string]any{"id": id, "fields": fields})
	if err != nil {
		return false, err
	}
	return resp.OK(), nil
}

// Delete removes a task.
func (c *TaskClient) Delete(ctx context.Context, id int64) (bool, error) {
	resp, err := c.base.call(ctx, "tasks.task.delete", map[string]any{"id": id})
	if err != nil {
		return false, err
	}
	return resp.OK(), nil
}
