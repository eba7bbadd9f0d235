package bitrix

import (
	"context"

	"go.uber.org/zap"
)

// ListClient works with Bitrix24 custom lists (universal lists).
type ListClient struct {
	base baseClient
}

// NewListClient builds the custom-list client.
func NewListClient(transport Transport, logger *zap.Logger) *ListClient {
	return &ListClient{base: baseClient{transport: transport, logger: logger}}
}

func listIdentity(listID int64) map[string]any {
	return map[string]any{
		"IBLOCK_TYPE_ID": "lists",
		"IBLOCK_ID":      listID,
	}
}

// Elements fetches elements of the list.
func (c *ListClient) Elements(ctx context.Context, listID int64, opts ListOptions) ([]map[string]any, error) {
	params := listIdentity(listID)
	for k, v := range opts.params() {
		params[k] = v
	}
	resp, err := c.base.call(ctx, "lists.element.get", params)
	if err != nil {
		return nil, err
	}
	return resp.List(), nil
}

// Element fetches one list element, nil when missing.
func (c *ListClient) Element(ctx context.Context, listID, elementID int64) (map[string]any, error) {
	params := listIdentity(listID)
	params["ELEMENT_ID"] = elementID
	resp, err := c.base.call(ctx, "lists.element.get", params)
	if err != nil {
		return nil, err
	}
	if items := resp.List(); len(items) > 0 {
		return items[0], nil
	}
	return nil, nil
}

// AddElement creates a list element and returns its id.
func (c *ListClient) AddElement(ctx context.Context, listID int64, fields map[string]any) (int64, error) {
	params := listIdentity(listID)
	params["fields"] = fields
	resp, err := c.base.call(ctx, "lists.element.add", params)
	if err != nil {
		return 0, err
	}
	id, _ := resp.ID()
	return id, nil
}

// UpdateElement applies field changes to a list element.
func (c *ListClient) UpdateElement(ctx context.Context, listID, elementID int64, fields map[string]any) (bool, error) {
	params := listIdentity(listID)
	params["ELEMENT_ID"] = elementID
	params["fields"] = fields
	resp, err := c.base.call(ctx, "lists.element.update", params)
	if err != nil {
		return false, err
	}
	return resp.OK(), nil
}

// DeleteElement removes a list element.
func (c *ListClient) DeleteElement(ctx context.Context, listID, elementID int64) (bool, error) {
	params := listIdentity(listID)
	params["ELEMENT_ID"] = elementID
	resp, err := c.base.call(ctx, "lists.element.delete", params)
	if err != nil {
		return false, err
	}
	return resp.OK(), nil
}

// Fields describes the list's field schema.
func (c *ListClient) Fields(ctx context.Context, listID int64) (map[string]any, error) {
	resp, err := c.base.call(ctx, "lists.field.get", listIdentity(listID))
	if err != nil {
		return nil, err
	}
	return resp.Item(), nil
}

// Info fetches list metadata, nil when missing.
func (c *ListClient) Info(ctx context.Context, listID int64) (map[string]any, error) {
	resp, err := c.base.call(ctx, "lists.get", listIdentity(listID))
	if err != nil {
		return nil, err
	}
	if items := resp.List(); len(items) > 0 {
		return items[0], nil
	}
	return nil, nil
}

// All fetches every list of the "lists" iblock type.
func (c *ListClient) All(ctx context.Context) ([]map[string]any, error) {
	resp, err := c.base.call(ctx, "lists.get", map[string]any{"IBLOCK_TYPE_ID": "lists"})
	if err != nil {
		return nil, err
	}
	return resp.List(), nil
}
