package bitrix

import (
	"context"

	"go.uber.org/zap"
)

// CRMClient exposes the shared CRM verbs for any entity type. The typed
// entity clients below are thin fixed-entity views over it.
type CRMClient struct {
	base baseClient
}

// NewCRMClient builds a generic CRM client over the transport.
func NewCRMClient(transport Transport, logger *zap.Logger) *CRMClient {
	return &CRMClient{base: baseClient{transport: transport, logger: logger}}
}

// List fetches entities of the given type.
func (c *CRMClient) List(ctx context.Context, entity string, opts ListOptions) ([]map[string]any, error) {
	resp, err := c.base.call(ctx, "crm."+entity+".list", opts.params())
	if err != nil {
		return nil, err
	}
	return resp.List(), nil
}

// Get fetches a single entity, nil when the provider has no such record.
func (c *CRMClient) Get(ctx context.Context, entity string, id int64) (map[string]any, error) {
	resp, err := c.base.call(ctx, "crm."+entity+".get", map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	return resp.Item(), nil
}

// Add creates an entity and returns its new id.
func (c *CRMClient) Add(ctx context.Context, entity string, fields map[string]any) (int64, error) {
	resp, err := c.base.call(ctx, "crm."+entity+".add", map[string]any{"fields": fields})
	if err != nil {
		return 0, err
	}
	id, _ := resp.ID()
	return id, nil
}

// Update applies field changes to an entity.
func (c *CRMClient) Update(ctx context.Context, entity string, id int64, fields map[string]any) (bool, error) {
	resp, err := c.base.call(ctx, "crm."+entity+".update", map[string]any{"id": id, "fields": fields})
	if err != nil {
		return false, err
	}
	return resp.OK(), nil
}

// Delete removes an entity.
func (c *CRMClient) Delete(ctx context.Context, entity string, id int64) (bool, error) {
	resp, err := c.base.call(ctx, "crm."+entity+".delete", map[string]any{"id": id})
	if err != nil {
		return false, err
	}
	return resp.OK(), nil
}

// Fields describes the entity's field schema.
func (c *CRMClient) Fields(ctx context.Context, entity string) (map[string]any, error) {
	resp, err := c.base.call(ctx, "crm."+entity+".fields", nil)
	if err != nil {
		return nil, err
	}
	return resp.Item(), nil
}

// entityClient pins a CRMClient to one entity type.
type entityClient struct {
	crm    *CRMClient
	entity string
}

func (c entityClient) List(ctx context.Context, opts ListOptions) ([]map[string]any, error) {
	return c.crm.List(ctx, c.entity, opts)
}

func (c entityClient) Get(ctx context.Context, id int64) (map[string]any, error) {
	return c.crm.Get(ctx, c.entity, id)
}

func (c entityClient) Add(ctx context.Context, fields map[string]any) (int64, error) {
	return c.crm.Add(ctx, c.entity, fields)
}

func (c entityClient) Update(ctx context.Context, id int64, fields map[string]any) (bool, error) {
	return c.crm.Update(ctx, c.entity, id, fields)
}

func (c entityClient) Delete(ctx context.Context, id int64) (bool, error) {
	return c.crm.Delete(ctx, c.entity, id)
}

func (c entityClient) Fields(ctx context.Context) (map[string]any, error) {
	return c.crm.Fields(ctx, c.entity)
}

// LeadClient works with CRM leads.
type LeadClient struct{ entityClient }

// DealClient works with CRM deals.
type DealClient struct{ entityClient }

// ContactClient works with CRM contacts.
type ContactClient struct{ entityClient }

// CompanyClient works with CRM companies.
type CompanyClient struct{ entityClient }

// NewLeadClient builds the lead client.
func NewLeadClient(transport Transport, logger *zap.Logger) *LeadClient {
	return &LeadClient{entityClient{crm: NewCRMClient(transport, logger), entity: "lead"}}
}

// NewDealClient builds the deal client.
func NewDealClient(transport Transport, logger *zap.Logger) *DealClient {
	return &DealClient{entityClient{crm: NewCRMClient(transport, logger), entity: "deal"}}
}

// NewContactClient builds the contact client.
func NewContactClient(transport Transport, logger *zap.Logger) *ContactClient {
	return &ContactClient{entityClient{crm: NewCRMClient(transport, logger), entity: "contact"}}
}

// NewCompanyClient builds the company client.
func NewCompanyClient(transport Transport, logger *zap.Logger) *CompanyClient {
	return &CompanyClient{entityClient{crm: NewCRMClient(transport, logger), entity: "company"}}
}
