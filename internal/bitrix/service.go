package bitrix

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sliva-name/bitrix24-bridge/internal/config"
	"github.com/sliva-name/bitrix24-bridge/internal/domain"
	"github.com/sliva-name/bitrix24-bridge/internal/token"
)

// ClientFactory builds a custom entity client over the scope's transport.
type ClientFactory func(transport Transport, logger *zap.Logger) any

// Service is the entry point for Bitrix24 API access. It resolves
// connections, hands out scopes bound to a connection and user, and drives
// the OAuth authorization flow.
type Service struct {
	cfg       config.Config
	manager   *token.Manager
	logger    *zap.Logger
	limiter   *rate.Limiter
	factories map[string]ClientFactory
}

// ServiceOption customizes the service at construction time.
type ServiceOption func(*Service)

// WithClientFactory registers a custom entity client under name, resolvable
// through Scope.Client.
func WithClientFactory(name string, factory ClientFactory) ServiceOption {
	return func(s *Service) {
		s.factories[name] = factory
	}
}

// NewService wires the API service.
func NewService(cfg config.Config, manager *token.Manager, logger *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:       cfg,
		manager:   manager,
		logger:    logger,
		factories: make(map[string]ClientFactory),
	}
	if cfg.RateLimitRPM > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateLimitRPM)/60.0), cfg.RateLimitRPM/10+1)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// For returns a scope bound to the connection and user. The transport mode
// is decided here, once, from the connection config; everything above the
// scope is identical for webhook and oauth connections.
func (s *Service) For(connection string, userID *int64) (*Scope, error) {
	name := s.connectionName(connection)
	conn, ok := s.cfg.Connection(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, name)
	}

	opts := transportOptions{
		timeout:    s.cfg.APITimeout,
		attempts:   s.cfg.RetryAttempts,
		retryDelay: s.cfg.RetryDelay,
	}

	var transport Transport
	if conn.IsWebhook() {
		transport = NewWebhookTransport(conn.WebhookURL, opts)
	} else {
		transport = NewOAuthTransport(s.credentialSource(name, userID), opts)
	}
	transport = NewThrottledTransport(transport, s.limiter)

	return &Scope{
		service:    s,
		connection: name,
		userID:     userID,
		transport:  transport,
	}, nil
}

func (s *Service) credentialSource(connection string, userID *int64) CredentialSource {
	return func(ctx context.Context) (*domain.Credentials, error) {
		return s.manager.GetCredentials(ctx, userID, connection)
	}
}

// AuthorizationURL builds the portal authorize URL. An empty state gets a
// freshly generated CSRF token; the state in use is always returned.
func (s *Service) AuthorizationURL(connection string, scopes []string, state string) (string, string, error) {
	name := s.connectionName(connection)
	conn, ok := s.cfg.Connection(name)
	if !ok {
		return "", "", fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, name)
	}
	if conn.IsWebhook() {
		return "", "", fmt.Errorf("connection %s uses webhook auth, authorization flow does not apply", name)
	}
	if conn.Domain == "" || conn.ClientID == "" {
		return "", "", fmt.Errorf("connection %s is missing domain or client_id", name)
	}

	if state == "" {
		generated, err := randomState()
		if err != nil {
			return "", "", err
		}
		state = generated
	}

	query := url.Values{}
	query.Set("client_id", conn.ClientID)
	query.Set("redirect_uri", conn.RedirectURI)
	query.Set("response_type", "code")
	query.Set("state", state)
	if len(scopes) > 0 {
		query.Set("scope", strings.Join(scopes, ","))
	}

	return "https://" + conn.Domain + "/oauth/authorize/?" + query.Encode(), state, nil
}

// CallbackResult reports the persisted token after a completed OAuth flow.
type CallbackResult struct {
	TokenID   int64      `json:"token_id"`
	Domain    string     `json:"domain"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// HandleCallback exchanges the authorization code and persists the token for
// the user.
func (s *Service) HandleCallback(ctx context.Context, connection string, userID *int64, code string) (*CallbackResult, error) {
	name := s.connectionName(connection)

	tok, err := s.manager.Authorize(ctx, userID, name, code)
	if err != nil {
		return nil, err
	}

	s.logger.Info("bitrix24 oauth callback completed",
		zap.String("connection", name),
		zap.Int64("token_id", tok.ID),
		zap.String("domain", tok.Domain),
	)

	return &CallbackResult{TokenID: tok.ID, Domain: tok.Domain, ExpiresAt: tok.ExpiresAt}, nil
}

// HasValidToken reports whether API calls can be made for the user. Webhook
// connections are always ready.
func (s *Service) HasValidToken(ctx context.Context, connection string, userID *int64) (bool, error) {
	name := s.connectionName(connection)
	conn, ok := s.cfg.Connection(name)
	if !ok {
		return false, fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, name)
	}
	if conn.IsWebhook() {
		return true, nil
	}
	return s.manager.HasValidToken(ctx, userID, name)
}

// RevokeToken passes through to the token manager.
func (s *Service) RevokeToken(ctx context.Context, tokenID int64) (bool, error) {
	return s.manager.RevokeToken(ctx, tokenID)
}

// Tokens exposes the token manager for handlers that need it directly.
func (s *Service) Tokens() *token.Manager {
	return s.manager
}

// DefaultConnection reports the connection name used when a request names
// none.
func (s *Service) DefaultConnection() string {
	return s.cfg.DefaultConnection
}

func (s *Service) connectionName(connection string) string {
	if connection == "" {
		return s.cfg.DefaultConnection
	}
	return connection
}

// Scope is a per-connection, per-user view of the API. It carries one
// transport; all clients built from it share the same auth mode, retry
// policy and rate limit.
type Scope struct {
	service    *Service
	connection string
	userID     *int64
	transport  Transport
}

// Connection reports the connection name the scope is bound to.
func (s *Scope) Connection() string { return s.connection }

// Cached returns a scope whose read calls are memoized for ttl. Write
// calls still pass through to the API directly.
func (s *Scope) Cached(ttl time.Duration) *Scope {
	return &Scope{
		service:    s.service,
		connection: s.connection,
		userID:     s.userID,
		transport:  NewCachedTransport(s.transport, ttl),
	}
}

// Leads returns the CRM lead client.
func (s *Scope) Leads() *LeadClient { return NewLeadClient(s.transport, s.service.logger) }

// Deals returns the CRM deal client.
func (s *Scope) Deals() *DealClient { return NewDealClient(s.transport, s.service.logger) }

// Contacts returns the CRM contact client.
func (s *Scope) Contacts() *ContactClient { return NewContactClient(s.transport, s.service.logger) }

// Companies returns the CRM company client.
func (s *Scope) Companies() *CompanyClient { return NewCompanyClient(s.transport, s.service.logger) }

// Tasks returns the task client.
func (s *Scope) Tasks() *TaskClient { return NewTaskClient(s.transport, s.service.logger) }

// Users returns the user client.
func (s *Scope) Users() *UserClient { return NewUserClient(s.transport, s.service.logger) }

// Lists returns the universal lists client.
func (s *Scope) Lists() *ListClient { return NewListClient(s.transport, s.service.logger) }

// CRM returns the generic client covering any crm.{entity} namespace.
func (s *Scope) CRM() *CRMClient { return NewCRMClient(s.transport, s.service.logger) }

// Batch starts an empty batch over the scope's transport.
func (s *Scope) Batch() *Batch { return NewBatch(s.transport, s.service.logger) }

// Client resolves a custom entity client registered at construction time.
func (s *Scope) Client(name string) (any, error) {
	factory, ok := s.service.factories[name]
	if !ok {
		return nil, fmt.Errorf("no client registered under %q", name)
	}
	return factory(s.transport, s.service.logger), nil
}

// Call issues a raw API method through the scope's transport.
func (s *Scope) Call(ctx context.Context, method string, params map[string]any) (Response, error) {
	c := baseClient{transport: s.transport, logger: s.service.logger}
	return c.call(ctx, method, params)
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
