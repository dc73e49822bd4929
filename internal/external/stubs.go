package external

import (
	"context"
	"fmt"
	"log/slog"

	"fieldnotes/internal/types"
)

// ---------------------------------------------------------------------------
// Stub Implementations
//
// Stubs let the service boot in local mode without real vendor credentials.
// They log all actions and return predictable, safe values.
// ---------------------------------------------------------------------------

// StubBillingService implements BillingService by logging calls and
// returning test-safe defaults. Used when APP_ENV=local.
type StubBillingService struct {
	logger *slog.Logger
}

// NewStubBillingService creates a new StubBillingService.
func NewStubBillingService(logger *slog.Logger) *StubBillingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubBillingService{logger: logger}
}

func (s *StubBillingService) CreateCheckoutSession(ctx context.Context, email string, plan types.PlanTier, urls types.RedirectURLs) (string, string, error) {
	s.logger.InfoContext(ctx, "stub: CreateCheckoutSession called",
		"email", email,
		"plan", plan,
	)
	return "https://checkout.stub.local/session", fmt.Sprintf("cs_stub_%s", plan), nil
}

func (s *StubBillingService) CreatePortalSession(ctx context.Context, customerID string, returnURL string) (string, error) {
	s.logger.InfoContext(ctx, "stub: CreatePortalSession called",
		"customer_id", customerID,
		"return_url", returnURL,
	)
	return "https://portal.stub.local/session", nil
}

// StubEmailProvider implements EmailProvider by logging calls and returning
// a fake message ID. Used when no SendGrid API key is configured.
type StubEmailProvider struct {
	logger *slog.Logger
}

// NewStubEmailProvider creates a new StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	s.logger.InfoContext(ctx, "stub: Send email called",
		"to", input.To,
		"subject", input.Subject,
		"from", input.From.Address,
	)
	return fmt.Sprintf("msg_stub_%s", input.ReferenceID), nil
}

// StubWebhookVerifier implements WebhookVerifier by always succeeding.
// Used when APP_ENV=local.
type StubWebhookVerifier struct {
	logger *slog.Logger
}

// NewStubWebhookVerifier creates a new StubWebhookVerifier.
func NewStubWebhookVerifier(logger *slog.Logger) *StubWebhookVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubWebhookVerifier{logger: logger}
}

func (s *StubWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	s.logger.Info("stub: Stripe webhook Verify called",
		"payload_len", len(payload),
	)
	return nil
}

// ---------------------------------------------------------------------------
// Interface Compliance
// ---------------------------------------------------------------------------

var _ BillingService = (*StubBillingService)(nil)
var _ EmailProvider = (*StubEmailProvider)(nil)
var _ WebhookVerifier = (*StubWebhookVerifier)(nil)
