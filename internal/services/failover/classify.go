package failover

import (
	"strings"

	"github.com/stripe/stripe-go/v72"

	"cascade/internal/models"
)

// Classify maps a provider failure code to a failure class. Codes follow
// the stripe decline-code vocabulary where the provider speaks it; transport
// failures that never reached an issuer come through as generic category
// names or bare HTTP status codes.
//
// An empty code means the collaborator could not reach the provider at all,
// which is retryable. Unmapped decline codes classify as terminal: burning
// failover attempts on a code nobody vetted risks duplicate authorizations.
func Classify(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return models.FailureRetryable
	}

	switch code {
	case "network_error", "connection_error", "connection_reset",
		"timeout", "gateway_timeout", "service_unavailable", "server_error":
		return models.FailureRetryable
	}
	if isServerStatus(code) {
		return models.FailureRetryable
	}

	switch stripe.DeclineCode(code) {
	case stripe.DeclineCodeProcessingError, stripe.DeclineCodeReenterTransaction:
		return models.FailureRetryable

	case stripe.DeclineCodeDoNotHonor,
		stripe.DeclineCodeTryAgainLater,
		stripe.DeclineCodeIssuerNotAvailable:
		return models.FailureSoft

	case stripe.DeclineCodeInsufficientFunds,
		stripe.DeclineCodeStolenCard,
		stripe.DeclineCodeLostCard,
		stripe.DeclineCodeFraudulent,
		stripe.DeclineCodePickupCard,
		stripe.DeclineCodeExpiredCard,
		stripe.DeclineCodeInvalidAccount,
		stripe.DeclineCodeGenericDecline,
		stripe.DeclineCodeCardNotSupported,
		stripe.DeclineCodeCurrencyNotSupported,
		stripe.DeclineCodeDuplicateTransaction,
		stripe.DeclineCodeMerchantBlacklist,
		stripe.DeclineCodeRestrictedCard,
		stripe.DeclineCodeDoNotTryAgain,
		stripe.DeclineCodeTransactionNotAllowed:
		return models.FailureTerminal
	}

	return models.FailureTerminal
}

// isServerStatus matches bare HTTP 5xx status codes some collaborators
// report verbatim.
func isServerStatus(code string) bool {
	if len(code) != 3 || code[0] != '5' {
		return false
	}
	return code[1] >= '0' && code[1] <= '9' && code[2] >= '0' && code[2] <= '9'
}
