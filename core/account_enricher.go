package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const AccountDetailsField = "account"

// AccountEnricher decorates AccountChange intents with account details from
// the billing platform. Lookups are time-bounded and failures never block the
// intent: the unenriched intent is returned with a non-nil error for logging.
type AccountEnricher struct {
	api     AccountAPI
	timeout time.Duration
}

func NewAccountEnricher(api AccountAPI, timeout time.Duration) *AccountEnricher {
	if timeout <= 0 {
		timeout = DefaultAccountLookupTimeout
	}
	return &AccountEnricher{api: api, timeout: timeout}
}

func (e *AccountEnricher) Enrich(ctx context.Context, intent NotificationIntent) (NotificationIntent, bool, error) {
	if e == nil || e.api == nil || intent.Kind != IntentKindAccountChange {
		return intent, false, nil
	}
	if intent.AccountID == uuid.Nil {
		return intent, false, fmt.Errorf("core: account lookup requires an account id")
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	account, err := e.lookup(lookupCtx, intent)
	if err != nil {
		return intent, false, err
	}
	details := accountDetails(account)
	if len(details) == 0 {
		return intent, false, nil
	}
	return intent.WithExtraField(AccountDetailsField, details), true, nil
}

type accountLookupResult struct {
	account Account
	err     error
}

func (e *AccountEnricher) lookup(ctx context.Context, intent NotificationIntent) (Account, error) {
	results := make(chan accountLookupResult, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				results <- accountLookupResult{err: fmt.Errorf("core: account lookup panicked: %v", recovered)}
			}
		}()
		account, err := e.api.GetAccountByID(ctx, intent.AccountID, TenantContext{TenantID: intent.TenantID})
		results <- accountLookupResult{account: account, err: err}
	}()

	var result accountLookupResult
	select {
	case result = <-results:
	case <-ctx.Done():
		return Account{}, fmt.Errorf("core: account lookup timed out after %s: %w", e.timeout, ctx.Err())
	}
	if result.err != nil {
		if errors.Is(result.err, ErrAccountNotFound) {
			return Account{}, result.err
		}
		return Account{}, fmt.Errorf("core: account lookup failed: %w", result.err)
	}
	return result.account, nil
}

func accountDetails(account Account) map[string]any {
	details := map[string]any{}
	if value := strings.TrimSpace(account.ExternalKey); value != "" {
		details["externalKey"] = value
	}
	if value := strings.TrimSpace(account.Name); value != "" {
		details["name"] = value
	}
	if value := strings.TrimSpace(account.Email); value != "" {
		details["email"] = value
	}
	if value := strings.TrimSpace(account.Currency); value != "" {
		details["currency"] = value
	}
	return details
}
