// Package subjects builds and validates the hierarchical message subjects
// used on the bus. Subjects are dot-delimited; tokens therefore must not
// themselves contain the delimiter or the subscription wildcards.
package subjects

import (
	"fmt"
	"strings"
)

// TokenError names the subject field that failed token validation.
type TokenError struct {
	Field string
	Value string
	Cause string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("invalid subject token %s=%q: %s", e.Field, e.Value, e.Cause)
}

// forbidden characters inside a single token. "." is the level delimiter,
// "*" and ">" are subscription wildcards.
const forbidden = ".*>"

func validateToken(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", &TokenError{Field: field, Value: value, Cause: "empty after trim"}
	}
	if strings.ContainsAny(trimmed, forbidden) {
		return "", &TokenError{Field: field, Value: value, Cause: `must not contain ".", "*" or ">"`}
	}
	return trimmed, nil
}

// MarketData returns the per-symbol market data subject:
// market.{tenant}.{symbol}.
func MarketData(tenant, symbol string) (string, error) {
	t, err := validateToken("tenant", tenant)
	if err != nil {
		return "", err
	}
	s, err := validateToken("symbol", symbol)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("market.%s.%s", t, s), nil
}

// MarketDataWildcard returns the subscribe-side wildcard subject for all of
// a tenant's market data: market.{tenant}.>.
func MarketDataWildcard(tenant string) (string, error) {
	t, err := validateToken("tenant", tenant)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("market.%s.>", t), nil
}

// Signals returns signals.{tenant}.{strategy}.{symbol}.
func Signals(tenant, strategy, symbol string) (string, error) {
	return strategySubject("signals", tenant, strategy, symbol)
}

// SignalsV2 returns signals_v2.{tenant}.{strategy}.{symbol}. The v2 schema
// lives in its own namespace so v1 subscribers never see frames they cannot
// decode.
func SignalsV2(tenant, strategy, symbol string) (string, error) {
	return strategySubject("signals_v2", tenant, strategy, symbol)
}

func strategySubject(prefix, tenant, strategy, symbol string) (string, error) {
	t, err := validateToken("tenant", tenant)
	if err != nil {
		return "", err
	}
	st, err := validateToken("strategy", strategy)
	if err != nil {
		return "", err
	}
	sy, err := validateToken("symbol", symbol)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s.%s.%s", prefix, t, st, sy), nil
}

// Orders returns orders.{tenant}.{account}.
func Orders(tenant, account string) (string, error) {
	return accountSubject("orders", tenant, account)
}

// Fills returns fills.{tenant}.{account}.
func Fills(tenant, account string) (string, error) {
	return accountSubject("fills", tenant, account)
}

func accountSubject(prefix, tenant, account string) (string, error) {
	t, err := validateToken("tenant", tenant)
	if err != nil {
		return "", err
	}
	a, err := validateToken("account", account)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s.%s", prefix, t, a), nil
}

// Ops returns ops.{tenant}.{service}.
func Ops(tenant, service string) (string, error) {
	t, err := validateToken("tenant", tenant)
	if err != nil {
		return "", err
	}
	s, err := validateToken("service", service)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ops.%s.%s", t, s), nil
}
