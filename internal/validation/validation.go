// Package validation accumulates field-level request errors so the API can
// report every problem in one response instead of one per round trip.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marketmind-ai/marketmind/internal/session"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "validation errors: " + strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator provides validation utilities
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// AddError adds a validation error
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

// Errors returns all validation errors
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Required validates that a string is not empty
func (v *Validator) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
}

// MaxLength validates maximum string length
func (v *Validator) MaxLength(field, value string, max int) {
	if len(value) > max {
		v.AddError(field, fmt.Sprintf("must be at most %d characters", max))
	}
}

// OneOf validates that a value is one of the allowed values
func (v *Validator) OneOf(field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

// UUID validates UUID format
func (v *Validator) UUID(field, value string) {
	if _, err := uuid.Parse(value); err != nil {
		v.AddError(field, "must be a valid UUID")
	}
}

// ISODate validates a YYYY-MM-DD date string. Empty values pass; the
// request normalizer fills today's date.
func (v *Validator) ISODate(field, value string) {
	if value == "" {
		return
	}
	if _, err := time.Parse("2006-01-02", value); err != nil {
		v.AddError(field, "must be an ISO date (YYYY-MM-DD)")
	}
}

var (
	aShareSymbolPattern = regexp.MustCompile(`^\d{6}\.(SH|SZ|BJ)$`)
	hkSymbolPattern     = regexp.MustCompile(`^\d{4,5}\.HK$`)
	usSymbolPattern     = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z])?$`)
)

// SymbolForMarket validates the symbol format the market's data sources
// expect. An empty market validates as A-share, matching the request
// normalizer's default.
func (v *Validator) SymbolForMarket(field, symbol string, market session.MarketType) {
	switch market {
	case session.MarketHK:
		if !hkSymbolPattern.MatchString(symbol) {
			v.AddError(field, "must be a Hong Kong symbol (e.g., 0700.HK)")
		}
	case session.MarketUS:
		if !usSymbolPattern.MatchString(symbol) {
			v.AddError(field, "must be a US ticker (e.g., SPY)")
		}
	default:
		if !aShareSymbolPattern.MatchString(symbol) {
			v.AddError(field, "must be an A-share symbol (e.g., 000300.SH)")
		}
	}
}

// RequestValidator validates analysis requests
type RequestValidator struct {
	*Validator
}

// NewRequestValidator creates a validator for analysis requests
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{
		Validator: NewValidator(),
	}
}

// ValidateMarketType validates the market type enum. Empty passes; the
// normalizer defaults it.
func (v *RequestValidator) ValidateMarketType(market session.MarketType) {
	if market == "" {
		return
	}
	v.OneOf("market_type", string(market), []string{
		string(session.MarketAShare),
		string(session.MarketHK),
		string(session.MarketUS),
	})
}

// ValidateSessionKind validates the session kind enum. Empty passes.
func (v *RequestValidator) ValidateSessionKind(kind session.Kind) {
	if kind == "" {
		return
	}
	v.OneOf("session_kind", string(kind), []string{
		string(session.Morning),
		string(session.Closing),
		string(session.Post),
	})
}

// ValidateResearchDepth validates the research depth enum. Empty passes.
func (v *RequestValidator) ValidateResearchDepth(depth session.ResearchDepth) {
	if depth == "" {
		return
	}
	v.OneOf("research_depth", string(depth), []string{
		string(session.DepthQuick),
		string(session.DepthStandard),
		string(session.DepthDeep),
	})
}

// ValidateRequest runs every check against an analysis request.
func (v *RequestValidator) ValidateRequest(req session.Request) {
	v.Required("symbol", req.Symbol)
	v.MaxLength("symbol", req.Symbol, 16)
	if req.Symbol != "" {
		v.SymbolForMarket("symbol", req.Symbol, req.MarketType)
	}
	v.ValidateMarketType(req.MarketType)
	v.ValidateSessionKind(req.SessionKind)
	v.ValidateResearchDepth(req.ResearchDepth)
	v.ISODate("trade_date", req.TradeDate)
}

// ValidateRequest is the one-shot form: nil when the request is well formed,
// the accumulated field errors otherwise.
func ValidateRequest(req session.Request) error {
	v := NewRequestValidator()
	v.ValidateRequest(req)
	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// SanitizeSymbol normalizes a symbol for lookup: uppercased, whitespace
// stripped.
func SanitizeSymbol(symbol string) string {
	symbol = strings.ToUpper(symbol)
	symbol = strings.ReplaceAll(symbol, " ", "")
	return symbol
}
