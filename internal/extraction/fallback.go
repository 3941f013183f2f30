package extraction

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/accordo-ai/accordo/internal/model"
)

// RuleExtractor is the deterministic regex/keyword fallback used when the
// LLM extractor errors or times out. It recognizes the patterns vendors
// actually type: "$12,500.00", "12500 USD", "price: 12500", "net 30",
// "30 days", and ISO or long-form dates.
type RuleExtractor struct{}

// NewRuleExtractor creates the rule-based extractor.
func NewRuleExtractor() *RuleExtractor { return &RuleExtractor{} }

var (
	// "$12,500.00" | "USD 12500" | "12,500 usd" | "price: 12500" | "total of 12500"
	priceRe = regexp.MustCompile(`(?i)(?:\$|usd\s*|eur\s*|price\s*[:=]?\s*|total(?:\s+of)?\s+|offer(?:\s+of)?\s+)\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)

	// "net 30" | "net-45" | "payment terms: 60 days" | "60 day terms"
	netRe  = regexp.MustCompile(`(?i)\bnet[\s-]*([0-9]{1,3})\b`)
	daysRe = regexp.MustCompile(`(?i)\b([0-9]{1,3})[\s-]*days?(?:\s+(?:payment\s+)?terms?)?\b`)

	// "2026-03-15"
	isoDateRe = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	// "March 15, 2026" | "15 March 2026"
	longDateRe = regexp.MustCompile(`(?i)\b(?:(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{1,2}),?\s+(\d{4})|(\d{1,2})\s+(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{4}))\b`)
)

// Extract parses what it can; at least one attribute must come out or the
// extraction fails.
func (e *RuleExtractor) Extract(_ context.Context, message string, _ model.NegotiationConfig) (model.Offer, error) {
	var offer model.Offer

	if m := priceRe.FindStringSubmatch(message); m != nil {
		raw := strings.ReplaceAll(m[1], ",", "")
		if p, err := decimal.NewFromString(raw); err == nil && p.IsPositive() {
			offer.Price = &p
		}
	}

	if m := netRe.FindStringSubmatch(message); m != nil {
		if days, err := strconv.Atoi(m[1]); err == nil && days > 0 {
			offer.PaymentTermDays = &days
		}
	} else if m := daysRe.FindStringSubmatch(message); m != nil {
		// Bare "N days" is ambiguous (could be delivery); only take it when
		// the message mentions payment or terms nearby.
		lower := strings.ToLower(message)
		if strings.Contains(lower, "payment") || strings.Contains(lower, "terms") {
			if days, err := strconv.Atoi(m[1]); err == nil && days > 0 {
				offer.PaymentTermDays = &days
			}
		}
	}

	if t, ok := parseDate(message); ok {
		offer.DeliveryDate = &t
	}

	if offer.Price == nil && offer.PaymentTermDays == nil && offer.DeliveryDate == nil {
		return model.Offer{}, fmt.Errorf("rule extractor: no recognizable offer attributes")
	}
	return offer, nil
}

func parseDate(message string) (time.Time, bool) {
	if m := isoDateRe.FindStringSubmatch(message); m != nil {
		if t, err := time.Parse("2006-01-02", m[1]); err == nil {
			return t, true
		}
	}
	if m := longDateRe.FindStringSubmatch(message); m != nil {
		var monthName, dayStr, yearStr string
		if m[1] != "" {
			monthName, dayStr, yearStr = m[1], m[2], m[3]
		} else {
			dayStr, monthName, yearStr = m[4], m[5], m[6]
		}
		layoutMonth := strings.ToUpper(monthName[:1]) + strings.ToLower(monthName[1:])
		if t, err := time.Parse("January 2 2006", fmt.Sprintf("%s %s %s", layoutMonth, dayStr, yearStr)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
