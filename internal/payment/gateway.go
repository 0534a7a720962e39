package payment

import (
	"fmt"
	"strings"

	"github.com/amara-dev/backend-soko/internal/pricing"
)

// Method is a customer-facing payment method.
type Method string

const (
	MethodMobileMoney  Method = "mobile_money"
	MethodCard         Method = "card"
	MethodBankTransfer Method = "bank_transfer"
	MethodUSSD         Method = "ussd"
)

// FeeKind describes how a gateway fee is computed.
type FeeKind string

const (
	FeePercentage FeeKind = "percentage"
	FeeFixed      FeeKind = "fixed"
	FeeCombined   FeeKind = "combined"
)

// Fee is one entry of a gateway's fee schedule, scoped to a method and an
// optional amount band.
type Fee struct {
	Method     Method
	Kind       FeeKind
	PercentBps int
	Fixed      pricing.Money
	Currency   string
	MinAmount  pricing.Money
	MaxAmount  pricing.Money
}

// Gateway describes a payment provider and what it supports.
type Gateway struct {
	Type       string
	Name       string
	Active     bool
	TestMode   bool
	Countries  []string
	Currencies []string
	Methods    []Method
	Fees       []Fee
}

// SupportsCurrency reports whether the gateway settles the given currency.
func (g Gateway) SupportsCurrency(currency string) bool {
	return containsFold(g.Currencies, currency)
}

// SupportsCountry reports whether the gateway operates in the given country.
func (g Gateway) SupportsCountry(country string) bool {
	return containsFold(g.Countries, country)
}

// SupportsMethod reports whether the gateway accepts the given method.
func (g Gateway) SupportsMethod(method Method) bool {
	for _, m := range g.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// EstimateFee computes the gateway fee for the amount under the first fee
// schedule entry matching the method and amount band. A gateway with no
// matching entry charges nothing, which makes it maximally attractive to the
// selector; real schedules always carry a catch-all entry.
func (g Gateway) EstimateFee(method Method, amount pricing.Money) pricing.Money {
	for _, fee := range g.Fees {
		if fee.Method != method {
			continue
		}
		if fee.MinAmount > 0 && amount < fee.MinAmount {
			continue
		}
		if fee.MaxAmount > 0 && amount > fee.MaxAmount {
			continue
		}
		switch fee.Kind {
		case FeePercentage:
			return pricing.RoundHalfAway(amount*pricing.Money(fee.PercentBps), 10_000)
		case FeeFixed:
			return fee.Fixed
		case FeeCombined:
			return pricing.RoundHalfAway(amount*pricing.Money(fee.PercentBps), 10_000) + fee.Fixed
		}
	}
	return 0
}

// Criteria is the input to gateway selection.
type Criteria struct {
	Amount   pricing.Money
	Currency string
	Country  string
	Method   Method
}

// Recommendation is the outcome of gateway selection: the winning gateway,
// its estimated fee, and the per-gateway reasons recorded along the way so
// operators can see why candidates were disqualified.
type Recommendation struct {
	Gateway      Gateway
	EstimatedFee pricing.Money
	Reasons      []string
}

// SelectGateway scores every compatible gateway by estimated fee (lower wins)
// and returns the cheapest. Disqualification reasons for every candidate are
// returned either way.
func SelectGateway(gateways []Gateway, crit Criteria) (Recommendation, error) {
	rec := Recommendation{EstimatedFee: -1}
	for _, g := range gateways {
		switch {
		case !g.Active:
			rec.Reasons = append(rec.Reasons, g.Type+": inactive")
		case !g.SupportsCurrency(crit.Currency):
			rec.Reasons = append(rec.Reasons, fmt.Sprintf("%s: currency %s unsupported", g.Type, crit.Currency))
		case !g.SupportsCountry(crit.Country):
			rec.Reasons = append(rec.Reasons, fmt.Sprintf("%s: country %s unsupported", g.Type, crit.Country))
		case !g.SupportsMethod(crit.Method):
			rec.Reasons = append(rec.Reasons, fmt.Sprintf("%s: method %s unsupported", g.Type, crit.Method))
		default:
			fee := g.EstimateFee(crit.Method, crit.Amount)
			if rec.EstimatedFee < 0 || fee < rec.EstimatedFee {
				rec.Gateway = g
				rec.EstimatedFee = fee
				rec.Reasons = append(rec.Reasons, fmt.Sprintf("%s: eligible, estimated fee %d", g.Type, fee))
			} else {
				rec.Reasons = append(rec.Reasons, fmt.Sprintf("%s: eligible but fee %d loses", g.Type, fee))
			}
		}
	}
	if rec.EstimatedFee < 0 {
		return rec, fmt.Errorf("%w for %s/%s/%s: %s",
			ErrNoGateway, crit.Currency, crit.Country, crit.Method, strings.Join(rec.Reasons, "; "))
	}
	return rec, nil
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
