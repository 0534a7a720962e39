package payment

import (
	"errors"
	"strings"
	"testing"
)

func testGateways() []Gateway {
	return []Gateway{
		{
			Type:       "mpesa",
			Name:       "M-Pesa",
			Active:     true,
			Countries:  []string{"KE", "TZ"},
			Currencies: []string{"KES", "TZS"},
			Methods:    []Method{MethodMobileMoney, MethodUSSD},
			Fees: []Fee{
				{Method: MethodMobileMoney, Kind: FeePercentage, PercentBps: 150},
				{Method: MethodUSSD, Kind: FeeFixed, Fixed: 30},
			},
		},
		{
			Type:       "paystack",
			Name:       "Paystack",
			Active:     true,
			Countries:  []string{"KE", "NG", "GH"},
			Currencies: []string{"KES", "NGN", "GHS"},
			Methods:    []Method{MethodCard, MethodBankTransfer, MethodMobileMoney},
			Fees: []Fee{
				{Method: MethodCard, Kind: FeeCombined, PercentBps: 290, Fixed: 100},
				{Method: MethodMobileMoney, Kind: FeePercentage, PercentBps: 200},
			},
		},
	}
}

func TestEstimateFee(t *testing.T) {
	gws := testGateways()
	// 1.5% of 10000 = 150.
	if fee := gws[0].EstimateFee(MethodMobileMoney, 10_000); fee != 150 {
		t.Fatalf("expected percentage fee 150, got %d", fee)
	}
	if fee := gws[0].EstimateFee(MethodUSSD, 10_000); fee != 30 {
		t.Fatalf("expected fixed fee 30, got %d", fee)
	}
	// 2.9% of 10000 + 100 = 390.
	if fee := gws[1].EstimateFee(MethodCard, 10_000); fee != 390 {
		t.Fatalf("expected combined fee 390, got %d", fee)
	}
}

func TestEstimateFeeRoundsHalfAway(t *testing.T) {
	g := Gateway{Fees: []Fee{{Method: MethodCard, Kind: FeePercentage, PercentBps: 150}}}
	// 1.5% of 1030 = 15.45 -> 15; 1.5% of 1100 = 16.5 -> 17.
	if fee := g.EstimateFee(MethodCard, 1_030); fee != 15 {
		t.Fatalf("expected 15, got %d", fee)
	}
	if fee := g.EstimateFee(MethodCard, 1_100); fee != 17 {
		t.Fatalf("expected 17, got %d", fee)
	}
}

func TestEstimateFeeAmountBands(t *testing.T) {
	g := Gateway{Fees: []Fee{
		{Method: MethodMobileMoney, Kind: FeeFixed, Fixed: 10, MaxAmount: 1_000},
		{Method: MethodMobileMoney, Kind: FeeFixed, Fixed: 25, MinAmount: 1_001},
	}}
	if fee := g.EstimateFee(MethodMobileMoney, 500); fee != 10 {
		t.Fatalf("expected low-band fee 10, got %d", fee)
	}
	if fee := g.EstimateFee(MethodMobileMoney, 5_000); fee != 25 {
		t.Fatalf("expected high-band fee 25, got %d", fee)
	}
}

func TestSelectGatewayPicksLowestFee(t *testing.T) {
	// Both gateways support KES mobile money; mpesa charges 1.5% vs 2%.
	rec, err := SelectGateway(testGateways(), Criteria{
		Amount: 10_000, Currency: "KES", Country: "KE", Method: MethodMobileMoney,
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rec.Gateway.Type != "mpesa" {
		t.Fatalf("expected mpesa to win on fee, got %s", rec.Gateway.Type)
	}
	if rec.EstimatedFee != 150 {
		t.Fatalf("expected estimated fee 150, got %d", rec.EstimatedFee)
	}
	if len(rec.Reasons) != 2 {
		t.Fatalf("expected a reason per candidate, got %v", rec.Reasons)
	}
}

func TestSelectGatewayRecordsDisqualifications(t *testing.T) {
	rec, err := SelectGateway(testGateways(), Criteria{
		Amount: 10_000, Currency: "NGN", Country: "NG", Method: MethodCard,
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rec.Gateway.Type != "paystack" {
		t.Fatalf("expected paystack, got %s", rec.Gateway.Type)
	}
	joined := strings.Join(rec.Reasons, "; ")
	if !strings.Contains(joined, "mpesa: currency NGN unsupported") {
		t.Fatalf("expected mpesa disqualification reason, got %q", joined)
	}
}

func TestSelectGatewayNoneEligible(t *testing.T) {
	_, err := SelectGateway(testGateways(), Criteria{
		Amount: 10_000, Currency: "USD", Country: "US", Method: MethodCard,
	})
	if !errors.Is(err, ErrNoGateway) {
		t.Fatalf("expected ErrNoGateway, got %v", err)
	}
	if !strings.Contains(err.Error(), "currency USD unsupported") {
		t.Fatalf("expected reasons in error message, got %v", err)
	}
}

func TestSelectGatewaySkipsInactive(t *testing.T) {
	gws := testGateways()
	gws[0].Active = false
	rec, err := SelectGateway(gws, Criteria{
		Amount: 10_000, Currency: "KES", Country: "KE", Method: MethodMobileMoney,
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rec.Gateway.Type != "paystack" {
		t.Fatalf("inactive gateway must not win, got %s", rec.Gateway.Type)
	}
}
