// Package rates holds the pure pricing functions the rest of the system
// calls before every charge: no I/O, no database, no external calls —
// generalizing the teacher's billableSeconds/billableMinutesFromSeconds
// helpers from a region-lookup repository model to the fixed NPA toll-free
// set this platform actually prices against.
package rates

import (
	"aitelephony-platform/pkg/money"
)

// tollFreeNPAs is the fixed set of North American toll-free area codes.
var tollFreeNPAs = map[string]bool{
	"800": true, "833": true, "844": true, "855": true,
	"866": true, "877": true, "888": true,
}

// IsTollFree reports whether an E.164 NANPA number (e.g. "+18005551234")
// falls in a toll-free NPA.
func IsTollFree(e164 string) bool {
	npa := npaOf(e164)
	return npa != "" && tollFreeNPAs[npa]
}

func npaOf(e164 string) string {
	digits := e164
	if len(digits) > 0 && digits[0] == '+' {
		digits = digits[1:]
	}
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return ""
	}
	return digits[:3]
}

// CallPrice is the result of pricing a single call leg.
type CallPrice struct {
	Price      money.Amount
	IsTollFree bool
	Units      int64 // minutes if round-up, else seconds
}

// InboundCallRate prices one inbound AI call leg per §4.3: toll-free vs
// local NPA lookup selects the per-minute rate; roundUpToMinute selects
// between ceil(billsec/60) minute-units and raw-second billing.
func InboundCallRate(toNumber string, billsec int64, rateLocalPerMin, rateTollfreePerMin money.Amount, roundUpToMinute bool) CallPrice {
	tollFree := IsTollFree(toNumber)
	rate := rateLocalPerMin
	if tollFree {
		rate = rateTollfreePerMin
	}
	return priceBySeconds(billsec, rate, roundUpToMinute, tollFree)
}

// OutboundDialerRate prices one outbound dialer call leg against a single
// configured per-minute rate (no toll-free distinction — the dialed number
// is the lead's, not one the platform routes inbound traffic to).
func OutboundDialerRate(billsec int64, ratePerMin money.Amount, roundUpToMinute bool) CallPrice {
	return priceBySeconds(billsec, ratePerMin, roundUpToMinute, false)
}

func priceBySeconds(billsec int64, ratePerMin money.Amount, roundUpToMinute bool, tollFree bool) CallPrice {
	if billsec < 0 {
		billsec = 0
	}
	if roundUpToMinute {
		units := ceilDiv(billsec, 60)
		return CallPrice{Price: ratePerMin.MulInt(units), IsTollFree: tollFree, Units: units}
	}
	// Per-second billing: rate_per_min / 60 * billsec, done in scaled
	// integer space so it never rounds to zero at sub-cent rates.
	perSecond := ratePerMin.Int64() // scaled by money.Scale
	total := perSecond * billsec / 60
	return CallPrice{Price: money.FromInt64(total), IsTollFree: tollFree, Units: billsec}
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}

// MonthlyNumberFee returns the local or toll-free monthly fee for phoneNumber.
func MonthlyNumberFee(phoneNumber string, localFee, tollfreeFee money.Amount) money.Amount {
	if IsTollFree(phoneNumber) {
		return tollfreeFee
	}
	return localFee
}

// PhysicalMailCost applies the configured flat + percentage markup on top
// of the print-and-mail provider's cost estimate.
func PhysicalMailCost(providerCostEstimate money.Amount, flatMarkup money.Amount, pctMarkup float64) money.Amount {
	pct := money.FromFloat(providerCostEstimate.Float64() * pctMarkup)
	return providerCostEstimate.Add(flatMarkup).Add(pct)
}
