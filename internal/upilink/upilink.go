// Package upilink renders UPI payment-request URIs. Links are derived on demand and never
// stored.
package upilink

import (
	"net/url"
	"strings"

	"github.com/smallbiznis/upimatch/internal/config"
	"github.com/smallbiznis/upimatch/internal/reconcile/domain"
)

// Build returns upi://pay?pa=<vpa>&pn=<name>&am=<amount>&cu=<currency>.
func Build(payee config.PayeeConfig, amountMinor int64) string {
	currency := strings.TrimSpace(payee.Currency)
	if currency == "" {
		currency = "INR"
	}
	// pa is emitted verbatim; VPAs are restricted to [A-Za-z0-9.\-_@].
	var b strings.Builder
	b.WriteString("upi://pay?pa=")
	b.WriteString(strings.TrimSpace(payee.VPA))
	b.WriteString("&pn=")
	b.WriteString(escape(payee.Name))
	b.WriteString("&am=")
	b.WriteString(domain.MinorToDecimal(amountMinor).StringFixed(2))
	b.WriteString("&cu=")
	b.WriteString(escape(currency))
	return b.String()
}

// escape percent-encodes like a URI component, so spaces become %20 rather than '+'.
func escape(v string) string {
	return strings.ReplaceAll(url.QueryEscape(strings.TrimSpace(v)), "+", "%20")
}
