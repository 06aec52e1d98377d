// Package extract pulls payment signals out of bank SMS text. Both matchers are pure and run
// independently over the same input.
package extract

import "github.com/smallbiznis/upimatch/internal/reconcile/domain"

func Extract(text string) domain.Signals {
	amount, ok := Amount(text)
	return domain.Signals{
		AmountMinor: amount,
		AmountFound: ok,
		Reference:   Reference(text),
	}
}
