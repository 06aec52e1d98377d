// Package receipt renders PDF confirmations for settled payment intents.
package receipt

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"

	appconfig "github.com/smallbiznis/upimatch/internal/config"
	"github.com/smallbiznis/upimatch/internal/reconcile/domain"
)

const timeLayout = "02 Jan 2006 15:04:05 MST"

// IST is how receipts present timestamps to Indian payers.
var IST = time.FixedZone("IST", 5*60*60+30*60)

type Renderer struct {
	payee appconfig.PayeeConfig
}

func New(cfg appconfig.Config) *Renderer {
	return &Renderer{payee: cfg.Payee}
}

// Render returns a one-page PDF for a PAID intent.
func (r *Renderer) Render(_ context.Context, intent domain.PaymentIntent) (io.Reader, error) {
	if intent.Status != domain.IntentStatusPaid || intent.PaidAt == nil {
		return nil, domain.ErrNotPaid
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Payment receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "PAID", props.Text{
			Size:  16,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)
	m.AddRow(15,
		col.New(12).Add(
			text.New(r.payee.Name, props.Text{Style: fontstyle.Bold}),
			text.New(r.payee.VPA, props.Text{Top: 5}),
		),
	)
	m.AddRow(4, line.NewCol(12))

	amount := intent.Currency + " " + intent.Amount().StringFixed(2)
	rows := [][2]string{
		{"Payment ID", intent.ID.String()},
		{"Amount", amount},
		{"Reference", valueOr(intent.MatchedReference, "-")},
		{"Created", intent.CreatedAt.In(IST).Format(timeLayout)},
		{"Paid", intent.PaidAt.In(IST).Format(timeLayout)},
	}
	if intent.NotificationTime != nil {
		rows = append(rows, [2]string{"Bank notification", intent.NotificationTime.In(IST).Format(timeLayout)})
	}
	if intent.UserID != nil {
		rows = append(rows, [2]string{"Customer", *intent.UserID})
	}
	for _, row := range rows {
		m.AddRow(8,
			text.NewCol(4, row[0], props.Text{Size: 10, Style: fontstyle.Bold}),
			text.NewCol(8, row[1], props.Text{Size: 10, Align: align.Right}),
		)
	}

	m.AddRow(4, line.NewCol(12))
	m.AddRow(12,
		text.NewCol(12, amount+" received via UPI", props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Top:   4,
		}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}

func valueOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}
