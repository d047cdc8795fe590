package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceLine is a descriptor handed to the invoicing collaborator.
type InvoiceLine struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (l InvoiceLine) Amount() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

type Invoice struct {
	ID           int32           `json:"id"`
	Reference    string          `json:"reference"`
	CustomerName string          `json:"customer_name"`
	InvoiceDate  time.Time       `json:"invoice_date"`
	Origin       string          `json:"origin"`
	Lines        []InvoiceLine   `json:"lines"`
	Total        decimal.Decimal `json:"total"`
	CreatedOn    time.Time       `json:"created_on"`
}
