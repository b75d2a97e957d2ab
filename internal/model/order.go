package model

import "time"

// Order は確定した注文を表す。作成後は変更されない。
type Order struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	Items      []LineItem `json:"items"`
	TotalCents int64      `json:"total_cents"`
	Note       string     `json:"note,omitempty"`
}

// LineItem は注文の1明細。金額はすべてセント単位の整数で扱う。
type LineItem struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// SubtotalCents は明細の小計（quantity * unit_price_cents）を返す。
func (li LineItem) SubtotalCents() int64 {
	return int64(li.Quantity) * li.UnitPriceCents
}
