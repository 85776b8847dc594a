// Package invoice renders the customer-facing invoice document for an order.
package invoice

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"reconciliation-service/models"
)

const ContentType = "text/html; charset=utf-8"

// Number derives the invoice number from the order alone, so every attempt
// for the same order produces the same number and object key.
func Number(o *models.Order) string {
	id := strings.ToUpper(strings.ReplaceAll(o.ID.String(), "-", ""))
	return fmt.Sprintf("INV-%s-%s", o.CreatedAt.UTC().Format("20060102"), id[:8])
}

// Key is the object-store key of the invoice document.
func Key(o *models.Order, number string) string {
	return fmt.Sprintf("invoices/%s/%s.html", o.ID, number)
}

// Seller identifies the issuing business on the document.
type Seller struct {
	Name    string
	Address string
	TaxID   string
}

type view struct {
	Number   string
	IssuedAt string
	Seller   Seller
	Order    *models.Order
	Currency string
	Lines    []lineView
	Items    string
	Discount string
	Shipping string
	Tax      string
	Total    string
	Paid     bool
}

type lineView struct {
	Name      string
	Quantity  int
	ListPrice string
	UnitPrice string
	Discount  string
	Total     string
}

var tmpl = template.Must(template.New("invoice").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Invoice {{.Number}}</title></head>
<body>
<h1>Invoice {{.Number}}</h1>
<p>{{.Seller.Name}}<br>{{.Seller.Address}}{{if .Seller.TaxID}}<br>Tax ID: {{.Seller.TaxID}}{{end}}</p>
<p>Order {{.Order.ID}}<br>Issued {{.IssuedAt}}<br>Payment: {{.Order.PaymentMethod}} ({{if .Paid}}paid{{else}}due{{end}})</p>
<h2>Ship to</h2>
<p>{{with .Order.ShippingAddress}}{{.Name}}<br>{{.Line1}}{{if .Line2}}<br>{{.Line2}}{{end}}<br>{{.City}} {{.PostalCode}}<br>{{.Country}}{{end}}</p>
<table>
<thead><tr><th>Item</th><th>Qty</th><th>List</th><th>Unit</th><th>Coupon</th><th>Total</th></tr></thead>
<tbody>
{{range .Lines}}<tr><td>{{.Name}}</td><td>{{.Quantity}}</td><td>{{.ListPrice}}</td><td>{{.UnitPrice}}</td><td>{{.Discount}}</td><td>{{.Total}}</td></tr>
{{end}}</tbody>
</table>
<table>
<tr><td>Items</td><td>{{.Items}}</td></tr>
<tr><td>Discounts</td><td>{{.Discount}}</td></tr>
<tr><td>Shipping</td><td>{{.Shipping}}</td></tr>
<tr><td>Tax</td><td>{{.Tax}}</td></tr>
<tr><th>Total ({{.Currency}})</th><th>{{.Total}}</th></tr>
</table>
</body>
</html>
`))

// Render produces the HTML invoice for o.
func Render(o *models.Order, number string, issuedAt time.Time, seller Seller) ([]byte, error) {
	v := view{
		Number:   number,
		IssuedAt: issuedAt.UTC().Format("02 Jan 2006"),
		Seller:   seller,
		Order:    o,
		Currency: o.Currency,
		Items:    money(o.ItemsPrice),
		Discount: money(o.DiscountAmount),
		Shipping: money(o.ShippingPrice),
		Tax:      money(o.TaxPrice),
		Total:    money(o.TotalAmount),
		Paid:     o.PaymentStatus == models.PaymentStatusPaid,
	}
	for _, it := range o.Items {
		v.Lines = append(v.Lines, lineView{
			Name:      it.Name,
			Quantity:  it.Quantity,
			ListPrice: money(it.ListPrice),
			UnitPrice: money(it.UnitPrice),
			Discount:  money(it.CouponDiscount),
			Total:     money(it.LineTotal),
		})
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", number, err)
	}
	return buf.Bytes(), nil
}

// money formats minor units with two decimals.
func money(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
