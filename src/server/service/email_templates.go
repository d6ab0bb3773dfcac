package service

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/apimgr/pharmacy/src/server/model"
)

// StockFinding is one product flagged by a stock check
type StockFinding struct {
	ProductID   string
	ProductName string
	Stock       int
	Threshold   int
	Critical    bool
}

// ExpiryFinding is one product flagged by the expiry check
type ExpiryFinding struct {
	ProductID   string
	ProductName string
	ExpiryDate  time.Time
	DaysLeft    int
}

// ScanFindings aggregates everything one health check run surfaced,
// feeding the summary email
type ScanFindings struct {
	LowStock   []StockFinding
	OutOfStock []StockFinding
	Expiring   []ExpiryFinding
	RanAt      time.Time
}

// Total returns the number of findings across all checks
func (f *ScanFindings) Total() int {
	return len(f.LowStock) + len(f.OutOfStock) + len(f.Expiring)
}

// WorstSeverityTag returns the subject tag for the most urgent finding:
// CRITICAL when anything is out of stock, WARNING when anything is in
// critical low-stock range, INFO otherwise.
func (f *ScanFindings) WorstSeverityTag() string {
	if len(f.OutOfStock) > 0 {
		return "CRITICAL"
	}
	for _, s := range f.LowStock {
		if s.Critical {
			return "WARNING"
		}
	}
	return "INFO"
}

const emailStyle = `font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;`

var priorityColors = map[models.Priority]string{
	models.PriorityCritical: "#dc2626",
	models.PriorityHigh:     "#ea580c",
	models.PriorityMedium:   "#ca8a04",
	models.PriorityLow:      "#2563eb",
	models.PriorityInfo:     "#6b7280",
}

// RenderAlertEmail builds the single-notification email body pair.
// Stored titles and messages are already HTML-escaped, so the HTML body
// embeds them directly; the text body unescapes them back to plain text.
func RenderAlertEmail(n *models.Notification, firstName string) (htmlBody, textBody string) {
	color := priorityColors[n.Priority]
	if color == "" {
		color = priorityColors[models.PriorityInfo]
	}

	greeting := "Hello"
	if firstName != "" {
		greeting = "Hello " + html.EscapeString(firstName)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<div style="%s">`, emailStyle)
	fmt.Fprintf(&b, `<div style="border-left: 4px solid %s; padding-left: 16px;">`, color)
	fmt.Fprintf(&b, `<h2 style="margin: 0 0 8px 0;">%s</h2>`, n.Title)
	fmt.Fprintf(&b, `<p style="color: #374151;">%s</p>`, n.Message)
	b.WriteString(`</div>`)
	fmt.Fprintf(&b, `<p style="color: #6b7280; font-size: 13px; margin-top: 24px;">%s, this alert was generated by your pharmacy system at %s.</p>`,
		greeting, n.CreatedAt.Format("Jan 2, 2006 15:04 MST"))
	b.WriteString(`</div>`)

	var t strings.Builder
	if firstName != "" {
		fmt.Fprintf(&t, "Hello %s,\n\n", firstName)
	}
	fmt.Fprintf(&t, "%s\n\n%s\n\nGenerated at %s\n",
		html.UnescapeString(n.Title), html.UnescapeString(n.Message),
		n.CreatedAt.Format("Jan 2, 2006 15:04 MST"))

	return b.String(), t.String()
}

// RenderSummaryEmail builds the aggregated scan report body pair
func RenderSummaryEmail(f *ScanFindings) (htmlBody, textBody string) {
	var b strings.Builder
	fmt.Fprintf(&b, `<div style="%s">`, emailStyle)
	b.WriteString(`<h2 style="margin: 0 0 4px 0;">Inventory Health Report</h2>`)
	fmt.Fprintf(&b, `<p style="color: #6b7280; margin: 0 0 20px 0;">%s &middot; %d finding(s)</p>`,
		f.RanAt.Format("Jan 2, 2006 15:04 MST"), f.Total())

	var t strings.Builder
	fmt.Fprintf(&t, "Inventory Health Report\n%s - %d finding(s)\n",
		f.RanAt.Format("Jan 2, 2006 15:04 MST"), f.Total())

	if len(f.OutOfStock) > 0 {
		renderStockSection(&b, &t, "Out of Stock", "#dc2626", f.OutOfStock, func(s StockFinding) string {
			return "out of stock"
		})
	}
	if len(f.LowStock) > 0 {
		renderStockSection(&b, &t, "Low Stock", "#ea580c", f.LowStock, func(s StockFinding) string {
			if s.Critical {
				return fmt.Sprintf("%d left (critical, threshold %d)", s.Stock, s.Threshold)
			}
			return fmt.Sprintf("%d left (threshold %d)", s.Stock, s.Threshold)
		})
	}
	if len(f.Expiring) > 0 {
		b.WriteString(`<h3 style="color: #ca8a04; margin: 20px 0 8px 0;">Expiring Soon</h3><ul style="margin: 0; padding-left: 20px;">`)
		t.WriteString("\nExpiring Soon:\n")
		for _, e := range f.Expiring {
			line := fmt.Sprintf("%s expires %s (%d day(s) left)", e.ProductName, e.ExpiryDate.Format("2006-01-02"), e.DaysLeft)
			fmt.Fprintf(&b, `<li style="margin: 4px 0;">%s</li>`, html.EscapeString(line))
			fmt.Fprintf(&t, "  - %s\n", line)
		}
		b.WriteString(`</ul>`)
	}

	if f.Total() == 0 {
		b.WriteString(`<p style="color: #16a34a;">All inventory checks passed. No action needed.</p>`)
		t.WriteString("\nAll inventory checks passed. No action needed.\n")
	}

	b.WriteString(`</div>`)
	return b.String(), t.String()
}

func renderStockSection(b, t *strings.Builder, title, color string, items []StockFinding, describe func(StockFinding) string) {
	fmt.Fprintf(b, `<h3 style="color: %s; margin: 20px 0 8px 0;">%s</h3><ul style="margin: 0; padding-left: 20px;">`, color, title)
	fmt.Fprintf(t, "\n%s:\n", title)
	for _, s := range items {
		line := fmt.Sprintf("%s: %s", s.ProductName, describe(s))
		fmt.Fprintf(b, `<li style="margin: 4px 0;">%s</li>`, html.EscapeString(line))
		fmt.Fprintf(t, "  - %s\n", line)
	}
	b.WriteString(`</ul>`)
}
