package notify

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/meridian-erp/meridian-erp/internal/dispatch"
)

var amountPrinter = message.NewPrinter(language.English)

// BuildTransitMessage renders the customer notice sent when goods leave
// for delivery.
func BuildTransitMessage(d dispatch.Dispatch, senderName string) string {
	var b strings.Builder
	b.WriteString("Your order is on the way!\n\n")
	b.WriteString("Dispatch: " + d.DispatchNumber + "\n")
	if d.InvoiceNumber != "" {
		b.WriteString("Invoice: " + d.InvoiceNumber + "\n")
	}
	if d.Transporter != nil {
		b.WriteString("Vehicle: " + d.Transporter.VehicleNumber + "\n")
		if d.Transporter.DriverName != "" {
			driver := d.Transporter.DriverName
			if d.Transporter.DriverPhone != "" {
				driver += " (" + d.Transporter.DriverPhone + ")"
			}
			b.WriteString("Driver: " + driver + "\n")
		}
	}

	b.WriteString("\nItems:\n")
	for _, item := range d.Items {
		b.WriteString(amountPrinter.Sprintf("- %s: %v %s\n", item.ProductName, item.Quantity, item.Unit))
	}
	b.WriteString(amountPrinter.Sprintf("\nTotal value: Rs. %.2f\n", d.TotalValue()))

	if d.Payment != nil && d.Payment.AmountToCollect > 0 {
		b.WriteString(amountPrinter.Sprintf("Amount to collect on delivery: Rs. %.2f\n", d.Payment.AmountToCollect))
	}
	if d.EstimatedDelivery != nil {
		b.WriteString("Expected delivery: " + d.EstimatedDelivery.Format("02 Jan 2006, 3:04 PM") + "\n")
	}
	b.WriteString("\n- " + senderName)
	return b.String()
}
