package invoices

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Plabrum/arive/internal/actions"
	"github.com/Plabrum/arive/internal/mail"
	"github.com/Plabrum/arive/internal/store"
	"github.com/Plabrum/arive/internal/tasks"
)

const TaskSendEmail = "invoice_send_email"

type sendEmailPayload struct {
	InvoiceID int64 `json:"invoice_id"`
}

// RegisterTasks wires the invoice email handler into the queue.
func RegisterTasks(q *tasks.Queue, deps *actions.Deps) error {
	return q.RegisterHandler(TaskSendEmail, func(ctx context.Context, tx *sql.Tx, raw json.RawMessage) error {
		var p sendEmailPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("invoice send payload: %w", err)
		}
		return sendEmail(ctx, tx, deps, p.InvoiceID)
	})
}

func sendEmail(ctx context.Context, tx *sql.Tx, deps *actions.Deps, invoiceID int64) error {
	pb := deps.Store.Dialect.NewParamBuilder()
	inv, err := store.QueryRow(ctx, tx,
		"SELECT number, amount_cents, due_date, brand_id FROM invoices WHERE id = "+pb.Add(invoiceID),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("load invoice %d: %w", invoiceID, err)
	}

	var to string
	if brandID, ok := inv["brand_id"].(int64); ok && brandID > 0 {
		bp := deps.Store.Dialect.NewParamBuilder()
		brand, err := store.QueryRow(ctx, tx,
			"SELECT contact_email FROM brands WHERE id = "+bp.Add(brandID), bp.Params()...)
		if err == nil {
			to, _ = brand["contact_email"].(string)
		}
	}
	if to == "" {
		// Nothing to deliver to; the invoice stays Sent and the task is done.
		return nil
	}

	number, _ := inv["number"].(string)
	amount, _ := inv["amount_cents"].(int64)
	body := fmt.Sprintf("Invoice %s for $%.2f is ready.\n", number, float64(amount)/100)
	if due, ok := inv["due_date"].(string); ok && due != "" {
		body += fmt.Sprintf("Payment is due by %s.\n", due)
	}
	return deps.Mailer.Send(ctx, mail.Message{
		To:      []string{to},
		Subject: "Invoice " + number,
		Body:    body,
	})
}
