package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/vectorwave-go/batch"
	"github.com/becomeliminal/vectorwave-go/vectorize"
)

type order struct {
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"`
}

type invalidInputError struct {
	reason string
}

func (e *invalidInputError) Error() string { return "invalid input: " + e.reason }
func (e *invalidInputError) Code() string  { return "INVALID_INPUT" }

// validateOrder rejects orders without a positive amount.
func validateOrder(ctx context.Context, o order) (order, error) {
	if o.Amount <= 0 {
		return o, &invalidInputError{reason: "amount must be positive"}
	}
	return o, nil
}

// chargeCard pretends to charge the card on file.
func chargeCard(ctx context.Context, o order) (string, error) {
	time.Sleep(5 * time.Millisecond)
	return "rcpt-" + o.OrderID, nil
}

func newDemoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Record a few sample executions inside a trace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mgr := batch.New(ctx,
				batch.WithSettings(a.settings),
				batch.WithLogger(a.logger),
				batch.WithShutdownHook(nil),
			)
			if !mgr.Initialized() {
				return fmt.Errorf("store unavailable, see log for details")
			}
			defer mgr.Close(context.Background())

			traceIDs := runDemo(ctx, vectorize.NewRuntime(a.settings, mgr, vectorize.WithLogger(a.logger)))
			for _, id := range traceIDs {
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded trace %s\n", id)
			}
			return nil
		},
	}
}

// runDemo instruments the sample functions and calls a checkout flow for
// one valid and one invalid order. It returns the trace IDs.
func runDemo(ctx context.Context, rt *vectorize.Runtime) []string {
	validate := vectorize.Instrument(rt, validateOrder,
		"Validate an order before payment", "First step of checkout",
		vectorize.Tag("team", "billing"))
	charge := vectorize.Instrument(rt, chargeCard,
		"Charge the customer's card for an order", "Runs after validation succeeds",
		vectorize.Tag("team", "billing"))

	var traceID string
	checkout := vectorize.Trace[order, string](rt, vectorize.Instrument(rt,
		func(ctx context.Context, o order) (string, error) {
			if tc, ok := vectorize.FromContext(ctx); ok {
				traceID = tc.TraceID
			}
			if _, err := validate.Invoke(ctx, o); err != nil {
				return "", err
			}
			return charge.Invoke(ctx, o)
		},
		"Check out an order: validate it, then charge the card", "Entry point of the payment flow",
		vectorize.Named("checkout"), vectorize.InModule("vectorwave/demo"),
	), "order_id")

	var traceIDs []string
	for _, o := range []order{{OrderID: "A-100", Amount: 42}, {OrderID: "A-101", Amount: 0}} {
		// The invalid order fails on purpose.
		_, _ = checkout.Invoke(ctx, o)
		traceIDs = append(traceIDs, traceID)
	}
	rt.Flush(ctx)
	return traceIDs
}
