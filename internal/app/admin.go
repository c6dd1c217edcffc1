package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/JakeFAU/elastic-logger/internal/engine"
	"github.com/JakeFAU/elastic-logger/internal/sink"
)

// AdminOp is a single administrative call against a backend.
type AdminOp func(ctx context.Context, b sink.Backend) error

// RunAdmin runs op as the only task of an engine so it shares the ingest
// shutdown path: the backend is closed exactly once whatever op returns.
func (a *App) RunAdmin(ctx context.Context, b sink.Backend, op AdminOp) error {
	e, err := a.NewEngine(b, nil)
	if err != nil {
		return errors.Join(err, b.Close(context.WithoutCancel(ctx)))
	}
	var opErr error
	runErr := e.Run(ctx, func(ctx context.Context, e *engine.Engine) error {
		if !e.Submit(ctx, func(ctx context.Context) error {
			opErr = op(ctx, b)
			return opErr
		}) {
			return fmt.Errorf("admin task was not admitted")
		}
		return nil
	})
	// Run drains every task before returning, so opErr is settled here.
	return errors.Join(opErr, runErr)
}

// InitSchema creates the index or table.
func InitSchema(ctx context.Context, b sink.Backend) error {
	return b.InitSchema(ctx)
}

// DeleteIndex removes the index or table. There is no confirmation.
func DeleteIndex(ctx context.Context, b sink.Backend) error {
	return b.DeleteIndex(ctx)
}

// Describe returns an op that prints index metadata to w.
func Describe(w io.Writer) AdminOp {
	return func(ctx context.Context, b sink.Backend) error {
		return b.Describe(ctx, w)
	}
}

// Query returns an op that reads a JSON query from r and prints the response to w.
func Query(r io.Reader, w io.Writer) AdminOp {
	return func(ctx context.Context, b sink.Backend) error {
		var query json.RawMessage
		if err := json.NewDecoder(r).Decode(&query); err != nil {
			return fmt.Errorf("read query: %w", err)
		}
		return b.Query(ctx, query, w)
	}
}
