package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/elastic-logger/internal/api"
	"github.com/JakeFAU/elastic-logger/internal/engine"
	"github.com/JakeFAU/elastic-logger/internal/event"
	"github.com/JakeFAU/elastic-logger/internal/id/uuid"
	"github.com/JakeFAU/elastic-logger/internal/ingest"
	"github.com/JakeFAU/elastic-logger/internal/pump"
	"github.com/JakeFAU/elastic-logger/internal/relay"
	"github.com/JakeFAU/elastic-logger/internal/sink"
	"github.com/JakeFAU/elastic-logger/internal/source"
)

// IngestResult summarizes a finished ingest run.
type IngestResult struct {
	Engine engine.Counters
	Pump   pump.Stats
	Ingest ingest.Stats
}

// Ingest streams records from src into s until ctx ends or maxRecords have
// been drained (0 means unbounded). The sink is closed by the engine; src is
// closed once the pump has exited.
func (a *App) Ingest(ctx context.Context, src source.Client, s sink.Sink, out io.Writer, maxRecords int64) (IngestResult, error) {
	cfg := a.Config
	r := relay.New[source.Record](cfg.Engine.RelayCapacity)

	e, err := a.NewEngine(s, out)
	if err != nil {
		closeErr := s.Close(context.WithoutCancel(ctx))
		return IngestResult{}, errors.Join(err, closeErr, src.Close())
	}

	p := pump.New(src, r, a.Logger.Named("pump"),
		pump.WithIdleInterval(cfg.Source.IdleInterval),
		pump.WithErrorInterval(cfg.Source.ErrorInterval))
	consumer := ingest.NewConsumer(r, event.NewFactory(uuid.New()), s, a.Logger.Named("ingest"),
		ingest.WithPollInterval(cfg.Source.PollInterval),
		ingest.WithMaxRecords(maxRecords))

	// The pump outlives the engine; it is only stopped once the engine has
	// fully shut down.
	pumpCtx, stopPump := context.WithCancel(ctx)
	pumpDone := p.Start(pumpCtx)

	serverCtx, stopServer := context.WithCancel(ctx)
	serverDone := make(chan error, 1)
	if cfg.Server.Enabled {
		status := ingestStatus{engine: e, pump: p, consumer: consumer, relay: r}
		server := api.NewServer(status, a.Logger.Named("api"))
		go func() { serverDone <- server.ListenAndServe(serverCtx, cfg.Server.Port) }()
	} else {
		serverDone <- nil
	}

	a.Logger.Info("ingest started",
		zap.String("source", cfg.Source.Provider),
		zap.String("sink", cfg.Sink.Provider),
		zap.Int("max_tasks", e.MaxTasks()))
	runErr := e.Run(ctx, consumer.Drive)

	stopPump()
	<-pumpDone
	var closeErr error
	if err := src.Close(); err != nil {
		closeErr = fmt.Errorf("close source: %w", err)
	}
	stopServer()
	serverErr := <-serverDone

	result := IngestResult{Engine: e.Counters(), Pump: p.Stats(), Ingest: consumer.Stats()}
	a.Logger.Info("ingest finished",
		zap.Int64("received", result.Ingest.Received),
		zap.Int64("persisted", result.Ingest.Persisted),
		zap.Int64("malformed", result.Ingest.Malformed),
		zap.Int64("failed", result.Ingest.Failed))
	return result, errors.Join(runErr, closeErr, serverErr)
}

type ingestStatus struct {
	engine   *engine.Engine
	pump     *pump.Pump
	consumer *ingest.Consumer
	relay    *relay.Relay[source.Record]
}

func (s ingestStatus) Status() api.Status {
	return api.Status{
		State:      s.engine.State().String(),
		Engine:     s.engine.Counters(),
		Pump:       s.pump.Stats(),
		Ingest:     s.consumer.Stats(),
		RelayDepth: s.relay.Len(),
		RelayCap:   s.relay.Cap(),
	}
}
