// Copyright 2026 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.


package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/tkmct/staledb/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/tkmct/staledb/monitor"

// behindWarnInterval bounds how often the persistence lag warning is logged.
const behindWarnInterval = time.Minute

// Reconciler verifies a single header against the database: the BLOCKHASH
// window below it must be readable and the stored hash must equal the one
// reported over RPC.
type Reconciler struct {
	db      ChainReader
	checker *Checker
	metrics *metrics.Metrics
	tracer  trace.Tracer

	behindWarn *rate.Limiter
}

// NewReconciler creates a reconciler reading from db. m may be nil.
func NewReconciler(db ChainReader, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		db:         db,
		checker:    NewChecker(db),
		metrics:    m,
		tracer:     otel.Tracer(tracerName),
		behindWarn: rate.NewLimiter(rate.Every(behindWarnInterval), 1),
	}
}

// Reconcile checks h. latency is how long h waited between arrival and this
// call. It returns nil when the block verified or the database has not caught
// up to it yet, a *MissingHashError or *HashMismatchError on a consistency
// failure, and a plain error if the database could not be read.
func (r *Reconciler) Reconcile(ctx context.Context, h Header, latency time.Duration) error {
	ctx, span := r.tracer.Start(ctx, "monitor.Reconcile", trace.WithAttributes(
		attribute.Int64("block.number", int64(h.Number)),
		attribute.String("block.hash", h.Hash.Hex()),
		attribute.Int64("block.latency_ms", latency.Milliseconds()),
	))
	defer span.End()

	r.metrics.HeaderReconciled(latency)
	log.Debug("Verifying block", "number", h.Number, "hash", h.Hash, "latency", common.PrettyDuration(latency))

	// A started check runs to completion even when the monitor is stopping.
	err := r.reconcile(context.WithoutCancel(ctx), h, latency, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *Reconciler) reconcile(ctx context.Context, h Header, latency time.Duration, span trace.Span) error {
	head, err := r.db.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("read database head: %w", err)
	}
	if head < h.Number {
		return r.databaseBehind(ctx, h, head, span)
	}

	start := time.Now()
	res, err := r.checker.Check(ctx, h.Number)
	if err != nil {
		return err
	}
	r.metrics.CheckCompleted(time.Since(start))
	span.SetAttributes(attribute.Int64("window.start", int64(res.WindowStart)))

	if !res.OK() {
		log.Error("Missing historical block hash", "block", *res.Missing, "verifying", h.Number,
			"window", res.WindowStart, "head", head, "latency", common.PrettyDuration(latency))
		r.metrics.Failure(metrics.ReasonMissingHash)
		return &MissingHashError{Block: *res.Missing, Target: h.Number, WindowStart: res.WindowStart}
	}

	dbHash, ok, err := r.db.BlockHash(ctx, h.Number)
	if err != nil {
		return fmt.Errorf("read block hash %d: %w", h.Number, err)
	}
	if !ok {
		// Dropped between the window scan and this read.
		r.metrics.Failure(metrics.ReasonMissingHash)
		return &MissingHashError{Block: h.Number, Target: h.Number, WindowStart: res.WindowStart}
	}
	if dbHash != h.Hash {
		log.Error("Block hash mismatch", "block", h.Number, "rpc", h.Hash, "db", dbHash,
			"latency", common.PrettyDuration(latency))
		r.metrics.Failure(metrics.ReasonHashMismatch)
		return &HashMismatchError{Block: h.Number, RPC: h.Hash, DB: dbHash}
	}

	log.Info("Block hash verified", "number", h.Number, "hash", h.Hash, "window", res.WindowStart,
		"head", head, "latency", common.PrettyDuration(latency))
	header, err := r.db.HeaderByNumber(ctx, h.Number)
	if err != nil {
		log.Debug("Failed to read verified header", "number", h.Number, "err", err)
	} else if header != nil {
		log.Debug("Verified block header", "number", h.Number, "gasUsed", header.GasUsed,
			"gasLimit", header.GasLimit, "time", header.Time)
	}
	r.metrics.BlockVerified(h.Number)
	return nil
}

// databaseBehind handles a header the database has not stored yet. The head
// hash is read to prove the database is still readable.
func (r *Reconciler) databaseBehind(ctx context.Context, h Header, head uint64, span trace.Span) error {
	span.SetAttributes(attribute.Bool("database.behind", true))

	headHash, ok, err := r.db.BlockHash(ctx, head)
	if err != nil {
		return fmt.Errorf("read block hash %d: %w", head, err)
	}
	if !ok {
		log.Error("Missing block hash for database head", "head", head, "rpc", h.Number)
		r.metrics.Failure(metrics.ReasonMissingHash)
		return &MissingHashError{Block: head, Target: head, WindowStart: WindowStart(head)}
	}
	r.metrics.DatabaseBehind()

	log.Debug("Database is behind RPC, skipping", "number", h.Number, "head", head, "headHash", headHash)
	if r.behindWarn.Allow() {
		log.Warn("Database lags the RPC feed, node persistence threshold may be too high",
			"rpc", h.Number, "db", head, "lag", h.Number-head)
	}
	return nil
}
