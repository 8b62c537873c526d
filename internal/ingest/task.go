package ingest

import (
	"cmp"
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/trace"

	"github.com/impactledger/impact-ingest/internal/disclosure"
	"github.com/impactledger/impact-ingest/internal/kpi"
	"github.com/impactledger/impact-ingest/internal/logging"
	"github.com/impactledger/impact-ingest/internal/otel"
)

// SourcePrefix namespaces the provenance of written records
const SourcePrefix = "DART:"

// runTask executes t and accounts for its outcome. A task never returns an
// error to the pool: faults are counted and the run continues.
func (o *Orchestrator) runTask(ctx context.Context, r *run, wm *watermark, t Task) {
	if r.quota.Load() || ctx.Err() != nil {
		o.record(ctx, r, outcomeSkipped)
		return
	}

	ctx, span := otel.StartSpan(ctx, o.tracer, "ingest.task", trace.WithAttributes(
		otel.AttrEntity.String(t.Entity.Code),
		otel.AttrPeriod.String(t.Period.String()),
	))
	defer span.End()

	ctx = logging.IntoContext(ctx, "entity", t.Entity.Code, "period", t.Period.String())
	logger := logging.FromContext(ctx)

	oc := outcomeFailure
	defer func() {
		if rec := recover(); rec != nil {
			oc = outcomeFailure
			err := fmt.Errorf("task panicked: %v", rec)
			logger.Error(err, "Recovered from panic in ingestion task")
			otel.RecordError(span, err)
		}

		span.SetAttributes(otel.AttrOutcome.String(string(oc)))
		o.record(ctx, r, oc)
		if oc != outcomeSkipped {
			wm.done(t.Index)
		}
	}()

	var err error
	oc, err = o.collect(ctx, r, t)
	if err != nil {
		if oc != outcomeFailure {
			otel.RecordEvent(span, err)
		} else {
			otel.RecordError(span, err)
			logger.Error(err, "Ingestion task failed")
			_ = o.sleep(ctx, o.cfg.ErrorDelay)
		}
	}
}

// collect lists the filings of t, then parses them in preference order until one
// discloses an amount, which is written through the gateway
func (o *Orchestrator) collect(ctx context.Context, r *run, t Task) (outcome, error) {
	logger := logging.FromContext(ctx)

	reports, err := o.deps.Client.ListReports(ctx, t.Entity.Code, t.Period)
	if err != nil {
		return o.fault(ctx, r, err)
	}

	reports = o.selectReports(reports)
	if len(reports) == 0 {
		logger.V(1).Info("No periodic reports filed in period")
		return outcomeNoData, nil
	}

	var lastErr error
	for _, report := range reports {
		if err := o.pause(ctx); err != nil {
			return outcomeSkipped, err
		}
		if r.quota.Load() {
			return outcomeSkipped, nil
		}

		doc, err := o.deps.Client.FetchDocument(ctx, report.ReceiptNo)
		if err != nil {
			if errors.Is(err, disclosure.ErrQuotaExceeded) || ctx.Err() != nil {
				return o.fault(ctx, r, err)
			}
			logger.Info("Failed to fetch report, trying the next one", "receipt_no", report.ReceiptNo, "error", err.Error())
			lastErr = err
			continue
		}

		amount, ok := o.deps.Extractor.ExtractAmount(doc.Text)
		if !ok {
			logger.V(1).Info("Report discloses no amount", "receipt_no", report.ReceiptNo, "report", report.Name)
			continue
		}

		record := o.recordFor(t, report, amount)
		// A fetched amount is stored even when the run stops meanwhile
		result, err := o.deps.Gateway.Upsert(context.WithoutCancel(ctx), record)
		if err != nil {
			return outcomeFailure, errors.Wrapf(err, "failed to upsert %s", record.Key())
		}
		logger.Info("Collected donation amount",
			"receipt_no", report.ReceiptNo,
			"amount", amount,
			"year", record.Year,
			"month", record.Month,
			"result", result.String())
		return outcomeSuccess, nil
	}

	if lastErr != nil {
		return outcomeFailure, lastErr
	}
	return outcomeNoData, nil
}

// fault classifies a client error into the task outcome. The first quota error
// of a run raises the quota flag and cancels the calls other workers have in
// flight. Tasks stopped by quota or cancellation are skipped so that a resumed
// run repeats them.
func (o *Orchestrator) fault(ctx context.Context, r *run, err error) (outcome, error) {
	switch {
	case errors.Is(err, disclosure.ErrQuotaExceeded):
		if r.tripQuota(err) {
			logging.FromContext(ctx).Info("Disclosure API quota exhausted, stopping new work", "error", err.Error())
		}
		return outcomeSkipped, err
	case ctx.Err() != nil:
		return outcomeSkipped, err
	default:
		return outcomeFailure, err
	}
}

// selectReports keeps the accepted report kinds, preferred kind first, newest first
func (o *Orchestrator) selectReports(reports []disclosure.Report) []disclosure.Report {
	type ranked struct {
		report disclosure.Report
		kind   int
		filed  time.Time
	}

	kept := make([]ranked, 0, len(reports))
	for _, rep := range reports {
		kind := o.kindRank(rep.Name)
		if kind < 0 {
			continue
		}
		filed, _ := rep.FiledAt()
		kept = append(kept, ranked{report: rep, kind: kind, filed: filed})
	}

	slices.SortStableFunc(kept, func(a, b ranked) int {
		return cmp.Or(
			cmp.Compare(a.kind, b.kind),
			b.filed.Compare(a.filed),
			cmp.Compare(b.report.ReceiptNo, a.report.ReceiptNo),
		)
	})

	out := make([]disclosure.Report, len(kept))
	for i, k := range kept {
		out[i] = k.report
	}
	return out
}

func (o *Orchestrator) kindRank(name string) int {
	for i, kind := range o.cfg.ReportKinds {
		if kind != "" && strings.Contains(name, kind) {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) recordFor(t Task, report disclosure.Report, amount int64) kpi.Record {
	record := kpi.Record{
		OrgCode: t.Entity.Code,
		Metric:  o.cfg.Metric,
		Year:    t.Period.Year,
		Month:   t.Period.Month,
		Value:   amount,
		Source:  SourcePrefix + report.ReceiptNo,
	}
	if filed, ok := report.FiledAt(); ok {
		filed = filed.In(o.cfg.Location)
		record.Year = filed.Year()
		record.Month = int(filed.Month())
	}
	return record
}

// pause waits CallDelay plus a random share of CallJitter
func (o *Orchestrator) pause(ctx context.Context) error {
	d := o.cfg.CallDelay
	if o.cfg.CallJitter > 0 {
		d += time.Duration(o.jitter(int64(o.cfg.CallJitter)))
	}
	return o.sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomInt64N(n int64) int64 {
	//nolint:gosec // G404: pacing jitter does not need cryptographic randomness
	return rand.Int64N(n)
}
