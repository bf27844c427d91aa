package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/garyjia/receipt-ledger/internal/application/validation"
	"github.com/garyjia/receipt-ledger/internal/domain/entity"
	"github.com/garyjia/receipt-ledger/internal/domain/event"
)

// SendOptions modifies one bulk send
type SendOptions struct {
	Actor string
	// Force writes ledger rows even when the invoice number is already present
	Force bool
}

// SendResult is the per-draft outcome of a bulk send
type SendResult struct {
	DraftID  string                  `json:"draft_id"`
	Status   string                  `json:"status"`
	Stage    string                  `json:"stage,omitempty"`
	Errors   []string                `json:"errors,omitempty"`
	Location *port.LedgerWriteResult `json:"location,omitempty"`
	Staff    *port.LedgerWriteResult `json:"staff,omitempty"`
}

// SendReport summarizes a bulk send; Results follow request order
type SendReport struct {
	Total       int          `json:"total"`
	SentCount   int          `json:"sent_count"`
	FailedCount int          `json:"failed_count"`
	Results     []SendResult `json:"results"`
}

// SendService commits drafts to both ledgers and reconciles their state
type SendService interface {
	Send(ctx context.Context, draftIDs []string, opts SendOptions) (*SendReport, error)
}

type sendServiceImpl struct {
	drafts         DraftService
	gate           *validation.Gate
	locationWriter port.LedgerWriter
	staffWriter    port.LedgerWriter
	runner         port.TaskRunner
	audit          AuditService
	logger         Logger
}

// NewSendService creates a new SendService. A nil runner runs both ledger
// writers on the calling goroutine.
func NewSendService(
	drafts DraftService,
	gate *validation.Gate,
	locationWriter port.LedgerWriter,
	staffWriter port.LedgerWriter,
	runner port.TaskRunner,
	audit AuditService,
	logger Logger,
) SendService {
	return &sendServiceImpl{
		drafts:         drafts,
		gate:           gate,
		locationWriter: locationWriter,
		staffWriter:    staffWriter,
		runner:         runner,
		audit:          audit,
		logger:         logger,
	}
}

type batchOutcome struct {
	results []port.LedgerWriteResult
	err     error
}

// Send validates every requested draft, writes the ready ones to both ledgers
// in one batch per ledger and marks each SENT only when both writes committed.
// Item failures never abort the batch.
func (s *sendServiceImpl) Send(ctx context.Context, draftIDs []string, opts SendOptions) (*SendReport, error) {
	report := &SendReport{
		Total:   len(draftIDs),
		Results: make([]SendResult, len(draftIDs)),
	}

	var (
		ready   []int
		loaded  = make([]*entity.Draft, len(draftIDs))
		seenIDs = make(map[string]bool, len(draftIDs))
	)

	for i, id := range draftIDs {
		result := &report.Results[i]
		result.DraftID = id

		if seenIDs[id] {
			fail(result, entity.SendStatusError, entity.StageLoad, errors.New("draft requested more than once in this batch"))
			continue
		}
		seenIDs[id] = true

		draft, err := s.drafts.Get(ctx, id)
		if err != nil {
			fail(result, entity.SendStatusError, entity.StageLoad, err)
			continue
		}
		if draft.IsSent() {
			fail(result, entity.SendStatusError, entity.StageLoad, &entity.ImmutabilityError{DraftID: id, Operation: "re-sent"})
			continue
		}
		if draft.Status != entity.StatusDraft {
			fail(result, entity.SendStatusError, entity.StageLoad, fmt.Errorf("draft %s has unexpected status %q", id, draft.Status))
			continue
		}

		check := s.gate.Check(ctx, draft)
		if !check.Ready {
			result.Status = entity.SendStatusValidationFailed
			result.Errors = check.Violations
			s.audit.Record(ctx, event.TypeSendValidationFailed, opts.Actor, id, map[string]interface{}{
				"violations":      strings.Join(check.Violations, "; "),
				"violation_count": len(check.Violations),
			})
			continue
		}

		loaded[i] = draft
		ready = append(ready, i)
	}

	if len(ready) == 0 {
		s.logger.Info("No drafts ready to send", "requested", len(draftIDs))
		return finish(report), nil
	}

	requests := make([]port.LedgerWriteRequest, len(ready))
	for j, i := range ready {
		draft := loaded[i]
		requests[j] = port.LedgerWriteRequest{Key: draft.DraftID, Receipt: draft.Receipt}
		s.audit.Record(ctx, event.TypeSendAttempted, opts.Actor, draft.DraftID, map[string]interface{}{
			"batch_size": len(ready),
			"force":      opts.Force,
		})
	}

	location, staff := s.writeBoth(ctx, requests, port.WriteOptions{Force: opts.Force})

	for j, i := range ready {
		s.reconcile(ctx, &report.Results[i], loaded[i], opts.Actor,
			pick(location, j, s.locationWriter.Target(), requests[j].Key),
			pick(staff, j, s.staffWriter.Target(), requests[j].Key),
		)
	}

	finish(report)
	s.logger.Info("Bulk send completed",
		"total", report.Total,
		"sent", report.SentCount,
		"failed", report.FailedCount,
	)
	return report, nil
}

// writeBoth runs the location and staff writers concurrently. The two targets
// never share a document.
func (s *sendServiceImpl) writeBoth(ctx context.Context, requests []port.LedgerWriteRequest, opts port.WriteOptions) (batchOutcome, batchOutcome) {
	writers := []port.LedgerWriter{s.locationWriter, s.staffWriter}
	outcomes := make([]batchOutcome, len(writers))

	var wg sync.WaitGroup
	for k, writer := range writers {
		k, writer := k, writer
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes[k] = batchOutcome{err: fmt.Errorf("%s ledger writer panicked: %v", writer.Target(), r)}
				}
			}()
			results, err := writer.WriteBatch(ctx, requests, opts)
			outcomes[k] = batchOutcome{results: results, err: err}
		}

		if s.runner == nil {
			task()
			continue
		}
		if err := s.runner.Submit(task); err != nil {
			s.logger.Warn("Worker pool rejected ledger task, running inline", "error", err, "target", writer.Target())
			task()
		}
	}
	wg.Wait()

	for k, writer := range writers {
		if outcomes[k].err != nil {
			s.logger.Error("Ledger writer outage", "error", outcomes[k].err, "target", writer.Target())
		}
	}
	return outcomes[0], outcomes[1]
}

// pick extracts the j-th result of a batch, turning a writer outage or a short
// result slice into an error result for that item
func pick(outcome batchOutcome, j int, target, key string) port.LedgerWriteResult {
	if outcome.err != nil {
		return port.LedgerWriteResult{Key: key, Target: target, Status: entity.LedgerStatusError, Detail: outcome.err.Error()}
	}
	if j >= len(outcome.results) {
		return port.LedgerWriteResult{Key: key, Target: target, Status: entity.LedgerStatusError, Detail: "no result returned by ledger writer"}
	}
	return outcome.results[j]
}

func (s *sendServiceImpl) reconcile(ctx context.Context, result *SendResult, draft *entity.Draft, actor string, location, staff port.LedgerWriteResult) {
	result.Location = &location
	result.Staff = &staff
	outcome := ledgerData(location, staff)

	if !location.Status.IsCommitted() || !staff.Status.IsCommitted() {
		var errs []string
		for _, r := range []port.LedgerWriteResult{location, staff} {
			if !r.Status.IsCommitted() {
				errs = append(errs, describeFailure(r))
			}
		}
		sendErr := errors.New(strings.Join(errs, "; "))
		fail(result, entity.SendStatusError, entity.StageLedgerWrite, sendErr)
		s.recordFailure(ctx, draft.DraftID, actor, entity.StageLedgerWrite, sendErr, outcome)
		return
	}

	if _, err := s.drafts.MarkSent(ctx, draft.DraftID); err != nil {
		fail(result, entity.SendStatusError, entity.StageStateUpdate, err)
		s.recordFailure(ctx, draft.DraftID, actor, entity.StageStateUpdate, err, outcome)
		return
	}

	result.Status = entity.SendStatusSent
	if err := s.drafts.RecordSendAttempt(ctx, draft.DraftID, nil); err != nil {
		s.logger.Warn("Failed to record send attempt", "error", err, "draft_id", draft.DraftID)
	}
	s.audit.Record(ctx, event.TypeSendSucceeded, actor, draft.DraftID, outcome)
}

func (s *sendServiceImpl) recordFailure(ctx context.Context, draftID, actor, stage string, sendErr error, outcome map[string]interface{}) {
	if err := s.drafts.RecordSendAttempt(ctx, draftID, sendErr); err != nil {
		s.logger.Warn("Failed to record send attempt", "error", err, "draft_id", draftID)
	}
	outcome["stage"] = stage
	outcome["error"] = sendErr.Error()
	s.audit.Record(ctx, event.TypeSendFailed, actor, draftID, outcome)
	s.logger.Error("Draft send failed", "error", sendErr, "draft_id", draftID, "stage", stage)
}

func describeFailure(r port.LedgerWriteResult) string {
	if r.Detail == "" {
		return fmt.Sprintf("%s ledger: %s", r.Target, r.Status)
	}
	return fmt.Sprintf("%s ledger: %s: %s", r.Target, r.Status, r.Detail)
}

func ledgerData(location, staff port.LedgerWriteResult) map[string]interface{} {
	data := make(map[string]interface{}, 8)
	for _, r := range []port.LedgerWriteResult{location, staff} {
		data[r.Target+"_status"] = string(r.Status)
		if r.Row > 0 {
			data[r.Target+"_row"] = r.Row
		}
		if r.Sheet != "" {
			data[r.Target+"_sheet"] = r.Sheet
		}
		if r.Document != "" {
			data[r.Target+"_document"] = r.Document
		}
	}
	return data
}

func fail(result *SendResult, status, stage string, err error) {
	result.Status = status
	result.Stage = stage
	result.Errors = append(result.Errors, err.Error())
}

func finish(report *SendReport) *SendReport {
	report.SentCount, report.FailedCount = 0, 0
	for _, r := range report.Results {
		if r.Status == entity.SendStatusSent {
			report.SentCount++
		} else {
			report.FailedCount++
		}
	}
	return report
}
