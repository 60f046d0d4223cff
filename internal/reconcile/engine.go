// Package reconcile submits operator-assigned statuses for many students at
// once and folds the mixed per-item outcomes into a single summary.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"classtrack/internal/attendance"
)

var itemsByAction = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "classtrack_reconcile_items_total",
	Help: "Reconciliation item outcomes by action.",
}, []string{"action"})

// Request is one batch write: every listed student gets the same status,
// recorded under the method the roster arrived by.
type Request struct {
	StudentIDs    []string          `json:"studentIds"`
	Status        attendance.Status `json:"status"`
	Method        attendance.Method `json:"method"`
	LectureNumber int               `json:"lectureNumber"`
	Date          string            `json:"date"`
}

// BatchWriter performs one durable batch write and reports per-item results.
type BatchWriter interface {
	WriteBatch(ctx context.Context, req Request) ([]attendance.ItemResult, error)
}

// RefreshFunc re-reads the roster's authoritative statuses after a round.
type RefreshFunc func(ctx context.Context) error

// Outcome summarizes one reconciliation round. An item counts as a success
// when it is newly written or already in the requested state; only rejected
// items appear in FailureDetails.
type Outcome struct {
	SuccessCount   int                     `json:"successCount"`
	Requests       int                     `json:"requests"`
	FailureDetails []attendance.ItemResult `json:"failureDetails"`
}

// Engine partitions a roster by desired status and submits one batch per
// group. Groups are issued sequentially in the declared status order, so a
// round is deterministic and writes for one roster never race each other.
type Engine struct {
	writer  BatchWriter
	refresh RefreshFunc
}

// NewEngine creates an engine. refresh is mandatory: the authoritative
// post-round state must come from the server, never from the local roster.
func NewEngine(writer BatchWriter, refresh RefreshFunc) (*Engine, error) {
	if writer == nil {
		return nil, errors.New("batch writer required")
	}
	if refresh == nil {
		return nil, errors.New("refresh func required")
	}
	return &Engine{writer: writer, refresh: refresh}, nil
}

// Submit runs one reconciliation round. method says how the roster arrived
// (operator entry or bulk upload). A batch whose transport fails, or items
// rejected within a batch, never abort the remaining groups.
func (e *Engine) Submit(ctx context.Context, roster map[string]attendance.Status, method attendance.Method, lectureNumber int, date string) (Outcome, error) {
	if len(roster) == 0 {
		return Outcome{}, errors.New("empty roster")
	}
	if method != attendance.MethodManual && method != attendance.MethodBulk {
		return Outcome{}, fmt.Errorf("method %q cannot carry a reconciliation round", method)
	}
	if lectureNumber <= 0 || date == "" {
		return Outcome{}, errors.New("lecture number and date required")
	}

	var out Outcome
	for _, status := range attendance.ManualStatuses {
		group := groupFor(roster, status)
		if len(group) == 0 {
			continue
		}
		out.Requests++

		results, err := e.writer.WriteBatch(ctx, Request{
			StudentIDs:    group,
			Status:        status,
			Method:        method,
			LectureNumber: lectureNumber,
			Date:          date,
		})
		if err != nil {
			// The whole group failed in transit; every student in it is a
			// failure for this round and the next group still runs.
			log.Printf("reconcile: batch %s failed: %v", status, err)
			for _, id := range group {
				fail := attendance.ItemResult{
					StudentID: id,
					Action:    attendance.ActionRejected,
					Message:   fmt.Sprintf("batch write failed: %v", err),
				}
				itemsByAction.WithLabelValues(string(attendance.ActionRejected)).Inc()
				out.FailureDetails = append(out.FailureDetails, fail)
			}
			continue
		}

		for _, res := range results {
			itemsByAction.WithLabelValues(string(res.Action)).Inc()
			if res.Counted() {
				out.SuccessCount++
				continue
			}
			log.Printf("reconcile: %s rejected: %s", res.StudentID, res.Message)
			out.FailureDetails = append(out.FailureDetails, res)
		}
	}

	if err := e.refresh(ctx); err != nil {
		return out, fmt.Errorf("post-round refresh failed: %w", err)
	}
	return out, nil
}

// groupFor returns the roster entries with the given status, sorted so the
// request payload is deterministic.
func groupFor(roster map[string]attendance.Status, status attendance.Status) []string {
	var ids []string
	for id, s := range roster {
		if s == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
