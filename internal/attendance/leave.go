package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LeaveStatus tracks a medical-leave request through mentor review.
type LeaveStatus string

const (
	LeavePending  LeaveStatus = "pending"
	LeaveApproved LeaveStatus = "approved"
	LeaveRejected LeaveStatus = "rejected"
)

// LeaveRequest is a student's medical-leave application over a date range.
// Only an approved request flips the covered attendance rows to ML, which is
// what makes them count as presence in the aggregate.
type LeaveRequest struct {
	ID        string      `json:"id"`
	RollNo    string      `json:"rollNo"`
	FromDate  string      `json:"fromDate"`
	ToDate    string      `json:"toDate"`
	Reason    string      `json:"reason"`
	ProofURL  string      `json:"proofUrl,omitempty"`
	Status    LeaveStatus `json:"status"`
	DecidedBy string      `json:"decidedBy,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// InsertLeave stores a new pending request.
func (r *Repository) InsertLeave(ctx context.Context, req LeaveRequest) (LeaveRequest, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Status = LeavePending
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO medical_leaves (id, roll_no, from_date, to_date, reason, proof_url, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at
	`, req.ID, req.RollNo, req.FromDate, req.ToDate, req.Reason, req.ProofURL, req.Status)
	if err := row.Scan(&req.CreatedAt); err != nil {
		return LeaveRequest{}, err
	}
	return req, nil
}

// ListLeaves returns requests, optionally filtered by student or status.
func (r *Repository) ListLeaves(ctx context.Context, rollNo string, status LeaveStatus) ([]LeaveRequest, error) {
	query := `
		SELECT id, roll_no, from_date, to_date, reason, proof_url, status, COALESCE(decided_by, ''), created_at
		FROM medical_leaves WHERE 1=1`
	args := []any{}
	if rollNo != "" {
		args = append(args, rollNo)
		query += " AND roll_no = $1"
	}
	if status != "" {
		args = append(args, status)
		query += " AND status = $" + itoa(len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []LeaveRequest
	for rows.Next() {
		var req LeaveRequest
		if err := rows.Scan(&req.ID, &req.RollNo, &req.FromDate, &req.ToDate, &req.Reason,
			&req.ProofURL, &req.Status, &req.DecidedBy, &req.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// GetLeave returns one request by id.
func (r *Repository) GetLeave(ctx context.Context, id string) (*LeaveRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, roll_no, from_date, to_date, reason, proof_url, status, COALESCE(decided_by, ''), created_at
		FROM medical_leaves WHERE id = $1
	`, id)
	var req LeaveRequest
	if err := row.Scan(&req.ID, &req.RollNo, &req.FromDate, &req.ToDate, &req.Reason,
		&req.ProofURL, &req.Status, &req.DecidedBy, &req.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

// UpdateLeaveStatus records the mentor's decision.
func (r *Repository) UpdateLeaveStatus(ctx context.Context, id string, status LeaveStatus, decidedBy string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE medical_leaves SET status = $2, decided_by = $3 WHERE id = $1
	`, id, status, decidedBy)
	return err
}

// DecideLeave applies a mentor decision. Approval converts the student's
// attendance rows in the covered range to approved ML.
func (s *Service) DecideLeave(ctx context.Context, id string, approve bool, decidedBy string) (*LeaveRequest, int64, error) {
	req, err := s.repo.GetLeave(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if req == nil {
		return nil, 0, errors.New("leave request not found")
	}
	if req.Status != LeavePending {
		return nil, 0, errors.New("leave request already decided")
	}

	status := LeaveRejected
	var touched int64
	if approve {
		status = LeaveApproved
		touched, err = s.repo.ApproveLeaveRange(ctx, req.RollNo, StatusMedicalLeave, req.FromDate, req.ToDate)
		if err != nil {
			return nil, 0, err
		}
	}
	if err := s.repo.UpdateLeaveStatus(ctx, id, status, decidedBy); err != nil {
		return nil, 0, err
	}
	req.Status = status
	req.DecidedBy = decidedBy
	return req, touched, nil
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }
