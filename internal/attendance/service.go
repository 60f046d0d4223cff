package attendance

import (
	"context"
	"errors"
	"fmt"
)

// Service owns the marking policy on top of the repository: manual batch
// writes with per-item outcomes, and the record side of a face match.
type Service struct {
	repo *Repository
}

// NewService creates a service backed by a repository.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// BatchMark applies one status to a group of students, recorded under the
// given method (manual entry or bulk upload). Every student gets an
// ItemResult; a failing student never aborts the rest of the group.
func (s *Service) BatchMark(ctx context.Context, studentIDs []string, status Status, method Method, lectureNumber int, date string) ([]ItemResult, error) {
	if len(studentIDs) == 0 {
		return nil, errors.New("student ids required")
	}
	if lectureNumber <= 0 || date == "" {
		return nil, errors.New("lecture number and date required")
	}
	if !isManual(status) {
		return nil, fmt.Errorf("status %q not assignable manually", status)
	}
	if method != MethodManual && method != MethodBulk {
		return nil, fmt.Errorf("method %q cannot carry a batch write", method)
	}

	results := make([]ItemResult, 0, len(studentIDs))
	for _, id := range studentIDs {
		results = append(results, s.markOne(ctx, id, status, method, lectureNumber, date))
	}
	return results, nil
}

func (s *Service) markOne(ctx context.Context, rollNo string, status Status, method Method, lectureNumber int, date string) ItemResult {
	student, err := s.repo.FindStudent(ctx, rollNo)
	if err != nil {
		return rejected(rollNo, "lookup failed: "+err.Error())
	}
	if student == nil {
		return rejected(rollNo, "student not found")
	}

	existing, err := s.repo.Find(ctx, rollNo, lectureNumber, date)
	if err != nil {
		return rejected(rollNo, "lookup failed: "+err.Error())
	}

	if existing != nil {
		if existing.Status == status {
			return ItemResult{
				StudentID: rollNo,
				Success:   false,
				Action:    ActionAlreadyMarked,
				Message:   fmt.Sprintf("Already marked %s via %s", existing.Status, existing.Method),
			}
		}
		if err := s.repo.UpdateStatus(ctx, existing.ID, status, method); err != nil {
			return rejected(rollNo, "update failed: "+err.Error())
		}
		return ItemResult{
			StudentID: rollNo,
			Success:   true,
			Action:    ActionUpdated,
			Message:   fmt.Sprintf("Updated from %s (%s) to %s (%s)", existing.Status, existing.Method, status, method),
		}
	}

	_, err = s.repo.Insert(ctx, Record{
		RollNo:        rollNo,
		Name:          student.Name,
		LectureNumber: lectureNumber,
		Date:          date,
		Status:        status,
		Method:        method,
	})
	if err != nil {
		return rejected(rollNo, "insert failed: "+err.Error())
	}
	return ItemResult{StudentID: rollNo, Success: true, Action: ActionCreated}
}

// FaceMark is the record-side outcome of a face match.
type FaceMark struct {
	Action  ItemAction
	Fresh   bool
	Message string
	Record  *Record
}

// MarkPresentByFace records a matched student as present for the lecture.
// A manual Absent is never overridden by face recognition; an Absent marked
// by any other method upgrades to Present.
func (s *Service) MarkPresentByFace(ctx context.Context, rollNo string, lectureNumber int, date, subject string) (FaceMark, error) {
	student, err := s.repo.FindStudent(ctx, rollNo)
	if err != nil {
		return FaceMark{}, err
	}
	if student == nil {
		return FaceMark{Action: ActionRejected, Message: "No matching student found"}, nil
	}

	existing, err := s.repo.Find(ctx, rollNo, lectureNumber, date)
	if err != nil {
		return FaceMark{}, err
	}

	if existing != nil {
		switch {
		case existing.Status == StatusPresent:
			return FaceMark{
				Action:  ActionAlreadyMarked,
				Message: fmt.Sprintf("%s is already marked present for Lecture %d via %s", student.Name, lectureNumber, existing.Method),
				Record:  existing,
			}, nil
		case existing.Status == StatusAbsent && existing.Method == MethodManual:
			return FaceMark{
				Action:  ActionRejected,
				Message: fmt.Sprintf("%s is manually marked absent for Lecture %d. Cannot override with face recognition.", student.Name, lectureNumber),
			}, nil
		default:
			if err := s.repo.UpdateStatus(ctx, existing.ID, StatusPresent, MethodFace); err != nil {
				return FaceMark{}, err
			}
			return FaceMark{
				Action:  ActionUpdated,
				Fresh:   true,
				Message: fmt.Sprintf("Attendance updated to Present for %s (Roll: %s) - Lecture %d", student.Name, rollNo, lectureNumber),
				Record:  existing,
			}, nil
		}
	}

	rec, err := s.repo.Insert(ctx, Record{
		RollNo:        rollNo,
		Name:          student.Name,
		LectureNumber: lectureNumber,
		Date:          date,
		Subject:       subject,
		Status:        StatusPresent,
		Method:        MethodFace,
	})
	if err != nil {
		return FaceMark{}, err
	}
	return FaceMark{
		Action:  ActionCreated,
		Fresh:   true,
		Message: fmt.Sprintf("Attendance marked for %s (Roll: %s) - Lecture %d", student.Name, rollNo, lectureNumber),
		Record:  &rec,
	}, nil
}

func isManual(status Status) bool {
	for _, s := range ManualStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func rejected(rollNo, msg string) ItemResult {
	return ItemResult{StudentID: rollNo, Success: false, Action: ActionRejected, Message: msg}
}
