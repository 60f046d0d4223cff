package aggregate

import (
	"testing"

	"classtrack/internal/attendance"
)

func rec(subject string, status attendance.Status, approved bool) attendance.Record {
	return attendance.Record{Subject: subject, Status: status, Approved: approved}
}

func repeat(n int, r attendance.Record) []attendance.Record {
	out := make([]attendance.Record, n)
	for i := range out {
		out[i] = r
	}
	return out
}

func TestSummarizeApprovedMLCountsAsPresent(t *testing.T) {
	// 20 delivered: 16 present, 2 approved ML, 2 absent => 18/20 = 90%.
	records := repeat(16, rec("Math", attendance.StatusPresent, false))
	records = append(records, repeat(2, rec("Math", attendance.StatusMedicalLeave, true))...)
	records = append(records, repeat(2, rec("Math", attendance.StatusAbsent, false))...)

	sum := Summarize(records)
	if len(sum.Subjects) != 1 {
		t.Fatalf("subjects = %d, want 1", len(sum.Subjects))
	}
	s := sum.Subjects[0]
	if s.Delivered != 20 {
		t.Errorf("delivered = %d, want 20", s.Delivered)
	}
	if s.Attended != 16 {
		t.Errorf("attended = %d, want 16", s.Attended)
	}
	if s.ML != 2 {
		t.Errorf("ml = %d, want 2", s.ML)
	}
	if s.OverallPercentage != 90 {
		t.Errorf("percentage = %v, want 90", s.OverallPercentage)
	}
}

func TestSummarizeUnapprovedMLNotCounted(t *testing.T) {
	records := append(repeat(8, rec("Math", attendance.StatusPresent, false)),
		repeat(2, rec("Math", attendance.StatusMedicalLeave, false))...)

	sum := Summarize(records)
	if got := sum.Subjects[0].OverallPercentage; got != 80 {
		t.Errorf("percentage = %v, want 80 (unapproved ML must not count)", got)
	}
	if got := sum.Subjects[0].ML; got != 2 {
		t.Errorf("ml counter = %d, want 2", got)
	}
}

func TestSummarizeZeroDelivered(t *testing.T) {
	sum := Summarize(nil)
	if sum.Overall.Percentage != 0 {
		t.Errorf("percentage = %v, want 0 for zero delivered", sum.Overall.Percentage)
	}
	if sum.Overall.TotalClasses != 0 {
		t.Errorf("total = %d, want 0", sum.Overall.TotalClasses)
	}
	if len(sum.Subjects) != 0 {
		t.Errorf("subjects = %d, want 0", len(sum.Subjects))
	}
}

func TestOverallIsUnionNotAverage(t *testing.T) {
	// Math: 1/1 present (100%). History: 1/9 present (11.11%).
	// Union: 2/10 = 20%, not the 55.56% an average of percentages would give.
	records := []attendance.Record{rec("Math", attendance.StatusPresent, false)}
	records = append(records, rec("History", attendance.StatusPresent, false))
	records = append(records, repeat(8, rec("History", attendance.StatusAbsent, false))...)

	sum := Summarize(records)
	if sum.Overall.Percentage != 20 {
		t.Errorf("overall = %v, want 20 (union of lectures, not average of subjects)", sum.Overall.Percentage)
	}
}

func TestSummarizeDutyLeaveCounters(t *testing.T) {
	records := []attendance.Record{
		rec("Math", attendance.StatusDutyLeave, true),
		rec("Math", attendance.StatusDutyLeave, false),
		rec("Math", attendance.StatusPresent, false),
	}
	s := Summarize(records).Subjects[0]
	if s.DL != 2 || s.ApprovedDL != 1 {
		t.Errorf("dl = %d approvedDl = %d, want 2 and 1", s.DL, s.ApprovedDL)
	}
	if s.ApprovedDL > s.DL {
		t.Errorf("approvedDl %d exceeds dl %d", s.ApprovedDL, s.DL)
	}
}

func TestPercentageCappedAt100(t *testing.T) {
	// Present plus approved ML can only reach delivered, but the cap guards
	// any future numerator change the same way the backend does.
	records := repeat(3, rec("Math", attendance.StatusPresent, false))
	if got := Summarize(records).Overall.Percentage; got != 100 {
		t.Errorf("percentage = %v, want 100", got)
	}
}
