package reconcile

import (
	"strings"
	"testing"

	"classtrack/internal/attendance"
)

func TestParseRosterCSV(t *testing.T) {
	in := strings.NewReader("rollNo,status\nR1,Present\nR2,Absent\nR3,Late\n")
	roster, bad, err := ParseRosterCSV(in)
	if err != nil {
		t.Fatalf("ParseRosterCSV() error: %v", err)
	}
	if len(bad) != 0 {
		t.Fatalf("rejected rows = %v, want none", bad)
	}
	want := map[string]attendance.Status{
		"R1": attendance.StatusPresent,
		"R2": attendance.StatusAbsent,
		"R3": attendance.StatusLate,
	}
	if len(roster) != len(want) {
		t.Fatalf("roster = %v, want %v", roster, want)
	}
	for id, status := range want {
		if roster[id] != status {
			t.Errorf("roster[%s] = %s, want %s", id, roster[id], status)
		}
	}
}

func TestParseRosterCSVRejectsBadRowsWithoutAborting(t *testing.T) {
	in := strings.NewReader("R1,Present\nR2,Sleeping\n,Absent\nR4\nR5,Late\n")
	roster, bad, err := ParseRosterCSV(in)
	if err != nil {
		t.Fatalf("ParseRosterCSV() error: %v", err)
	}
	if len(roster) != 2 || roster["R1"] != attendance.StatusPresent || roster["R5"] != attendance.StatusLate {
		t.Errorf("roster = %v, want the two valid rows", roster)
	}
	if len(bad) != 3 {
		t.Fatalf("rejected rows = %d, want 3", len(bad))
	}
	for _, item := range bad {
		if item.Action != attendance.ActionRejected || item.Counted() {
			t.Errorf("bad row %+v should be an uncounted rejection", item)
		}
	}
}

func TestParseRosterCSVKeepsLastStatusForRepeatedRollNo(t *testing.T) {
	in := strings.NewReader("R1,Absent\nR1,Present\n")
	roster, _, err := ParseRosterCSV(in)
	if err != nil {
		t.Fatal(err)
	}
	if roster["R1"] != attendance.StatusPresent {
		t.Errorf("roster[R1] = %s, want the last status to win", roster["R1"])
	}
}
