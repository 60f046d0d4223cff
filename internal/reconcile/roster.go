package reconcile

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"classtrack/internal/attendance"
)

// ParseRosterCSV reads an uploaded roster of "rollNo,status" rows. A header
// row is tolerated. A malformed row becomes a rejected item instead of
// aborting the upload; repeated roll numbers keep the last status seen.
func ParseRosterCSV(r io.Reader) (map[string]attendance.Status, []attendance.ItemResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	roster := make(map[string]attendance.Status)
	var badRows []attendance.ItemResult
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("roster csv unreadable: %w", err)
		}
		row++

		if len(record) < 2 {
			badRows = append(badRows, rejectedRow(strings.TrimSpace(record[0]), "row needs a roll number and a status"))
			continue
		}
		rollNo := strings.TrimSpace(record[0])
		status := attendance.Status(strings.TrimSpace(record[1]))

		if row == 1 && !assignable(status) && strings.EqualFold(string(status), "status") {
			continue
		}
		if rollNo == "" {
			badRows = append(badRows, rejectedRow("", "roll number missing"))
			continue
		}
		if !assignable(status) {
			badRows = append(badRows, rejectedRow(rollNo, fmt.Sprintf("status %q not assignable", status)))
			continue
		}
		roster[rollNo] = status
	}
	return roster, badRows, nil
}

func rejectedRow(rollNo, msg string) attendance.ItemResult {
	return attendance.ItemResult{StudentID: rollNo, Action: attendance.ActionRejected, Message: msg}
}

func assignable(s attendance.Status) bool {
	for _, m := range attendance.ManualStatuses {
		if m == s {
			return true
		}
	}
	return false
}
