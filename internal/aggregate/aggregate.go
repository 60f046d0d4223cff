// Package aggregate turns raw per-lecture attendance rows into the
// subject-wise and overall percentages shown to students and mentors.
package aggregate

import (
	"math"
	"sort"

	"classtrack/internal/attendance"
)

// SubjectSummary is the per-subject view derived from a student's rows.
// It is computed on demand and never stored.
type SubjectSummary struct {
	SubjectName       string  `json:"subject_name"`
	Delivered         int     `json:"delivered"`
	Attended          int     `json:"attended"`
	DL                int     `json:"dl"`
	ApprovedDL        int     `json:"approved_dl"`
	ML                int     `json:"ml"`
	OverallPercentage float64 `json:"overall_percentage"`
}

// Overall is the cross-subject view, computed over the union of all
// lecture rows rather than by averaging subject percentages.
type Overall struct {
	TotalClasses int     `json:"total_classes"`
	Present      int     `json:"present"`
	Absent       int     `json:"absent"`
	DL           int     `json:"dl"`
	ML           int     `json:"ml"`
	Percentage   float64 `json:"percentage"`
}

// Summary is the full attendance read for one student.
type Summary struct {
	Overall  Overall          `json:"overall"`
	Subjects []SubjectSummary `json:"subjects"`
}

// Summarize folds a student's rows into per-subject and overall summaries.
// Approved medical leave counts as presence in every percentage; unapproved
// leave rows are tracked in the counters but do not lift the percentage.
func Summarize(records []attendance.Record) Summary {
	bySubject := make(map[string][]attendance.Record)
	for _, rec := range records {
		subject := rec.Subject
		if subject == "" {
			subject = "Unknown"
		}
		bySubject[subject] = append(bySubject[subject], rec)
	}

	names := make([]string, 0, len(bySubject))
	for name := range bySubject {
		names = append(names, name)
	}
	sort.Strings(names)

	subjects := make([]SubjectSummary, 0, len(names))
	for _, name := range names {
		c := count(bySubject[name])
		subjects = append(subjects, SubjectSummary{
			SubjectName:       name,
			Delivered:         c.delivered,
			Attended:          c.present,
			DL:                c.dl,
			ApprovedDL:        c.approvedDL,
			ML:                c.ml,
			OverallPercentage: percentage(c),
		})
	}

	total := count(records)
	return Summary{
		Overall: Overall{
			TotalClasses: total.delivered,
			Present:      total.present,
			Absent:       total.absent,
			DL:           total.dl,
			ML:           total.ml,
			Percentage:   percentage(total),
		},
		Subjects: subjects,
	}
}

type counts struct {
	delivered  int
	present    int
	absent     int
	dl         int
	approvedDL int
	ml         int
	approvedML int
}

func count(records []attendance.Record) counts {
	var c counts
	c.delivered = len(records)
	for _, rec := range records {
		switch rec.Status {
		case attendance.StatusPresent:
			c.present++
		case attendance.StatusAbsent, attendance.StatusLate:
			c.absent++
		case attendance.StatusDutyLeave:
			c.dl++
			if rec.Approved {
				c.approvedDL++
			}
		case attendance.StatusMedicalLeave:
			c.ml++
			if rec.Approved {
				c.approvedML++
			}
		}
	}
	return c
}

// percentage applies the domain rule that approved ML counts as presence.
// Defined as 0 when nothing was delivered so downstream arithmetic is total.
func percentage(c counts) float64 {
	if c.delivered == 0 {
		return 0
	}
	effective := c.present + c.approvedML
	pct := float64(effective) / float64(c.delivered) * 100
	pct = math.Round(pct*100) / 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
