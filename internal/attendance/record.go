package attendance

import "time"

// Status is the recorded state of a student for one lecture.
type Status string

const (
	StatusPresent      Status = "Present"
	StatusAbsent       Status = "Absent"
	StatusLate         Status = "Late"
	StatusDutyLeave    Status = "DL"
	StatusMedicalLeave Status = "ML"
)

// ManualStatuses is the closed set an operator may assign, in declared order.
// Reconciliation batches are issued in this order.
var ManualStatuses = []Status{StatusPresent, StatusAbsent, StatusLate}

// Method records how a row came to exist.
type Method string

const (
	MethodFace   Method = "face_recognition"
	MethodManual Method = "manual"
	MethodBulk   Method = "bulk_upload"
)

// Record is one attendance row. At most one row exists per
// (roll number, lecture number, date); the database enforces it.
type Record struct {
	ID            string    `json:"id"`
	RollNo        string    `json:"rollNo"`
	Name          string    `json:"name"`
	LectureNumber int       `json:"lectureNumber"`
	Date          string    `json:"date"`
	Subject       string    `json:"subject"`
	Status        Status    `json:"status"`
	Method        Method    `json:"method"`
	Approved      bool      `json:"approved"`
	RecordedAt    time.Time `json:"recordedAt"`
}

// ItemAction tags the outcome of one student within a batch write.
type ItemAction string

const (
	ActionCreated       ItemAction = "created"
	ActionUpdated       ItemAction = "updated"
	ActionAlreadyMarked ItemAction = "already_marked"
	ActionRejected      ItemAction = "rejected"
)

// ItemResult is the per-student outcome of a batch write.
type ItemResult struct {
	StudentID string     `json:"studentId"`
	Success   bool       `json:"success"`
	Action    ItemAction `json:"action"`
	Message   string     `json:"message,omitempty"`
}

// Counted reports whether the item left the student in the requested state,
// whether by a new write or because the row was already there.
func (r ItemResult) Counted() bool {
	return r.Success || r.Action == ActionAlreadyMarked
}

// Student is the minimal roster entry batch writes validate against.
type Student struct {
	RollNo string `json:"rollNo"`
	Name   string `json:"name"`
}
