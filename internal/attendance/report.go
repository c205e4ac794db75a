package attendance

import (
	"fmt"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// Report statuses
const (
	ReportSuccess = "success"
	ReportInfo    = "info"
	ReportWarning = "warning"
)

const (
	msgNoMatch    = "No matching students found. The capture has been saved for review."
	msgNoStudents = "No matching students found in the capture"
)

// Report summarizes a reconciliation for the operator.
type Report struct {
	Status          string   `json:"status"`
	Message         string   `json:"message"`
	CourseID        int64    `json:"course_id"`
	CourseName      string   `json:"course_name"`
	Date            string   `json:"date"`
	Time            string   `json:"time"`
	CaptureRef      string   `json:"capture_ref,omitempty"`
	Present         []string `json:"present"`
	AlreadyMarked   []string `json:"already_marked"`
	NotEnrolled     []string `json:"not_enrolled"`
	AbsentCount     int      `json:"absent_count"`
	Confidence      string   `json:"confidence,omitempty"`
	MinConfidence   float64  `json:"min_confidence,omitempty"`
	MaxConfidence   float64  `json:"max_confidence,omitempty"`
	UnknownRecordID int64    `json:"unknown_record_id,omitempty"`
}

// BuildReport aggregates the outcomes of res. It does not touch storage.
func BuildReport(res *Result) *Report {
	rep := &Report{
		CourseID:      res.Course.ID,
		CourseName:    res.Course.Name,
		Date:          res.At.Format(constants.DisplayDateLayout),
		Time:          res.At.Format(constants.DisplayTimeLayout),
		CaptureRef:    res.CaptureRef,
		Present:       []string{},
		AlreadyMarked: []string{},
		NotEnrolled:   []string{},
	}

	for _, o := range res.Outcomes {
		switch o.Kind {
		case OutcomePresent:
			rep.Present = append(rep.Present, o.Name)
		case OutcomeAlreadyMarked:
			rep.AlreadyMarked = append(rep.AlreadyMarked, o.Name)
		case OutcomeNotEnrolled:
			rep.NotEnrolled = append(rep.NotEnrolled, o.Name)
		case OutcomeAbsent:
			rep.AbsentCount++
		}
	}

	if res.OrphanID != 0 {
		rep.Status = ReportWarning
		rep.UnknownRecordID = res.OrphanID
		if len(res.Candidates) == 0 {
			rep.Message = msgNoMatch
		} else {
			rep.Message = msgNoStudents
		}
		return rep
	}

	var lines []string
	if len(rep.Present) > 0 {
		lines = append(lines, "Attendance marked for: "+strings.Join(rep.Present, ", "))
	}
	if len(rep.AlreadyMarked) > 0 {
		lines = append(lines, "Already marked present today: "+strings.Join(rep.AlreadyMarked, ", "))
	}
	if len(rep.NotEnrolled) > 0 {
		lines = append(lines, "Not registered in this course: "+strings.Join(rep.NotEnrolled, ", "))
	}
	if rep.AbsentCount > 0 {
		lines = append(lines, fmt.Sprintf("Marked absent: %d", rep.AbsentCount))
	}
	rep.Message = strings.Join(lines, "\n")

	rep.Status = ReportSuccess
	if len(rep.AlreadyMarked) > 0 {
		rep.Status = ReportInfo
	}

	if len(res.Candidates) > 0 {
		lo, hi := res.Candidates[0].Confidence, res.Candidates[0].Confidence
		for _, c := range res.Candidates[1:] {
			lo = min(lo, c.Confidence)
			hi = max(hi, c.Confidence)
		}
		rep.MinConfidence, rep.MaxConfidence = lo, hi
		rep.Confidence = fmt.Sprintf("%.1f%% - %.1f%%", lo*100, hi*100)
	}
	return rep
}
