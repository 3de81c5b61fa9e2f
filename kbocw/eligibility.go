package kbocw

import (
	"strings"
	"time"
)

// Card validity statuses. An expired card stays usable for one year (buffer
// period), then sits in a 90-day waiting period before re-registration is
// required.
const (
	CardActive   = "Active"
	CardBuffer   = "Active (Buffer Period)"
	CardInactive = "Inactive (Waiting Period)"
	CardExpired  = "Expired (Re-registration Required)"
	CardUnknown  = "Unknown"
)

// cardStatus classifies now against the card's validity-to date.
func cardStatus(now, validTo time.Time) (status string, active, buffer bool) {
	bufferEnd := validTo.AddDate(0, 0, 365)
	waitingEnd := bufferEnd.AddDate(0, 0, 90)

	switch {
	case !now.After(validTo):
		return CardActive, true, false
	case !now.After(bufferEnd):
		return CardBuffer, false, true
	case !now.After(waitingEnd):
		return CardInactive, false, false
	default:
		return CardExpired, false, false
	}
}

// eligibilityFacts collects everything the board's scheme rules consume.
// Zero values mean unknown: age 0, validFromYear 0, zero appliedDate.
type eligibilityFacts struct {
	now                   time.Time
	active                bool
	buffer                bool
	age                   int
	gender                string
	validFromYear         int
	pensionApproved       bool
	disabilityApproved    bool
	disabilityAppliedDate time.Time
}

// schemeApprovals scans the applied schemes for approved pension and
// disability applications, returning the disability applied date when known.
func schemeApprovals(schemes []SchemeStatus) (pension, disability bool, disabilityApplied time.Time) {
	for _, s := range schemes {
		if !strings.Contains(strings.ToLower(s.ApplicationStatus), "approved") {
			continue
		}
		name := strings.ToLower(s.Name)
		if strings.Contains(name, "pension") {
			pension = true
		}
		if strings.Contains(name, "disability") {
			disability = true
			if t, err := time.Parse("2006-01-02", s.AppliedDate); err == nil {
				disabilityApplied = t
			}
		}
	}
	return pension, disability, disabilityApplied
}

// eligibleSchemes applies the board's published eligibility rules.
func eligibleSchemes(f eligibilityFacts) []string {
	var out []string

	if f.active || f.buffer {
		out = append(out, "Accident Compensation", "Funeral Assistance")
	}
	if f.active {
		out = append(out, "Medical Assistance", "Major Ailments Assistance")
	}

	currentYear := f.now.Year()
	if f.validFromYear > 0 && currentYear > f.validFromYear {
		out = append(out, "Marriage Assistance")
		if strings.EqualFold(f.gender, "female") {
			out = append(out, "Maternity Assistance (Delivery)", "Thayi Magu Assistance")
		}
	}

	if f.age >= 60 {
		out = append(out, "Pension Scheme")
	}
	if f.age > 60 && f.pensionApproved {
		out = append(out, "Continuation of Pension")
	}

	out = append(out, "Disability Pension")

	if f.disabilityApproved && !f.disabilityAppliedDate.IsZero() {
		if f.now.After(f.disabilityAppliedDate.AddDate(0, 0, 365)) {
			out = append(out, "Continuation of Disability Pension")
		}
	}

	return out
}
