// Package kbocw talks to the Karnataka Building and Other Construction
// Workers Welfare Board backend and aggregates a labour user's scheme,
// renewal, and registration data into a single record.
package kbocw

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SchemeStatus is one applied scheme after deduplication, carrying its
// latest application outcome.
type SchemeStatus struct {
	Name              string   `json:"name"`
	AppliedDate       string   `json:"applied_date"`
	ApplicationStatus string   `json:"application_status"`
	StatusDetails     string   `json:"status_details"`
	RejectionReasons  []string `json:"rejection_reasons,omitempty"`
}

// FamilyMember is one dependent from the registration profile.
type FamilyMember struct {
	Relation  string `json:"relation"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IsNominee bool   `json:"is_nominee"`
}

// Registration is the extracted registration profile with the computed
// card-validity status and scheme eligibility hints.
type Registration struct {
	FirstName        string   `json:"first_name"`
	LastName         string   `json:"last_name"`
	RegistrationCode string   `json:"registration_code"`
	MobileNo         string   `json:"mobile_no"`
	MaritalStatus    string   `json:"marital_status"`
	DateOfBirth      string   `json:"date_of_birth"`
	Age              int      `json:"age"`
	Gender           string   `json:"gender"`
	NatureOfWork     string   `json:"nature_of_work"`
	District         string   `json:"district"`
	ValidityFrom     string   `json:"validity_from"`
	ValidityTo       string   `json:"validity_to"`
	CardStatus       string   `json:"card_status"`
	EligibleSchemes  []string `json:"eligible_schemes"`
}

// UserRecord is the aggregated board record for one labour user. It is the
// unit cached per thread and rendered into status prompts.
type UserRecord struct {
	UserID              string          `json:"user_id"`
	Schemes             []SchemeStatus  `json:"schemes"`
	RenewalDate         json.RawMessage `json:"renewal_date,omitempty"`
	Registration        *Registration   `json:"registration,omitempty"`
	RegistrationSummary string          `json:"registration_summary"`
	Dependents          []FamilyMember  `json:"dependents,omitempty"`
	FetchedAt           time.Time       `json:"fetched_at"`
}

// PromptText renders the record as plain key-value text for embedding into
// an LLM prompt. It never returns JSON; the model reads it as ground truth.
func (r *UserRecord) PromptText() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Labour user ID: %s\n", r.UserID)

	if reg := r.Registration; reg != nil {
		fmt.Fprintf(&b, "Name: %s %s\n", reg.FirstName, reg.LastName)
		if reg.RegistrationCode != "" {
			fmt.Fprintf(&b, "Registration code: %s\n", reg.RegistrationCode)
		}
		if reg.Age > 0 {
			fmt.Fprintf(&b, "Age: %d\n", reg.Age)
		}
		if reg.Gender != "" {
			fmt.Fprintf(&b, "Gender: %s\n", reg.Gender)
		}
		if reg.District != "" {
			fmt.Fprintf(&b, "District: %s\n", reg.District)
		}
		if reg.NatureOfWork != "" {
			fmt.Fprintf(&b, "Nature of work: %s\n", reg.NatureOfWork)
		}
		if reg.ValidityFrom != "" || reg.ValidityTo != "" {
			fmt.Fprintf(&b, "Card validity: %s to %s\n", reg.ValidityFrom, reg.ValidityTo)
		}
		if reg.CardStatus != "" {
			fmt.Fprintf(&b, "Card status: %s\n", reg.CardStatus)
		}
		if len(reg.EligibleSchemes) > 0 {
			fmt.Fprintf(&b, "Schemes the user may be eligible for: %s\n",
				strings.Join(reg.EligibleSchemes, ", "))
		}
	}

	if r.RegistrationSummary != "" {
		fmt.Fprintf(&b, "Registration: %s\n", r.RegistrationSummary)
	}

	if len(r.Schemes) == 0 {
		b.WriteString("Applied schemes: none on record.\n")
	} else {
		b.WriteString("Applied schemes:\n")
		for _, s := range r.Schemes {
			fmt.Fprintf(&b, "- %s (applied %s): %s\n", s.Name, s.AppliedDate, s.StatusDetails)
			if len(s.RejectionReasons) > 0 {
				fmt.Fprintf(&b, "  Rejection reasons: %s\n", strings.Join(s.RejectionReasons, "; "))
			}
		}
	}

	if len(r.Dependents) > 0 {
		b.WriteString("Family members on record:\n")
		for _, m := range r.Dependents {
			role := m.Relation
			if m.IsNominee {
				role += ", nominee"
			}
			fmt.Fprintf(&b, "- %s %s (%s)\n", m.FirstName, m.LastName, role)
		}
	}

	return b.String()
}
