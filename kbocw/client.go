package kbocw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"karmika-sahayak/backend/pkg/logger"
	"karmika-sahayak/backend/pkg/resilience"
)

// boardUserAgent mirrors the browser header set the board backend expects.
const boardUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36"

// UpstreamError reports a failed board call and which endpoint failed.
type UpstreamError struct {
	Endpoint string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("board api %s: %v", e.Endpoint, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Options configures the board API client.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// Client calls the board backend. Every outbound request passes through a
// shared rate limiter and a circuit breaker.
type Client struct {
	base    string
	origin  string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	log     *logger.Logger
	now     func() time.Time
}

// NewClient builds a board client from options.
func NewClient(opts Options, log *logger.Logger) (*Client, error) {
	parsed, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse board api url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("board api url %q has no scheme or host", opts.BaseURL)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	rps := opts.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 10
	}

	return &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		origin:  parsed.Scheme + "://" + parsed.Host,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("kbocw"), log),
		log:     log,
		now:     time.Now,
	}, nil
}

// BreakerState exposes the circuit breaker state for health reporting.
func (c *Client) BreakerState() resilience.CircuitBreakerState {
	return c.breaker.GetState()
}

// FetchUserRecord aggregates the user's schemes, renewal data, and
// registration profile. Schemes and renewal fetch concurrently; registration
// runs afterwards because scheme approvals feed its eligibility rules.
// Any top-level endpoint failure fails the whole fetch so a partial record
// is never cached.
func (c *Client) FetchUserRecord(ctx context.Context, userID, token string) (*UserRecord, error) {
	record := &UserRecord{UserID: userID, FetchedAt: c.now()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		schemes, err := c.fetchSchemes(gctx, userID, token)
		if err != nil {
			return err
		}
		record.Schemes = schemes
		return nil
	})
	g.Go(func() error {
		renewal, err := c.fetchRenewalDate(gctx, userID, token)
		if err != nil {
			return err
		}
		record.RenewalDate = renewal
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reg, summary, dependents, err := c.fetchRegistration(ctx, userID, token, record.Schemes)
	if err != nil {
		return nil, err
	}
	record.Registration = reg
	record.RegistrationSummary = summary
	record.Dependents = dependents

	c.log.Info("Fetched board record",
		"userId", userID,
		"schemes", len(record.Schemes),
		"registration", record.RegistrationSummary,
	)
	return record, nil
}

// ----------------------------------------------------------------------------
// Schemes
// ----------------------------------------------------------------------------

type schemesEnvelope struct {
	Data []schemeEntry `json:"data"`
}

type schemeEntry struct {
	SchemeID        json.Number `json:"scheme_id"`
	SchemeName      string      `json:"scheme_name"`
	ApplicationCode string      `json:"scheme_application_code"`
	AppliedDate     string      `json:"applied_date"`
}

type schemeStatusEnvelope struct {
	Success bool                `json:"success"`
	Data    []schemeStatusEntry `json:"data"`
}

type schemeStatusEntry struct {
	ID                json.Number `json:"id"`
	ApplicationStatus string      `json:"application_status"`
	Status            string      `json:"status"`
}

type rejectionEnvelope struct {
	Success bool `json:"success"`
	Data    []struct {
		RejectionReason string `json:"rejection_reason"`
	} `json:"data"`
}

func (c *Client) fetchSchemes(ctx context.Context, userID, token string) ([]SchemeStatus, error) {
	payload := map[string]any{
		"board_id":       1,
		"labour_user_id": numericIfPossible(userID),
	}

	var env schemesEnvelope
	if err := c.postJSON(ctx, "/schemes/get_schemes_by_labor", token, payload, &env); err != nil {
		return nil, &UpstreamError{Endpoint: "schemes", Err: err}
	}
	if len(env.Data) == 0 {
		return nil, nil
	}

	unique := dedupeSchemes(env.Data)

	out := make([]SchemeStatus, 0, len(unique))
	for _, entry := range unique {
		name := entry.SchemeName
		if name == "" {
			name = "Unknown Scheme"
		}
		status := SchemeStatus{
			Name:        name,
			AppliedDate: datePart(entry.AppliedDate),
		}

		appStatus, details, availID, err := c.fetchSchemeStatus(ctx, token, entry)
		if err != nil {
			// A scheme whose live status cannot be read still appears
			// in the record; the aggregation continues.
			c.log.Warn("Scheme status lookup failed", "scheme", name, "error", err.Error())
			status.StatusDetails = "Could not fetch real-time status."
			out = append(out, status)
			continue
		}
		status.ApplicationStatus = appStatus
		status.StatusDetails = details

		if strings.EqualFold(appStatus, "Rejected") && availID != "" {
			status.RejectionReasons = c.schemeRejectionReasons(ctx, token, availID)
		}
		out = append(out, status)
	}
	return out, nil
}

// dedupeSchemes keeps one entry per scheme id, preferring the latest applied
// date, and preserves first-seen order.
func dedupeSchemes(entries []schemeEntry) []schemeEntry {
	type seen struct {
		index int
		when  time.Time
	}
	byID := make(map[string]seen)
	var order []schemeEntry

	for _, entry := range entries {
		id := entry.SchemeID.String()
		if id == "" {
			continue
		}
		when := parseBoardTime(entry.AppliedDate)

		prev, ok := byID[id]
		if !ok {
			byID[id] = seen{index: len(order), when: when}
			order = append(order, entry)
			continue
		}
		if when.After(prev.when) {
			order[prev.index] = entry
			byID[id] = seen{index: prev.index, when: when}
		}
	}
	return order
}

func (c *Client) fetchSchemeStatus(ctx context.Context, token string, entry schemeEntry) (appStatus, details, availID string, err error) {
	payload := map[string]any{
		"schemeId":              entry.SchemeID,
		"schemeApplicationCode": entry.ApplicationCode,
		"mobileNumber":          "",
	}

	var env schemeStatusEnvelope
	if err := c.postJSON(ctx, "/public/schemes/status", token, payload, &env); err != nil {
		return "", "", "", err
	}
	if !env.Success || len(env.Data) == 0 {
		return "", "Status check failed", "", nil
	}

	item := env.Data[0]
	details = fmt.Sprintf("Application Status: %s. (%s)", item.ApplicationStatus, item.Status)
	return item.ApplicationStatus, details, item.ID.String(), nil
}

func (c *Client) schemeRejectionReasons(ctx context.Context, token, availID string) []string {
	path := fmt.Sprintf("/public/schemes/rejection-reason?availId=%s&reasonType=FINAL",
		url.QueryEscape(availID))

	var env rejectionEnvelope
	if err := c.getJSON(ctx, path, token, &env); err != nil {
		c.log.Warn("Rejection reason lookup failed", "availId", availID, "error", err.Error())
		return nil
	}
	if !env.Success {
		return nil
	}

	var reasons []string
	for _, r := range env.Data {
		if r.RejectionReason != "" {
			reasons = append(reasons, r.RejectionReason)
		}
	}
	return reasons
}

// ----------------------------------------------------------------------------
// Renewal date
// ----------------------------------------------------------------------------

func (c *Client) fetchRenewalDate(ctx context.Context, userID, token string) (json.RawMessage, error) {
	var raw json.RawMessage
	payload := map[string]any{"user_id": userID}
	if err := c.postJSON(ctx, "/user/get-renewal-date", token, payload, &raw); err != nil {
		return nil, &UpstreamError{Endpoint: "renewal-date", Err: err}
	}
	return raw, nil
}

// ----------------------------------------------------------------------------
// Registration profile
// ----------------------------------------------------------------------------

type registrationEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		PersonalDetails []personalDetails `json:"personal_details"`
		AddressDetails  []addressDetails  `json:"address_details"`
		FamilyDetails   []familyDetails   `json:"family_details"`
	} `json:"data"`
}

type personalDetails struct {
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	RegistrationCode string `json:"registration_code"`
	MobileNo         string `json:"mobile_no"`
	MaritalStatus    string `json:"marital_status"`
	DateOfBirth      string `json:"date_of_birth"`
	Gender           string `json:"gender"`
	NatureOfWork     string `json:"nature_of_work"`
	ValidityFromDate string `json:"validity_from_date"`
	ValidityToDate   string `json:"validity_to_date"`
}

type addressDetails struct {
	District string `json:"district"`
}

type familyDetails struct {
	Relation  string `json:"parent_child_relation"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IsNominee any    `json:"is_nominee"`
}

type labourStatusEnvelope struct {
	Success bool              `json:"success"`
	Data    *labourStatusData `json:"data"`
}

type labourStatusData struct {
	Status            string      `json:"status"`
	LabourUserID      json.Number `json:"labour_user_id"`
	WorkCertificateID json.Number `json:"labour_work_certificate_id"`
}

func (c *Client) fetchRegistration(ctx context.Context, userID, token string, schemes []SchemeStatus) (*Registration, string, []FamilyMember, error) {
	payload := map[string]any{
		"key":            "user_id",
		"value":          userID,
		"board_id":       1,
		"procedure_name": "all",
	}

	var env registrationEnvelope
	if err := c.postJSON(ctx, "/user/get-user-registration-details", token, payload, &env); err != nil {
		return nil, "", nil, &UpstreamError{Endpoint: "registration-details", Err: err}
	}

	summary := "Registration details not found."
	if !env.Success || len(env.Data.PersonalDetails) == 0 {
		return nil, summary, nil, nil
	}

	personal := env.Data.PersonalDetails[0]
	now := c.now()

	reg := &Registration{
		FirstName:        personal.FirstName,
		LastName:         personal.LastName,
		RegistrationCode: personal.RegistrationCode,
		MobileNo:         personal.MobileNo,
		MaritalStatus:    personal.MaritalStatus,
		Gender:           personal.Gender,
		NatureOfWork:     personal.NatureOfWork,
		ValidityFrom:     datePart(personal.ValidityFromDate),
		ValidityTo:       datePart(personal.ValidityToDate),
		CardStatus:       CardUnknown,
	}
	if reg.NatureOfWork == "" {
		reg.NatureOfWork = "Labour Work"
	}
	if len(env.Data.AddressDetails) > 0 {
		reg.District = env.Data.AddressDetails[0].District
	}

	if dob := parseBoardTime(personal.DateOfBirth); !dob.IsZero() {
		reg.DateOfBirth = dob.Format("2006-01-02")
		reg.Age = int(now.Sub(dob).Hours() / 24 / 365)
	}

	facts := eligibilityFacts{now: now, age: reg.Age, gender: reg.Gender}
	if validTo := parseBoardTime(personal.ValidityToDate); !validTo.IsZero() {
		reg.CardStatus, facts.active, facts.buffer = cardStatus(now, validTo)
	}
	if validFrom := parseBoardTime(personal.ValidityFromDate); !validFrom.IsZero() {
		facts.validFromYear = validFrom.Year()
	}
	facts.pensionApproved, facts.disabilityApproved, facts.disabilityAppliedDate = schemeApprovals(schemes)
	reg.EligibleSchemes = eligibleSchemes(facts)

	var dependents []FamilyMember
	for _, member := range env.Data.FamilyDetails {
		dependents = append(dependents, FamilyMember{
			Relation:  member.Relation,
			FirstName: member.FirstName,
			LastName:  member.LastName,
			IsNominee: truthy(member.IsNominee),
		})
	}

	if reg.RegistrationCode != "" {
		s, err := c.labourStatusSummary(ctx, token, reg.RegistrationCode)
		switch {
		case err != nil:
			summary += " (verification failed)"
		case s != "":
			summary = s
		}
	}

	return reg, summary, dependents, nil
}

// labourStatusSummary checks the registration application status and, for
// approved registrations, the renewal status. Rejections carry their final
// rejection reasons.
func (c *Client) labourStatusSummary(ctx context.Context, token, regCode string) (string, error) {
	var env labourStatusEnvelope
	payload := map[string]any{"type": "register", "applicationNumber": regCode, "mobileNumber": ""}
	if err := c.postJSON(ctx, "/public/labour/status", token, payload, &env); err != nil {
		return "", err
	}
	if !env.Success || env.Data == nil {
		return "", nil
	}

	summary := fmt.Sprintf("Registration Status: %s.", env.Data.Status)

	switch env.Data.Status {
	case "Approved":
		var ren labourStatusEnvelope
		renPayload := map[string]any{"type": "renewal", "applicationNumber": regCode, "mobileNumber": ""}
		if err := c.postJSON(ctx, "/public/labour/status", token, renPayload, &ren); err != nil {
			return summary + " (verification failed)", nil
		}
		if ren.Success && ren.Data != nil {
			summary += fmt.Sprintf(" Renewal Status: %s.", ren.Data.Status)
			if ren.Data.Status == "Rejected" {
				reasons := c.renewalRejectionReasons(ctx, token, env.Data.LabourUserID, ren.Data.WorkCertificateID)
				if len(reasons) > 0 {
					summary += fmt.Sprintf(" (Reason: %s)", strings.Join(reasons, "; "))
				}
			}
		}
	case "Rejected":
		reasons := c.renewalRejectionReasons(ctx, token, env.Data.LabourUserID, env.Data.WorkCertificateID)
		if len(reasons) > 0 {
			summary += fmt.Sprintf(" (Reason: %s)", strings.Join(reasons, "; "))
		}
	}

	return summary, nil
}

func (c *Client) renewalRejectionReasons(ctx context.Context, token string, labourUserID, certificateID json.Number) []string {
	payload := map[string]any{
		"labourUserId":  labourUserID,
		"certificateId": certificateID,
		"reasonType":    "FINAL",
	}

	var env rejectionEnvelope
	if err := c.postJSON(ctx, "/public/v2/registration-renewal/rejection-reason", token, payload, &env); err != nil {
		c.log.Warn("Renewal rejection reason lookup failed", "error", err.Error())
		return nil
	}
	if !env.Success {
		return nil
	}

	var reasons []string
	for _, r := range env.Data {
		if r.RejectionReason != "" {
			reasons = append(reasons, r.RejectionReason)
		}
	}
	return reasons
}

// ----------------------------------------------------------------------------
// Transport helpers
// ----------------------------------------------------------------------------

func (c *Client) postJSON(ctx context.Context, path, token string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, token, body, out)
}

func (c *Client) getJSON(ctx context.Context, path, token string, out any) error {
	return c.do(ctx, http.MethodGet, path, token, nil, out)
}

func (c *Client) do(ctx context.Context, method, path, token string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	return c.breaker.Execute(func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		c.setHeaders(req, token)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("status %d: %s", resp.StatusCode, string(msg))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Origin", c.origin)
	req.Header.Set("Referer", c.origin+"/u/home")
	req.Header.Set("User-Agent", boardUserAgent)
}

// ----------------------------------------------------------------------------
// Small parsers
// ----------------------------------------------------------------------------

// numericIfPossible mirrors the board's expectation that an all-digit user id
// is sent as a JSON number.
func numericIfPossible(s string) any {
	if s == "" {
		return s
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return s
		}
	}
	return json.Number(s)
}

// parseBoardTime handles the board's ISO timestamps and bare dates. Returns
// the zero time when unparseable.
func parseBoardTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// datePart strips the time portion of an ISO timestamp.
func datePart(s string) string {
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		return s[:i]
	}
	return s
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != "" && t != "0" && !strings.EqualFold(t, "false")
	default:
		return false
	}
}
