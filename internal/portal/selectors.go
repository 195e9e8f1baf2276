package portal

import (
	"encoding/json"
	"fmt"
	"os"
)

// Field names a logical element on the portal, decoupled from markup.
type Field string

const (
	FieldLoginUsername   Field = "login_username"
	FieldLoginPassword   Field = "login_password"
	FieldLoginSubmit     Field = "login_submit"
	FieldLoginError      Field = "login_error"
	FieldDashboard       Field = "dashboard"
	FieldOrderFormMarker Field = "order_form"
	FieldPatientFirst    Field = "patient_first_name"
	FieldPatientLast     Field = "patient_last_name"
	FieldPatientDOB      Field = "patient_dob"
	FieldPatientMemberID Field = "patient_member_id"
	FieldPatientStreet   Field = "patient_street"
	FieldPatientCity     Field = "patient_city"
	FieldPatientState    Field = "patient_state"
	FieldPatientZip      Field = "patient_zip"
	FieldPatientPhone    Field = "patient_phone"
	FieldProviderNPI     Field = "provider_npi"
	FieldTestSearch      Field = "test_search"
	FieldTestAdd         Field = "test_add"
	FieldDiagnosisCodes  Field = "diagnosis_codes"
	FieldInstructions    Field = "instructions"
	FieldReviewButton    Field = "review_button"
	FieldSubmitButton    Field = "submit_button"
	FieldConfirmationID  Field = "confirmation_id"
)

// SelectorSet maps each logical field to an ordered list of candidate
// selectors. Candidates are evaluated in order with independent timeouts;
// portal markup drift is handled by editing this configuration, not code.
type SelectorSet map[Field][]string

// Candidates returns the configured candidates for a field.
func (s SelectorSet) Candidates(field Field) []string {
	return s[field]
}

// DefaultSelectorSet covers the markup variants observed across portal
// releases.
func DefaultSelectorSet() SelectorSet {
	return SelectorSet{
		FieldLoginUsername:   {"#username", "input[name='username']", "input[name='j_username']"},
		FieldLoginPassword:   {"#password", "input[name='password']", "input[name='j_password']"},
		FieldLoginSubmit:     {"button[type='submit']", "#login-button", "input[type='submit']"},
		FieldLoginError:      {".login-error", "#loginErrorMsg", ".alert-danger"},
		FieldDashboard:       {"#dashboard", ".home-panel", "nav.main-menu"},
		FieldOrderFormMarker: {"#order-entry-form", "form[name='orderEntry']", ".new-order-panel"},
		FieldPatientFirst:    {"#patientFirstName", "input[name='firstName']"},
		FieldPatientLast:     {"#patientLastName", "input[name='lastName']"},
		FieldPatientDOB:      {"#patientDob", "input[name='dateOfBirth']"},
		FieldPatientMemberID: {"#memberId", "input[name='insuranceMemberId']"},
		FieldPatientStreet:   {"#addressLine1", "input[name='street']"},
		FieldPatientCity:     {"#addressCity", "input[name='city']"},
		FieldPatientState:    {"#addressState", "select[name='state']"},
		FieldPatientZip:      {"#addressZip", "input[name='postalCode']"},
		FieldPatientPhone:    {"#patientPhone", "input[name='phone']"},
		FieldProviderNPI:     {"#orderingProviderNpi", "input[name='providerNpi']"},
		FieldTestSearch:      {"#testSearch", "input[name='testCode']"},
		FieldTestAdd:         {"#addTestButton", "button.add-test"},
		FieldDiagnosisCodes:  {"#diagnosisCodes", "input[name='icd10']"},
		FieldInstructions:    {"#specialInstructions", "textarea[name='instructions']"},
		FieldReviewButton:    {"#reviewOrderButton", "button.review-order"},
		FieldSubmitButton:    {"#submitOrderButton", "button.submit-order"},
		FieldConfirmationID:  {"#confirmationNumber", ".order-confirmation-id"},
	}
}

// LoadSelectorSet reads selector overrides from a JSON file and merges them
// over the defaults. A missing path returns the defaults unchanged.
func LoadSelectorSet(path string) (SelectorSet, error) {
	set := DefaultSelectorSet()
	if path == "" {
		return set, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read selector config: %w", err)
	}

	var overrides map[Field][]string
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse selector config: %w", err)
	}
	for field, candidates := range overrides {
		set[field] = candidates
	}
	return set, nil
}
