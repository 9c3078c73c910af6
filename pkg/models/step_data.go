package models

import (
	"encoding/json"
	"fmt"
)

// Machine names of the known onboarding steps.
const (
	StepBusinessVerification  = "business_verification"
	StepSubscriptionPlan      = "subscription_plan"
	StepBrandingConfiguration = "branding_configuration"
	StepFeatureSelection      = "feature_selection"
	StepDataImport            = "data_import"
	StepTeamSetup             = "team_setup"
	StepSecurityConfiguration = "security_configuration"
)

// StepData holds the partial form state of a step. It stays a loose map at
// the wire boundary; use the typed accessors below inside business logic.
type StepData map[string]any

// Merge returns a copy of d with the keys of other written over it.
func (d StepData) Merge(other map[string]any) StepData {
	out := make(StepData, len(d)+len(other))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Decode converts the map into v through its JSON form.
func (d StepData) Decode(v any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode step data: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode step data: %w", err)
	}
	return nil
}

// EncodeStepData converts a typed step payload back into a StepData map.
func EncodeStepData(v any) (StepData, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode step data: %w", err)
	}
	var out StepData
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode step data: %w", err)
	}
	return out, nil
}

type BusinessVerificationData struct {
	CompanyName        string `json:"company_name"`
	RegistrationNumber string `json:"registration_number,omitempty"`
	GSTNumber          string `json:"gst_number,omitempty"`
	ContactEmail       string `json:"contact_email,omitempty"`
	Verified           bool   `json:"verified"`
}

type SubscriptionPlanData struct {
	Plan         SubscriptionPlan `json:"plan"`
	BillingCycle string           `json:"billing_cycle,omitempty"`
}

type BrandingData struct {
	LogoURL        string `json:"logo_url,omitempty"`
	PrimaryColor   string `json:"primary_color,omitempty"`
	SecondaryColor string `json:"secondary_color,omitempty"`
	AppName        string `json:"app_name,omitempty"`
}

type FeatureSelectionData struct {
	Features []string `json:"features"`
}

type DataImportData struct {
	Source        string `json:"source,omitempty"`
	RecordsLoaded int    `json:"records_loaded"`
	Skipped       bool   `json:"skipped,omitempty"`
}

type TeamSetupData struct {
	Invites []TeamInvite `json:"invites"`
}

type TeamInvite struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type SecurityConfigurationData struct {
	MFARequired     bool     `json:"mfa_required"`
	SSOProvider     string   `json:"sso_provider,omitempty"`
	IPAllowList     []string `json:"ip_allow_list,omitempty"`
	SessionTimeoutM int      `json:"session_timeout_minutes,omitempty"`
}

func (s *OnboardingStep) expect(name string) error {
	if s.StepName != name {
		return fmt.Errorf("step %q is not %q", s.StepName, name)
	}
	return nil
}

func (s *OnboardingStep) BusinessVerification() (BusinessVerificationData, error) {
	var v BusinessVerificationData
	if err := s.expect(StepBusinessVerification); err != nil {
		return v, err
	}
	return v, s.StepData.Decode(&v)
}

func (s *OnboardingStep) SubscriptionPlan() (SubscriptionPlanData, error) {
	var v SubscriptionPlanData
	if err := s.expect(StepSubscriptionPlan); err != nil {
		return v, err
	}
	return v, s.StepData.Decode(&v)
}

func (s *OnboardingStep) Branding() (BrandingData, error) {
	var v BrandingData
	if err := s.expect(StepBrandingConfiguration); err != nil {
		return v, err
	}
	return v, s.StepData.Decode(&v)
}

func (s *OnboardingStep) FeatureSelection() (FeatureSelectionData, error) {
	var v FeatureSelectionData
	if err := s.expect(StepFeatureSelection); err != nil {
		return v, err
	}
	return v, s.StepData.Decode(&v)
}

func (s *OnboardingStep) DataImport() (DataImportData, error) {
	var v DataImportData
	if err := s.expect(StepDataImport); err != nil {
		return v, err
	}
	return v, s.StepData.Decode(&v)
}

func (s *OnboardingStep) TeamSetup() (TeamSetupData, error) {
	var v TeamSetupData
	if err := s.expect(StepTeamSetup); err != nil {
		return v, err
	}
	return v, s.StepData.Decode(&v)
}

func (s *OnboardingStep) SecurityConfiguration() (SecurityConfigurationData, error) {
	var v SecurityConfigurationData
	if err := s.expect(StepSecurityConfiguration); err != nil {
		return v, err
	}
	return v, s.StepData.Decode(&v)
}
