package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepData_Merge(t *testing.T) {
	base := StepData{"company_name": "Acme Agro", "verified": false}
	merged := base.Merge(map[string]any{"verified": true, "gst_number": "29ABCDE1234F1Z5"})

	assert.Equal(t, true, merged["verified"])
	assert.Equal(t, "Acme Agro", merged["company_name"])
	assert.Equal(t, false, base["verified"], "merge must not mutate the receiver")
}

func TestOnboardingStep_TypedAccessors(t *testing.T) {
	step := &OnboardingStep{
		StepName: StepTeamSetup,
		StepData: StepData{
			"invites": []any{
				map[string]any{"email": "ops@acme.in", "role": "admin"},
			},
		},
	}

	data, err := step.TeamSetup()
	require.NoError(t, err)
	require.Len(t, data.Invites, 1)
	assert.Equal(t, "ops@acme.in", data.Invites[0].Email)

	_, err = step.Branding()
	assert.Error(t, err, "accessor for another step must refuse")
}

func TestEncodeStepData(t *testing.T) {
	data, err := EncodeStepData(BrandingData{PrimaryColor: "#2e7d32", AppName: "Kisan"})
	require.NoError(t, err)
	assert.Equal(t, "#2e7d32", data["primary_color"])

	step := &OnboardingStep{StepName: StepBrandingConfiguration, StepData: data}
	branding, err := step.Branding()
	require.NoError(t, err)
	assert.Equal(t, "Kisan", branding.AppName)
}

func TestStepStatus_Valid(t *testing.T) {
	assert.True(t, StepSkipped.Valid())
	assert.False(t, StepStatus("done").Valid())
}
