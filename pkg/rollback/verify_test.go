// pkg/rollback/verify_test.go
package rollback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releasegate/releasegate/pkg/types"
)

func TestVerifierHealthCheck(t *testing.T) {
	v, err := newVerifier([]types.VerificationCheck{
		{Name: "availability", Type: types.VerificationHealthCheck, MinAvailability: 99},
	})
	require.NoError(t, err)

	assert.NoError(t, v.run(&types.DeploymentMetrics{Availability: 99.5}))
	assert.Error(t, v.run(&types.DeploymentMetrics{Availability: 97}))
}

func TestVerifierMetricValidation(t *testing.T) {
	v, err := newVerifier([]types.VerificationCheck{
		{
			Name: "stable", Type: types.VerificationMetricValidation,
			Criteria: &types.SuccessCriteria{
				MaxErrorRate:        2,
				MaxResponseTime:     300,
				MinConversionRate:   1,
				MinUserSatisfaction: 3,
			},
		},
	})
	require.NoError(t, err)

	healthy := &types.DeploymentMetrics{
		ErrorRate:    0.5,
		ResponseTime: 100,
		Business:     types.BusinessMetrics{ConversionRate: 2, UserSatisfaction: 4},
	}
	assert.NoError(t, v.run(healthy))

	unhealthy := *healthy
	unhealthy.ResponseTime = 900
	err = v.run(&unhealthy)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "response_time")
}

func TestVerifierCustomExpression(t *testing.T) {
	v, err := newVerifier([]types.VerificationCheck{
		{Name: "recovered", Type: types.VerificationCustom, Expression: "${error_rate} < 1.0"},
	})
	require.NoError(t, err)

	assert.NoError(t, v.run(&types.DeploymentMetrics{ErrorRate: 0.2}))
	assert.Error(t, v.run(&types.DeploymentMetrics{ErrorRate: 4}))
}

func TestNewVerifierRejectsIncompleteChecks(t *testing.T) {
	_, err := newVerifier([]types.VerificationCheck{
		{Name: "x", Type: types.VerificationHealthCheck},
	})
	assert.Error(t, err)

	_, err = newVerifier([]types.VerificationCheck{
		{Name: "x", Type: types.VerificationCustom, Expression: "("},
	})
	assert.Error(t, err)

	_, err = newVerifier([]types.VerificationCheck{
		{Name: "x", Type: "sacrifice"},
	})
	assert.Error(t, err)
}
