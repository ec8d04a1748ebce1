package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/registry"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/sagactx"
)

func completeStep(name string, order int) registry.Step {
	return registry.Step{
		Name:  name,
		Order: order,
		Execute: func(_ context.Context, _ *sagactx.Context) registry.ExecuteResult {
			return registry.ExecuteResult{Success: true}
		},
		Compensate: func(_ context.Context, _ *sagactx.Context) registry.CompensateResult {
			return registry.CompensateResult{Success: true}
		},
		ResultValidity: func(_ map[string]string, _ *sagactx.Context, _ time.Time) registry.Validity {
			return registry.Valid
		},
	}
}

func TestNew_RejectsEmptyRegistry(t *testing.T) {
	_, err := registry.New(nil)
	assert.Error(t, err)
}

func TestNew_RejectsNonDenseOrder(t *testing.T) {
	_, err := registry.New([]registry.Step{completeStep("a", 1), completeStep("b", 3)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order must be dense")
}

func TestNew_RejectsDuplicateNames(t *testing.T) {
	_, err := registry.New([]registry.Step{completeStep("a", 1), completeStep("a", 2)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate name")
}

func TestNew_RejectsMissingCallbacks(t *testing.T) {
	incomplete := completeStep("a", 1)
	incomplete.Compensate = nil
	_, err := registry.New([]registry.Step{incomplete})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compensate is required")
}

func TestOrderedSteps_PreservesInputOrder(t *testing.T) {
	reg, err := registry.New([]registry.Step{completeStep("a", 1), completeStep("b", 2)})
	require.NoError(t, err)

	ordered := reg.OrderedSteps()
	require.Len(t, ordered, 2)
	assert.Equal(t, "a", ordered[0].Name)
	assert.Equal(t, "b", ordered[1].Name)
	assert.Equal(t, 2, reg.Len())
}

func TestStepAt_And_StepByName(t *testing.T) {
	reg, err := registry.New([]registry.Step{completeStep("a", 1), completeStep("b", 2)})
	require.NoError(t, err)

	step, ok := reg.StepAt(2)
	require.True(t, ok)
	assert.Equal(t, "b", step.Name)

	_, ok = reg.StepAt(99)
	assert.False(t, ok)

	step, ok = reg.StepByName("a")
	require.True(t, ok)
	assert.Equal(t, 1, step.Order)
}
