package orderrors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/orderrors"
)

func TestCategorize_DispatchesByErrorType(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want orderrors.Category
	}{
		{"categorized error wins outright", orderrors.NewCategorized(errors.New("x"), orderrors.CategoryOperatorEscalation, "ctx"), orderrors.CategoryOperatorEscalation},
		{"validation error is permanent", &orderrors.ValidationError{Field: "f", Message: "m"}, orderrors.CategoryPermanent},
		{"timeout error is transient", &orderrors.TimeoutError{Collaborator: "inventory", Timeout: "2s"}, orderrors.CategoryTransient},
		{"collaborator 429 is transient", &orderrors.CollaboratorError{StatusCode: 429}, orderrors.CategoryTransient},
		{"collaborator 403 needs an operator", &orderrors.CollaboratorError{StatusCode: 403}, orderrors.CategoryOperatorEscalation},
		{"collaborator 402 is permanent", &orderrors.CollaboratorError{StatusCode: 402}, orderrors.CategoryPermanent},
		{"collaborator 500 is transient", &orderrors.CollaboratorError{StatusCode: 500}, orderrors.CategoryTransient},
		{"unrecognised error defaults to permanent", errors.New("mystery"), orderrors.CategoryPermanent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, orderrors.Categorize(tc.err))
		})
	}
}

func TestIsRetryable_OnlyTransient(t *testing.T) {
	assert.True(t, orderrors.IsRetryable(&orderrors.TimeoutError{Collaborator: "payment", Timeout: "1s"}))
	assert.False(t, orderrors.IsRetryable(&orderrors.ValidationError{Field: "f", Message: "m"}))
}

func TestNeedsOperator_OnlyOperatorEscalation(t *testing.T) {
	assert.True(t, orderrors.NeedsOperator(&orderrors.CollaboratorError{StatusCode: 401}))
	assert.False(t, orderrors.NeedsOperator(&orderrors.CollaboratorError{StatusCode: 402}))
}

func TestCategorizedError_UnwrapPreservesRootCause(t *testing.T) {
	root := errors.New("root cause")
	wrapped := orderrors.Transient(root, "reserve")
	assert.ErrorIs(t, wrapped, root)
}
