package validate

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPhone(t *testing.T) {
	for _, ok := range []string{"9876543210", "+91 98765-43210", "0135 2471"} {
		assert.True(t, IsPhone(ok), ok)
	}
	for _, bad := range []string{"", "98765abc", "++91", "call me"} {
		assert.False(t, IsPhone(bad), bad)
	}
}

func TestRegisterRules(t *testing.T) {
	v := validator.New()
	require.NoError(t, RegisterRules(v))

	type form struct {
		Phone string `validate:"omitempty,phone"`
	}
	assert.NoError(t, v.Struct(form{Phone: "+91 98765"}))
	assert.NoError(t, v.Struct(form{}))
	assert.Error(t, v.Struct(form{Phone: "x1"}))
}
