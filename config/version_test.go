package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionReturnsNonEmptyString(t *testing.T) {
	require.NotEmpty(t, Version())
}
