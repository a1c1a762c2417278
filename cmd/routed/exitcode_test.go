package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/routed-project/routed/internal/errs"
)

func TestExitCodeForNil(t *testing.T) {
	require.Equal(t, 0, exitCodeFor(nil))
}

func TestExitCodeForConfigError(t *testing.T) {
	require.Equal(t, 1, exitCodeFor(errs.New(errs.Config, "cli", "bad config")))
}

func TestExitCodeForFatalError(t *testing.T) {
	require.Equal(t, 2, exitCodeFor(errs.New(errs.Fatal, "manager", "bind failed")))
}

func TestExitCodeForPlainError(t *testing.T) {
	require.Equal(t, 2, exitCodeFor(errors.New("unexpected")))
}
