package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/inetconnector/smartxchain/safety"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_CompileRejectsEmptySource(t *testing.T) {
	e := New("/nonexistent/sandbox-host")
	_, err := e.Compile("")
	assert.ErrorIs(t, err, ErrEmptySource)
}

func TestExecutor_CompileRejectsUnsafeSourceBeforeLaunchingSandbox(t *testing.T) {
	e := New("/nonexistent/sandbox-host")
	_, err := e.Compile(`using System.IO; public class Evil { }`)
	require.Error(t, err)
	var rejection *safety.Rejection
	assert.ErrorAs(t, err, &rejection)
}

func TestExecutor_CompileSurfacesLaunchFailure(t *testing.T) {
	e := New("/nonexistent/sandbox-host")
	_, err := e.Compile(`using System; public class Ok { }`)
	require.Error(t, err)
	var rejection *safety.Rejection
	assert.False(t, errors.As(err, &rejection), "a launch failure is not a safety rejection")
}

func TestExecutor_RunConvertsRejectionIntoResult(t *testing.T) {
	e := New("/nonexistent/sandbox-host")
	result := e.Run(context.Background(), `using System.IO; public class Evil { }`, nil, "state-0")
	assert.Contains(t, result.Result, "Forbidden:")
	assert.Equal(t, "state-0", result.State)
}

func TestExecutor_RunConvertsLaunchFailureIntoResult(t *testing.T) {
	e := New("/nonexistent/sandbox-host")
	result := e.Run(context.Background(), `using System; public class Ok { }`, nil, "state-0")
	assert.Contains(t, result.Result, "Execution failed:")
	assert.Equal(t, "state-0", result.State)
}

func TestSetDefault_RejectsNil(t *testing.T) {
	assert.Error(t, SetDefault(nil))
}

func TestDefault_IsLazilyInitialized(t *testing.T) {
	SetDefaultHostBinaryPath("/nonexistent/sandbox-host")
	e := Default()
	require.NotNil(t, e)
	assert.Same(t, e, Default())
}
