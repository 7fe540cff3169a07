package envelope

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOkEnvelope(t *testing.T) {
	e := Ok(map[string]string{"task_id": "t1"}, []string{"task.claim"}, nil)
	require.True(t, e.OK)
	require.Nil(t, e.Error)
	require.Equal(t, "t1", e.Data["task_id"])
}

func TestFailEnvelope(t *testing.T) {
	e := Fail[map[string]string](CodeTaskNotFound, "no such task", map[string]any{"task_id": "t1"})
	require.False(t, e.OK)
	require.NotNil(t, e.Error)
	require.Equal(t, CodeTaskNotFound, e.Error.Code)
	require.Nil(t, e.Data)
}
