package tasklib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUnknownTask(t *testing.T) {
	_, err := Build("NoSuchTask", nil)
	assert.Error(t, err)
}

func TestDetectorTaskPipeline(t *testing.T) {
	task, err := Build("MobileNetSSD_allFrames", Config{"refkey": "obj", "class": "person"})
	require.NoError(t, err)

	results, cont, err := task.Pipeline(&Frame{Width: 300, Height: 300, Offset: 5})
	require.NoError(t, err)
	assert.True(t, cont)
	require.Len(t, results, 1)
	assert.Equal(t, "obj", results[0].RefKey)
	assert.Equal(t, "person", results[0].Class)
	assert.Equal(t, 5, results[0].Offset)

	require.NoError(t, task.Finalize())
}

func TestDetectorTaskRequiresFrame(t *testing.T) {
	task, err := Build("MobileNetSSD_allFrames", nil)
	require.NoError(t, err)
	_, _, err = task.Pipeline(nil)
	assert.Error(t, err)
}

func TestSummaryTaskRunsOnce(t *testing.T) {
	task, err := Build("MotionSummary", nil)
	require.NoError(t, err)

	results, cont, err := task.Pipeline(nil)
	require.NoError(t, err)
	assert.False(t, cont)
	assert.Empty(t, results)
	require.NoError(t, task.Finalize())
}
