package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"idle", StatusIdle},
		{"recording", StatusRecording},
		{"processing", StatusProcessing},
		{"uploaded", StatusProcessing},
		{"ENDED", StatusEnded},
		{" error ", StatusError},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseStatus("paused")
	assert.Error(t, err)
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusEnded.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusIdle.Terminal())
}

func TestTimeSliceValid(t *testing.T) {
	assert.NoError(t, TimeSlice{Start: 1, End: 2}.Valid())
	assert.NoError(t, TimeSlice{Start: 2, End: 2}.Valid())
	assert.Error(t, TimeSlice{Start: 3, End: 2}.Valid())
	assert.Error(t, TimeSlice{Start: -1, End: 2}.Valid())
	assert.Error(t, TimeSlice{Start: math.NaN(), End: 2}.Valid())
}

func TestTimeSliceWithin(t *testing.T) {
	s := TimeSlice{Start: 1, End: 10}
	assert.True(t, s.Within(10))
	assert.False(t, s.Within(9.5))
	assert.Equal(t, 9.0, s.Duration())
}

func TestAudioChunkValidate(t *testing.T) {
	assert.NoError(t, AudioChunk{Index: 0, TotalChunks: 1}.Validate())
	assert.True(t, AudioChunk{Index: 2, TotalChunks: 3}.Last())
	assert.Error(t, AudioChunk{Index: 3, TotalChunks: 3}.Validate())
	assert.Error(t, AudioChunk{Index: -1, TotalChunks: 3}.Validate())
	assert.Error(t, AudioChunk{Index: 0, TotalChunks: 0}.Validate())
}

func TestSessionDurationSeconds(t *testing.T) {
	ms := int64(1500)
	assert.Equal(t, 1.5, Session{DurationMs: &ms}.DurationSeconds())
	assert.Equal(t, 0.0, Session{}.DurationSeconds())
}
