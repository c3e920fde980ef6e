package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEphemeral struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newFakeEphemeral() *fakeEphemeral {
	return &fakeEphemeral{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeEphemeral) EphemeralGet(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeEphemeral) EphemeralSet(ctx context.Context, key, value string, ttl time.Duration) error {
	f.values[key] = value
	f.ttls[key] = ttl
	return nil
}

func TestStatusStoreRoundTrip(t *testing.T) {
	ephemeral := newFakeEphemeral()
	s := NewStatusStore(ephemeral, time.Hour)

	task := NewTask(7, "report.txt", "txt", "", 12)
	require.NoError(t, s.Save(context.Background(), task))

	got, err := s.Get(context.Background(), task.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.TaskID)
	assert.Equal(t, StateQueued, got.State)
	// live records never expire while the task runs
	assert.Equal(t, time.Duration(0), ephemeral.ttls["ingest:task:"+task.ID])
}

func TestStatusStoreExpiresTerminalRecords(t *testing.T) {
	ephemeral := newFakeEphemeral()
	s := NewStatusStore(ephemeral, time.Hour)

	task := NewTask(7, "report.txt", "txt", "", 12)
	task.fail(StateValidating, ErrValidation)
	require.NoError(t, s.Save(context.Background(), task))

	assert.Equal(t, time.Hour, ephemeral.ttls["ingest:task:"+task.ID])

	got, err := s.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, string(StateValidating), got.FailedStage)
}

func TestStatusStoreMissReturnsNil(t *testing.T) {
	s := NewStatusStore(newFakeEphemeral(), time.Hour)

	got, err := s.Get(context.Background(), "no-such-task")
	require.NoError(t, err)
	assert.Nil(t, got)
}
