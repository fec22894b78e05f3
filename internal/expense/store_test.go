package expense

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_LoadMissingCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "static", DataFileName)
	s := NewStore(path)

	require.NoError(t, s.Load())
	assert.Equal(t, 0, s.Len())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestStore_LoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DataFileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s := NewStore(path)
	assert.Error(t, s.Load())
	assert.Equal(t, 0, s.Len())
}

func TestStore_LoadExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), DataFileName)
	content := `[{"amount": 3, "category": "food", "date": "2024-01-02", "description": "tea"}]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	s := NewStore(path)
	require.NoError(t, s.Load())
	require.Equal(t, 1, s.Len())
	assert.Equal(t, Expense{Amount: 3, Category: "food", Date: "2024-01-02", Description: "tea"}, s.All()[0])
}

func TestStore_RemoveAt(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), DataFileName))
	require.NoError(t, s.Load())
	require.NoError(t, s.Append(Expense{Amount: 1, Category: "a"}))
	require.NoError(t, s.Append(Expense{Amount: 2, Category: "b"}))

	_, ok, err := s.RemoveAt(5)
	assert.False(t, ok)
	assert.NoError(t, err)

	removed, ok, err := s.RemoveAt(0)
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "a", removed.Category)
	assert.Equal(t, []Expense{{Amount: 2, Category: "b"}}, s.All())

	reloaded := NewStore(s.Path())
	require.NoError(t, reloaded.Load())
	assert.Equal(t, s.All(), reloaded.All())
}

func TestStore_AllIsCopy(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), DataFileName))
	require.NoError(t, s.Append(Expense{Category: "a"}))

	all := s.All()
	all[0].Category = "mutated"
	assert.Equal(t, "a", s.All()[0].Category)
}

func TestStore_WatchReloadsExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), DataFileName)

	writer := NewStore(path)
	require.NoError(t, writer.Load())

	reader := NewStore(path)
	require.NoError(t, reader.Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan error, 10)
	require.NoError(t, reader.Watch(ctx, func(err error) { reloaded <- err }))

	require.NoError(t, writer.Append(Expense{Amount: 12.5, Category: "food", Description: "lunch"}))

	assert.Eventually(t, func() bool { return reader.Len() == 1 }, 5*time.Second, 20*time.Millisecond)
	select {
	case err := <-reloaded:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("notify was not called")
	}
}

func TestStore_WatchIgnoresOwnWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), DataFileName)
	s := NewStore(path)
	require.NoError(t, s.Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notified := make(chan error, 10)
	require.NoError(t, s.Watch(ctx, func(err error) { notified <- err }))

	require.NoError(t, s.Append(Expense{Amount: 1, Category: "a"}))

	select {
	case err := <-notified:
		t.Fatalf("unexpected reload notification: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
	assert.Equal(t, 1, s.Len())
}
