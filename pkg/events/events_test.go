package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	e := New(TypeRoleAdded, map[string]any{"path": "SKYLINE.ADMIN"})

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, TypeRoleAdded, e.Type)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, "SKYLINE.ADMIN", e.Data["path"])

	// IDs are unique per event.
	assert.NotEqual(t, e.ID, New(TypeRoleAdded, nil).ID)
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	first := NewRecorder()
	second := NewRecorder()
	bus.Subscribe(first)
	bus.Subscribe(second)

	e := New(TypeGroupRemoved, map[string]any{"name": "Editors"})
	bus.Notify(context.Background(), e)

	require.Len(t, first.Events(), 1)
	require.Len(t, second.Events(), 1)
	assert.Equal(t, e.ID, first.Events()[0].ID)
	assert.Equal(t, e.ID, second.Events()[0].ID)
}

func TestRecorderByType(t *testing.T) {
	rec := NewRecorder()
	ctx := context.Background()

	rec.Notify(ctx, New(TypeUserAdded, map[string]any{"username": "alice"}))
	rec.Notify(ctx, New(TypeUserUpdated, map[string]any{"username": "alice"}))
	rec.Notify(ctx, New(TypeUserAdded, map[string]any{"username": "bob"}))

	assert.Len(t, rec.Events(), 3)
	assert.Len(t, rec.ByType(TypeUserAdded), 2)
	assert.Len(t, rec.ByType(TypeUserRemoved), 0)
}

func TestNopDiscards(t *testing.T) {
	// Nop must be safe without any setup.
	Nop{}.Notify(context.Background(), New(TypeRoleRemoved, nil))
}
