package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wildid/internal/models"
)

func sampleIdentification(id, identity string, createdAt time.Time) *models.Identification {
	return &models.Identification{
		ID:                 id,
		Identity:           identity,
		CreatedAt:          createdAt,
		Species:            "Vulpes vulpes",
		CommonName:         "Red Fox",
		Confidence:         "high",
		Description:        "Rusty coat, white-tipped tail",
		ConservationStatus: "Least Concern",
		Habitat:            "Forests and urban areas",
		FunFact:            "Uses the magnetic field to hunt",
	}
}

// storageConformance exercises the Storage contract against any backend.
func storageConformance(t *testing.T, store Storage) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Save and Get round-trip.
	first := sampleIdentification("ident-1", "id-a", base)
	require.NoError(t, store.Save(ctx, first))

	got, err := store.Get(ctx, "ident-1")
	require.NoError(t, err)
	assert.Equal(t, first.Species, got.Species)
	assert.Equal(t, first.ConservationStatus, got.ConservationStatus)
	assert.Empty(t, got.Feedback)
	assert.Nil(t, got.FeedbackAt)

	// Get on a missing ID.
	_, err = store.Get(ctx, "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)

	// List is newest-first and scoped to the identity.
	for i := 2; i <= 4; i++ {
		ident := sampleIdentification(fmt.Sprintf("ident-%d", i), "id-a", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Save(ctx, ident))
	}
	require.NoError(t, store.Save(ctx, sampleIdentification("ident-other", "id-b", base)))

	list, err := store.List(ctx, "id-a", 0)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, "ident-4", list[0].ID)
	assert.Equal(t, "ident-1", list[3].ID)

	list, err = store.List(ctx, "id-a", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ident-4", list[0].ID)

	list, err = store.List(ctx, "id-unknown", 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	// Feedback round-trip.
	feedbackAt := base.Add(time.Hour)
	require.NoError(t, store.RecordFeedback(ctx, "ident-1", FeedbackCorrect, feedbackAt))

	got, err = store.Get(ctx, "ident-1")
	require.NoError(t, err)
	assert.Equal(t, FeedbackCorrect, got.Feedback)
	require.NotNil(t, got.FeedbackAt)
	assert.True(t, got.FeedbackAt.Equal(feedbackAt))

	// Feedback on a missing ID.
	err = store.RecordFeedback(ctx, "no-such-id", FeedbackIncorrect, feedbackAt)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorage_Conformance(t *testing.T) {
	store := NewMemoryStorage()
	defer store.Close()
	storageConformance(t, store)
}

func TestMemoryStorage_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStorage()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleIdentification("ident-1", "id-a", time.Now())))

	got, err := store.Get(ctx, "ident-1")
	require.NoError(t, err)
	got.Species = "mutated"

	again, err := store.Get(ctx, "ident-1")
	require.NoError(t, err)
	assert.Equal(t, "Vulpes vulpes", again.Species)
}

func TestValidFeedback(t *testing.T) {
	assert.True(t, ValidFeedback(FeedbackCorrect))
	assert.True(t, ValidFeedback(FeedbackIncorrect))
	assert.False(t, ValidFeedback(""))
	assert.False(t, ValidFeedback("maybe"))
}
