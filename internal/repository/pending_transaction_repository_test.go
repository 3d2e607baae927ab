package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go-relayer/internal/models"

	"github.com/stretchr/testify/require"
)

func newRecord(id string, nonce uint64, status models.PendingTransactionStatus, created time.Time) *models.PendingTransaction {
	return &models.PendingTransaction{
		ID:        id,
		JobID:     "job-" + id,
		Operation: "deposit",
		Status:    status,
		Operator:  "0x1111111111111111111111111111111111111111",
		ChainID:   1337,
		Nonce:     nonce,
		TxHash:    fmt.Sprintf("0x%064x", nonce),
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestMemoryRepositoryCreateAndGet(t *testing.T) {
	repo := NewMemoryPendingTransactionRepository()
	ctx := context.Background()

	record := newRecord("a", 1, models.PendingTransactionStatusSigned, time.Time{})
	require.NoError(t, repo.Create(ctx, record))
	require.False(t, record.CreatedAt.IsZero())
	require.Error(t, repo.Create(ctx, record))

	got, err := repo.GetByID(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "job-a", got.JobID)

	// callers get copies
	got.Status = models.PendingTransactionStatusDropped
	again, err := repo.GetByID(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, models.PendingTransactionStatusSigned, again.Status)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepositoryUpdateStatus(t *testing.T) {
	repo := NewMemoryPendingTransactionRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newRecord("a", 1, models.PendingTransactionStatusBroadcast, time.Time{})))

	gasUsed, block := uint64(21_000), uint64(77)
	now := time.Now()
	require.NoError(t, repo.UpdateStatus(ctx, "a", StatusUpdate{
		Status:      models.PendingTransactionStatusConfirmed,
		GasUsed:     &gasUsed,
		BlockNumber: &block,
		ConfirmedAt: &now,
	}))

	got, err := repo.GetByID(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, models.PendingTransactionStatusConfirmed, got.Status)
	require.Equal(t, uint64(21_000), *got.GasUsed)
	require.Equal(t, uint64(77), *got.BlockNumber)
	require.Empty(t, got.LastError)

	require.ErrorIs(t, repo.UpdateStatus(ctx, "missing", StatusUpdate{Status: models.PendingTransactionStatusDropped}), ErrNotFound)
}

func TestMemoryRepositoryFindInFlight(t *testing.T) {
	repo := NewMemoryPendingTransactionRepository()
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)

	require.NoError(t, repo.Create(ctx, newRecord("c", 3, models.PendingTransactionStatusUnknown, old)))
	require.NoError(t, repo.Create(ctx, newRecord("a", 1, models.PendingTransactionStatusSigned, old)))
	require.NoError(t, repo.Create(ctx, newRecord("b", 2, models.PendingTransactionStatusBroadcast, time.Now())))
	require.NoError(t, repo.Create(ctx, newRecord("d", 0, models.PendingTransactionStatusConfirmed, old)))
	require.NoError(t, repo.Create(ctx, newRecord("e", 4, models.PendingTransactionStatusRejected, old)))

	all, err := repo.FindInFlight(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []uint64{1, 2, 3}, []uint64{all[0].Nonce, all[1].Nonce, all[2].Nonce})

	stale, err := repo.FindInFlight(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 2)
	require.Equal(t, "a", stale[0].ID)
	require.Equal(t, "c", stale[1].ID)
}

func TestMemoryRepositoryList(t *testing.T) {
	repo := NewMemoryPendingTransactionRepository()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 25; i++ {
		status := models.PendingTransactionStatusConfirmed
		if i%5 == 0 {
			status = models.PendingTransactionStatusReverted
		}
		require.NoError(t, repo.Create(ctx, newRecord(fmt.Sprintf("r%02d", i), uint64(i), status, base.Add(time.Duration(i)*time.Second))))
	}

	page1, total, err := repo.List(ctx, "", 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 25, total)
	require.Len(t, page1, 10)
	require.Equal(t, "r24", page1[0].ID)

	page3, _, err := repo.List(ctx, "", 3, 10)
	require.NoError(t, err)
	require.Len(t, page3, 5)
	require.Equal(t, "r00", page3[4].ID)

	empty, _, err := repo.List(ctx, "", 9, 10)
	require.NoError(t, err)
	require.Empty(t, empty)

	reverted, total, err := repo.List(ctx, models.PendingTransactionStatusReverted, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 5, total)
	require.Len(t, reverted, 5)

	// out of range page size falls back to the default
	defaults, _, err := repo.List(ctx, "", 0, 1000)
	require.NoError(t, err)
	require.Len(t, defaults, 20)

	// a page number whose offset would overflow int is an empty page, not a panic
	huge, total, err := repo.List(ctx, "", 922337203685477581, 100)
	require.NoError(t, err)
	require.EqualValues(t, 25, total)
	require.Empty(t, huge)
}
