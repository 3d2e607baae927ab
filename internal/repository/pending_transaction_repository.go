package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go-relayer/internal/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned when no journal record matches
var ErrNotFound = errors.New("pending transaction not found")

// StatusUpdate carries the fields changed by a status transition. Zero values are left untouched.
type StatusUpdate struct {
	Status      models.PendingTransactionStatus
	LastError   string
	GasUsed     *uint64
	BlockNumber *uint64
	SubmittedAt *time.Time
	ConfirmedAt *time.Time
}

// PendingTransactionRepository defines the interface for the submission journal
type PendingTransactionRepository interface {
	Create(ctx context.Context, tx *models.PendingTransaction) error
	GetByID(ctx context.Context, id string) (*models.PendingTransaction, error)
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) error

	// FindInFlight returns records still needing reconciliation, last updated before cutoff.
	// A zero cutoff returns all of them.
	FindInFlight(ctx context.Context, cutoff time.Time) ([]*models.PendingTransaction, error)
	// List returns records newest first, optionally filtered by status
	List(ctx context.Context, status models.PendingTransactionStatus, page, pageSize int) ([]*models.PendingTransaction, int64, error)
}

// pendingTransactionRepository implements PendingTransactionRepository on gorm
type pendingTransactionRepository struct {
	db *gorm.DB
}

// NewPendingTransactionRepository creates a new gorm-backed PendingTransactionRepository instance
func NewPendingTransactionRepository(db *gorm.DB) PendingTransactionRepository {
	return &pendingTransactionRepository{db: db}
}

func (r *pendingTransactionRepository) Create(ctx context.Context, tx *models.PendingTransaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *pendingTransactionRepository) GetByID(ctx context.Context, id string) (*models.PendingTransaction, error) {
	var tx models.PendingTransaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *pendingTransactionRepository) UpdateStatus(ctx context.Context, id string, update StatusUpdate) error {
	updates := map[string]interface{}{
		"status":     update.Status,
		"updated_at": time.Now(),
	}
	if update.LastError != "" {
		updates["last_error"] = update.LastError
	}
	if update.GasUsed != nil {
		updates["gas_used"] = *update.GasUsed
	}
	if update.BlockNumber != nil {
		updates["block_number"] = *update.BlockNumber
	}
	if update.SubmittedAt != nil {
		updates["submitted_at"] = update.SubmittedAt
	}
	if update.ConfirmedAt != nil {
		updates["confirmed_at"] = update.ConfirmedAt
	}

	result := r.db.WithContext(ctx).Model(&models.PendingTransaction{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pendingTransactionRepository) FindInFlight(ctx context.Context, cutoff time.Time) ([]*models.PendingTransaction, error) {
	query := r.db.WithContext(ctx).Where("status IN ?", models.InFlightStatuses)
	if !cutoff.IsZero() {
		query = query.Where("updated_at < ?", cutoff)
	}
	var txs []*models.PendingTransaction
	err := query.Order("nonce ASC").Find(&txs).Error
	return txs, err
}

func (r *pendingTransactionRepository) List(ctx context.Context, status models.PendingTransactionStatus, page, pageSize int) ([]*models.PendingTransaction, int64, error) {
	page, pageSize = normalizePage(page, pageSize)

	query := r.db.WithContext(ctx).Model(&models.PendingTransaction{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var txs []*models.PendingTransaction
	err := query.Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&txs).Error
	return txs, total, err
}

// maxPage bounds (page-1)*pageSize well inside int range
const maxPage = 1_000_000

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

// MemoryPendingTransactionRepository keeps the journal in process memory.
// Used when no database is configured; records do not survive a restart.
type MemoryPendingTransactionRepository struct {
	mu      sync.RWMutex
	records map[string]*models.PendingTransaction
}

// NewMemoryPendingTransactionRepository creates an empty in-memory journal
func NewMemoryPendingTransactionRepository() *MemoryPendingTransactionRepository {
	return &MemoryPendingTransactionRepository{records: make(map[string]*models.PendingTransaction)}
}

func (r *MemoryPendingTransactionRepository) Create(_ context.Context, tx *models.PendingTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[tx.ID]; exists {
		return errors.New("duplicate pending transaction id " + tx.ID)
	}
	now := time.Now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	if tx.UpdatedAt.IsZero() {
		tx.UpdatedAt = now
	}
	stored := *tx
	r.records[tx.ID] = &stored
	return nil
}

func (r *MemoryPendingTransactionRepository) GetByID(_ context.Context, id string) (*models.PendingTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *tx
	return &copied, nil
}

func (r *MemoryPendingTransactionRepository) UpdateStatus(_ context.Context, id string, update StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}
	tx.Status = update.Status
	tx.UpdatedAt = time.Now()
	if update.LastError != "" {
		tx.LastError = update.LastError
	}
	if update.GasUsed != nil {
		v := *update.GasUsed
		tx.GasUsed = &v
	}
	if update.BlockNumber != nil {
		v := *update.BlockNumber
		tx.BlockNumber = &v
	}
	if update.SubmittedAt != nil {
		tx.SubmittedAt = update.SubmittedAt
	}
	if update.ConfirmedAt != nil {
		tx.ConfirmedAt = update.ConfirmedAt
	}
	return nil
}

func (r *MemoryPendingTransactionRepository) FindInFlight(_ context.Context, cutoff time.Time) ([]*models.PendingTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.PendingTransaction
	for _, tx := range r.records {
		if tx.Status.IsTerminal() {
			continue
		}
		if !cutoff.IsZero() && !tx.UpdatedAt.Before(cutoff) {
			continue
		}
		copied := *tx
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nonce < out[j].Nonce })
	return out, nil
}

func (r *MemoryPendingTransactionRepository) List(_ context.Context, status models.PendingTransactionStatus, page, pageSize int) ([]*models.PendingTransaction, int64, error) {
	page, pageSize = normalizePage(page, pageSize)

	r.mu.RLock()
	var matched []*models.PendingTransaction
	for _, tx := range r.records {
		if status != "" && tx.Status != status {
			continue
		}
		copied := *tx
		matched = append(matched, &copied)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := int64(len(matched))
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []*models.PendingTransaction{}, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}
