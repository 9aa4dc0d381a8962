package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hitoshi/paygate/internal/model"
)

// MemoryPaymentRepo はプロセス内メモリに決済を保持するリポジトリ。
// 開発用のSTORE_DRIVER=memoryとテストで使用する。
// 返却値はすべてコピーで、呼び出し元の変更は保存済みレコードに影響しない。
type MemoryPaymentRepo struct {
	mu       sync.RWMutex
	payments map[string]*model.Payment
	order    []string // 挿入順
}

// NewMemoryPaymentRepo はMemoryPaymentRepoを生成する。
func NewMemoryPaymentRepo() *MemoryPaymentRepo {
	return &MemoryPaymentRepo{
		payments: make(map[string]*model.Payment),
	}
}

// Create は新しいIDを採番して決済を保存し、保存後のレコードを返す。
func (r *MemoryPaymentRepo) Create(ctx context.Context, payment *model.Payment) (*model.Payment, error) {
	stored := payment.Clone()
	stored.ID = uuid.New().String()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.payments[stored.ID] = stored
	r.order = append(r.order, stored.ID)

	return stored.Clone(), nil
}

// FindByID は指定IDの決済を取得する。見つからない場合はmodel.ErrPaymentNotFoundを返す。
func (r *MemoryPaymentRepo) FindByID(ctx context.Context, id string) (*model.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrPaymentNotFound, id)
	}
	return p.Clone(), nil
}

// FindAll は決済一覧を挿入順で返す。
// pageがnilの場合は全件を返す。
func (r *MemoryPaymentRepo) FindAll(ctx context.Context, page *model.PageRequest) ([]*model.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.order
	if page != nil {
		start := page.Offset()
		if start < 0 || start >= len(ids) {
			ids = nil
		} else {
			end := len(ids)
			if page.Size < end-start {
				end = start + page.Size
			}
			ids = ids[start:end]
		}
	}

	payments := make([]*model.Payment, 0, len(ids))
	for _, id := range ids {
		payments = append(payments, r.payments[id].Clone())
	}
	return payments, nil
}

// Replace は指定IDの決済を置き換える。
func (r *MemoryPaymentRepo) Replace(ctx context.Context, payment *model.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[payment.ID]; !ok {
		return fmt.Errorf("%w: %s", model.ErrPaymentNotFound, payment.ID)
	}
	r.payments[payment.ID] = payment.Clone()
	return nil
}

// Ping は常に成功する。
func (r *MemoryPaymentRepo) Ping(ctx context.Context) error {
	return nil
}

// compile-time interface check
var _ PaymentRepository = (*MemoryPaymentRepo)(nil)
