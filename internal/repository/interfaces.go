// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/paygate/internal/model"
)

// PaymentRepository は決済データの永続化インターフェース。
type PaymentRepository interface {
	// Create は新しいIDを採番して決済を保存し、保存後のレコードを返す。
	// 引数のIDは無視する。
	Create(ctx context.Context, payment *model.Payment) (*model.Payment, error)

	// FindByID は指定IDの決済を取得する。
	// 見つからない場合はmodel.ErrPaymentNotFoundをラップしたエラーを返す（nil, nilは返さない）。
	FindByID(ctx context.Context, id string) (*model.Payment, error)

	// FindAll は決済一覧を作成順で返す。
	// pageがnilの場合は全件を返す。
	FindAll(ctx context.Context, page *model.PageRequest) ([]*model.Payment, error)

	// Replace は指定IDの決済を1行単位で原子的に置き換える。
	// 行が存在しない場合はmodel.ErrPaymentNotFoundを返す。同一IDへの並行更新は後勝ち。
	Replace(ctx context.Context, payment *model.Payment) error
}

// Pinger はストアの疎通確認インターフェース。ヘルスチェックで使用する。
type Pinger interface {
	Ping(ctx context.Context) error
}
