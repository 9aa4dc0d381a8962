package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/paygate/internal/model"
)

const paymentColumns = `id, bank_card_reference, order_reference, status, created_at, amount`

// PostgresPaymentRepo はPostgreSQLを使用した決済リポジトリ。
type PostgresPaymentRepo struct {
	db *sql.DB
}

// NewPostgresPaymentRepo はPostgresPaymentRepoを生成する。
func NewPostgresPaymentRepo(db *sql.DB) *PostgresPaymentRepo {
	return &PostgresPaymentRepo{db: db}
}

// Create は新しいIDを採番して決済を保存し、保存後のレコードを返す。
func (r *PostgresPaymentRepo) Create(ctx context.Context, payment *model.Payment) (*model.Payment, error) {
	stored := payment.Clone()
	stored.ID = uuid.New().String()

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO payments (id, bank_card_reference, order_reference, status, created_at, amount)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+paymentColumns,
		stored.ID, stored.BankCardReference, stored.OrderReference,
		string(stored.Status), stored.CreatedAt, stored.Amount,
	).Scan(scanTargets(stored)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	return stored, nil
}

// FindByID は指定IDの決済を取得する。見つからない場合はmodel.ErrPaymentNotFoundを返す。
func (r *PostgresPaymentRepo) FindByID(ctx context.Context, id string) (*model.Payment, error) {
	payment := &model.Payment{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`,
		id,
	).Scan(scanTargets(payment)...)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrPaymentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment by ID: %w", err)
	}

	return payment, nil
}

// FindAll は決済一覧をcreated_at, idの昇順で返す。
// pageがnilの場合は全件、指定された場合はLIMIT/OFFSETで1ページ分を返す。
func (r *PostgresPaymentRepo) FindAll(ctx context.Context, page *model.PageRequest) ([]*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments ORDER BY created_at, id`
	var args []any
	if page != nil {
		query += ` LIMIT $1 OFFSET $2`
		args = append(args, page.Size, page.Offset())
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]*model.Payment, 0)
	for rows.Next() {
		p := &model.Payment{}
		if err := rows.Scan(scanTargets(p)...); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}

	return payments, nil
}

// Replace は指定IDの決済を1文のUPDATEで置き換える。
// 同一IDへの同時更新は後勝ちになる。
func (r *PostgresPaymentRepo) Replace(ctx context.Context, payment *model.Payment) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE payments
		 SET bank_card_reference = $2, order_reference = $3, status = $4, created_at = $5, amount = $6
		 WHERE id = $1`,
		payment.ID, payment.BankCardReference, payment.OrderReference,
		string(payment.Status), payment.CreatedAt, payment.Amount,
	)
	if err != nil {
		return fmt.Errorf("failed to replace payment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", model.ErrPaymentNotFound, payment.ID)
	}
	return nil
}

// Ping はデータベースへの疎通を確認する。
func (r *PostgresPaymentRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// scanTargets はpaymentColumnsの順にScan先を返す。
func scanTargets(p *model.Payment) []any {
	return []any{&p.ID, &p.BankCardReference, &p.OrderReference, (*string)(&p.Status), &p.CreatedAt, &p.Amount}
}

// compile-time interface check
var _ PaymentRepository = (*PostgresPaymentRepo)(nil)
