package store

import (
	"context"
	"time"

	"swapramp/internal/models"
)

const walletOpColumns = `
	op_id, order_id, op_type, token, amount, from_address, to_address,
	chain_id, tx_hash, block_number, confirmations, required_confs,
	gas_price, gas_used, gas_fee, status, error_message,
	created_at, broadcast_at, confirmed_at, updated_at`

func scanWalletOp(row rowScanner) (*models.WalletOperation, error) {
	var op models.WalletOperation
	err := row.Scan(
		&op.OpID, &op.OrderID, &op.OpType, &op.Token, &op.Amount,
		&op.FromAddress, &op.ToAddress, &op.ChainID,
		&op.TxHash, &op.BlockNumber, &op.Confirmations, &op.RequiredConfs,
		&op.GasPrice, &op.GasUsed, &op.GasFee, &op.Status, &op.ErrorMessage,
		&op.CreatedAt, &op.BroadcastAt, &op.ConfirmedAt, &op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (s *Store) CreateWalletOperation(ctx context.Context, op *models.WalletOperation) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO wallet_operations (
			op_id, order_id, op_type, token, amount, from_address,
			to_address, chain_id, tx_hash, block_number, confirmations,
			required_confs, gas_price, gas_used, gas_fee, status,
			error_message, created_at, broadcast_at, confirmed_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$18)
	`,
		op.OpID, op.OrderID, op.OpType, op.Token, op.Amount, op.FromAddress,
		op.ToAddress, op.ChainID, op.TxHash, op.BlockNumber, op.Confirmations,
		op.RequiredConfs, op.GasPrice, op.GasUsed, op.GasFee, op.Status,
		op.ErrorMessage, op.CreatedAt, op.BroadcastAt, op.ConfirmedAt,
	)
	return err
}

func (s *Store) GetWalletOperation(ctx context.Context, opID string) (*models.WalletOperation, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+walletOpColumns+` FROM wallet_operations WHERE op_id=$1`, opID)
	return scanWalletOp(row)
}

// GetOrderOperation returns the latest operation of the given type for an
// order, or pgx.ErrNoRows.
func (s *Store) GetOrderOperation(ctx context.Context, orderID string, opType models.WalletOpType) (*models.WalletOperation, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT `+walletOpColumns+`
		FROM wallet_operations
		WHERE order_id=$1 AND op_type=$2
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID, opType)
	return scanWalletOp(row)
}

func (s *Store) ListOpenWalletOperations(ctx context.Context) ([]*models.WalletOperation, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+walletOpColumns+`
		FROM wallet_operations
		WHERE status IN ('pending','broadcast','confirming')
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*models.WalletOperation
	for rows.Next() {
		op, err := scanWalletOp(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *Store) UpdateWalletOperation(ctx context.Context, op *models.WalletOperation) error {
	op.UpdatedAt = time.Now().UTC()
	_, err := s.Pool.Exec(ctx, `
		UPDATE wallet_operations SET
			tx_hash=$2, block_number=$3, confirmations=$4,
			gas_price=$5, gas_used=$6, gas_fee=$7,
			status=$8, error_message=$9,
			broadcast_at=$10, confirmed_at=$11, updated_at=$12
		WHERE op_id=$1
	`,
		op.OpID,
		op.TxHash, op.BlockNumber, op.Confirmations,
		op.GasPrice, op.GasUsed, op.GasFee,
		op.Status, op.ErrorMessage,
		op.BroadcastAt, op.ConfirmedAt, op.UpdatedAt,
	)
	return err
}
