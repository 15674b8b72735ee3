package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jmoiron/sqlx"
)

type ctxKey string

const (
	sqliteTxKey   ctxKey = "sqlite-tx"
	postgresTxKey ctxKey = "postgres-tx"
)

func sqliteTx(ctx context.Context) *sqlx.Tx {
	tx, _ := ctx.Value(sqliteTxKey).(*sqlx.Tx)
	return tx
}

func postgresTx(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(postgresTxKey).(pgx.Tx)
	return tx
}
