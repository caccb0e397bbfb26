package db

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

func TestWithTx_Commits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = WithTx(context.Background(), mock, func(ctx context.Context) error {
		if TxFromContext(ctx) == nil {
			t.Fatal("expected transaction on context")
		}
		_, err := ConnFromContext(ctx, mock).Exec(ctx, "INSERT INTO appointments (id) VALUES ($1)", "a1")
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = WithTx(context.Background(), mock, func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWithTx_Nested(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	err = WithTx(context.Background(), mock, func(ctx context.Context) error {
		outer := TxFromContext(ctx)
		return WithTx(ctx, mock, func(ctx context.Context) error {
			if TxFromContext(ctx) != outer {
				t.Error("nested call should reuse the outer transaction")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestConnFromContext_FallsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	if ConnFromContext(context.Background(), mock) != mock {
		t.Error("expected fallback querier without a transaction")
	}
}
