package db

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// AdvisoryXactLock takes a transaction-scoped advisory lock keyed by the
// user id, serializing session creation across processes. On stores without
// advisory locks (sqlite in tests) it is a no-op; the in-process mutex in
// the session service still covers same-process races.
func AdvisoryXactLock(tx *gorm.DB, userID uuid.UUID) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	key := int64(binary.BigEndian.Uint64(userID[:8]))
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", key).Error
}

// IsDeadlock reports whether err is a store-level deadlock or serialization
// failure worth retrying.
func IsDeadlock(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40P01 deadlock_detected, 40001 serialization_failure
		return pgErr.Code == "40P01" || pgErr.Code == "40001"
	}
	return false
}
