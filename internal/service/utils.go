package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ayo6706/marketplace-ledger/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageLimit
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

// pageOffset converts a row offset for the int4 OFFSET parameter, rejecting
// values that would wrap.
func pageOffset(offset int64) (int32, error) {
	if offset < 0 {
		return 0, nil
	}
	if offset > math.MaxInt32 {
		return 0, domain.NewValidationError("offset", fmt.Sprintf("must not exceed %d", math.MaxInt32))
	}
	return int32(offset), nil
}

func trimmedPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
