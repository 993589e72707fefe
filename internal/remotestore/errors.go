package remotestore

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"milelog/internal/domain"
)

// Categorize classifies a remote-store failure into a domain.SyncError so
// the syncer can decide between queue-and-retry and surface-to-user.
// Already-categorized errors pass through unchanged.
//
// The mapping is deliberately coarse:
//   - connectivity and timeouts   → network (retryable)
//   - SQLSTATE 28xxx              → auth (not retryable, user must act)
//   - SQLSTATE 22xxx/23xxx        → validation (payload will never succeed)
//   - SQLSTATE 08/53/57/58xxx    → server (remote-side fault, retryable)
//   - anything else              → unknown (retryable — the conservative
//     choice, since dropping an unclassified failure could lose a trip)
func Categorize(err error) *domain.SyncError {
	if err == nil {
		return nil
	}

	var syncErr *domain.SyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewSyncError(domain.ErrorNetwork, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.NewSyncError(domain.ErrorNetwork, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "28"): // invalid_authorization_specification
			return domain.NewSyncError(domain.ErrorAuth, err)
		case strings.HasPrefix(pgErr.Code, "22"), // data exception
			strings.HasPrefix(pgErr.Code, "23"): // integrity constraint violation
			return domain.NewSyncError(domain.ErrorValidation, err)
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			strings.HasPrefix(pgErr.Code, "53"), // insufficient resources
			strings.HasPrefix(pgErr.Code, "57"), // operator intervention
			strings.HasPrefix(pgErr.Code, "58"): // system error
			return domain.NewSyncError(domain.ErrorServer, err)
		}
		return domain.NewSyncError(domain.ErrorUnknown, err)
	}

	if pgconn.SafeToRetry(err) {
		return domain.NewSyncError(domain.ErrorNetwork, err)
	}

	return domain.NewSyncError(domain.ErrorUnknown, err)
}
