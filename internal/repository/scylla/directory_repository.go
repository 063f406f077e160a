package scylla

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"reset-service/internal/util"
)

// DirectoryRepository reads the storefront's account phone index. The index
// maps phone hashes to account identifiers and is owned by the account
// service; the reset core never writes to it.
type DirectoryRepository struct {
	client *ScyllaClient
}

func NewDirectoryRepository(client *ScyllaClient) *DirectoryRepository {
	return &DirectoryRepository{client: client}
}

// AccountIDByPhoneHash looks up the account for a phone hash. A miss is a
// first-class outcome, not an error: callers must render it identically to
// a hit so phone numbers cannot be enumerated.
func (r *DirectoryRepository) AccountIDByPhoneHash(ctx context.Context, phoneHash string) (string, bool, error) {
	var accountID string

	query := r.client.Prepared.GetAccountByPhoneHash.Bind(phoneHash).WithContext(ctx)
	err := r.client.ScanWithRetry(query, 2, &accountID)
	if err == gocql.ErrNotFound {
		util.Debug("No account for phone hash",
			zap.String("phone_hash", phoneHash))
		return "", false, nil
	}
	if err != nil {
		util.Error("Failed to resolve account by phone hash",
			zap.String("phone_hash", phoneHash),
			zap.Error(err))
		return "", false, fmt.Errorf("failed to resolve account: %w", err)
	}
	return accountID, true, nil
}

// HealthCheck verifies the backing session is usable.
func (r *DirectoryRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}
