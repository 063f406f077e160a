package scylla

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"reset-service/internal/config"
	"reset-service/internal/util"
)

// PreparedStatements holds the statements the directory repository binds.
type PreparedStatements struct {
	GetAccountByPhoneHash *gocql.Query
}

// ScyllaClient holds the session against the storefront account keyspace.
// The reset core only ever reads from it.
type ScyllaClient struct {
	Session  *gocql.Session
	Prepared *PreparedStatements
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{Session: session}
	client.prepareStatements()

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (c *ScyllaClient) prepareStatements() {
	c.Prepared = &PreparedStatements{
		GetAccountByPhoneHash: c.Session.Query(
			`SELECT account_id FROM account_phone_index WHERE phone_hash = ?`),
	}
}

// ScanWithRetry executes a single-row query, retrying transient failures.
func (c *ScyllaClient) ScanWithRetry(query *gocql.Query, retries int, dest ...interface{}) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		err = query.Scan(dest...)
		if err == nil || err == gocql.ErrNotFound {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return err
}

func (c *ScyllaClient) HealthCheck() error {
	var release string
	if err := c.Session.Query(`SELECT release_version FROM system.local`).Scan(&release); err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}

func (c *ScyllaClient) Close() {
	if c.Session != nil {
		c.Session.Close()
	}
}
