package scylla

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"
)

// SessionOptions configures the cluster connection.
type SessionOptions struct {
	Hosts       []string
	Username    string
	Password    string
	Consistency gocql.Consistency
	Timeout     time.Duration
}

// NewSession connects without binding a keyspace; the store qualifies every
// table so it can provision the keyspace itself.
func NewSession(opts SessionOptions, logger *slog.Logger) (*gocql.Session, error) {
	cluster := gocql.NewCluster(opts.Hosts...)
	cluster.Consistency = opts.Consistency
	if opts.Timeout > 0 {
		cluster.Timeout = opts.Timeout
		cluster.ConnectTimeout = opts.Timeout
	}
	if opts.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: opts.Username,
			Password: opts.Password,
		}
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}
	if logger != nil {
		logger.Info("scylla connected", "hosts", opts.Hosts)
	}
	return session, nil
}
