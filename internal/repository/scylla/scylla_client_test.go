package scylla

import (
	"testing"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyless-recovery/internal/config"
)

func TestNewClusterDoesNotRetry(t *testing.T) {
	cluster := newCluster(config.ScyllaConfig{Nodes: []string{"10.0.0.1:9042", "10.0.0.2:9042"}})

	assert.Same(t, noRetry, cluster.RetryPolicy)
	assert.Equal(t, 0, noRetry.NumRetries)
	assert.Equal(t, gocql.LocalQuorum, cluster.Consistency)
	assert.Equal(t, gocql.LocalSerial, cluster.SerialConsistency)
	assert.Nil(t, cluster.SslOpts)
	assert.Nil(t, cluster.Authenticator)
}

func TestNewClusterCredentials(t *testing.T) {
	cluster := newCluster(config.ScyllaConfig{
		Nodes:    []string{"10.0.0.1:9042"},
		Username: "recovery",
		Password: "secret",
		TLS:      true,
	})

	auth, ok := cluster.Authenticator.(gocql.PasswordAuthenticator)
	require.True(t, ok)
	assert.Equal(t, "recovery", auth.Username)
	require.NotNil(t, cluster.SslOpts)
	assert.True(t, cluster.SslOpts.EnableHostVerification)
}
