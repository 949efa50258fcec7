package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinical-scheduling/internal/config"
)

func TestConnectPostgresRejectsBadDSN(t *testing.T) {
	_, err := ConnectPostgres(context.Background(), config.Config{PostgresDSN: "postgres://%zz"})
	require.ErrorContains(t, err, "parse postgres dsn")
}
