//go:build integration

package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/tphakala/entityindex/internal/conf"
	"github.com/tphakala/entityindex/internal/logger"
)

func TestMySQLStoreRoundTrip(t *testing.T) {
	ctx := t.Context()

	container, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("entityindex"),
		tcmysql.WithUsername("entityindex"),
		tcmysql.WithPassword("entityindex"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	s := &conf.Settings{}
	s.Database.MySQL.Enabled = true
	s.Database.MySQL.Host = host
	s.Database.MySQL.Port = port.Port()
	s.Database.MySQL.Username = "entityindex"
	s.Database.MySQL.Password = "entityindex"
	s.Database.MySQL.Database = "entityindex"

	store := &MySQLStore{
		DataStore: DataStore{Logger: logger.NewSlogLogger(nil, logger.LogLevelError, nil)},
		Settings:  s,
	}
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	v := &Video{Filename: "mysql.mp4"}
	require.NoError(t, store.Create(ctx, v))
	require.NoError(t, store.Update(ctx, v.ID, Fields{ColStatus: StatusCompleted, ColProgress: 100.0}))

	got, err := store.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.InDelta(t, 100.0, got.Progress, 1e-9)

	done, err := store.ListByStatus(ctx, StatusCompleted)
	require.NoError(t, err)
	assert.Len(t, done, 1)
}
