package repositories

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Gopher0727/ChatEngine/internal/storage"
	"github.com/Gopher0727/ChatEngine/internal/storage/storagetest"
)

// TestStore_Postgres 需要本地 Docker，设置 CHAT_INTEGRATION=1 时运行
func TestStore_Postgres(t *testing.T) {
	if os.Getenv("CHAT_INTEGRATION") != "1" || testing.Short() {
		t.Skip("set CHAT_INTEGRATION=1 to run postgres integration tests")
	}

	pool, err := dockertest.NewPool("")
	require.NoError(t, err)
	pool.MaxWait = 90 * time.Second

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env: []string{
			"POSTGRES_USER=chat",
			"POSTGRES_PASSWORD=chat",
			"POSTGRES_DB=chat_engine",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := storage.BuildDSN("localhost", resource.GetPort("5432/tcp"), "chat", "chat", "chat_engine")
	var root *gorm.DB
	err = pool.Retry(func() error {
		db, err := gorm.Open(postgres.Open(dsn), storage.GormConfig(false))
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.Ping(); err != nil {
			return err
		}
		root = db
		return nil
	})
	require.NoError(t, err)

	n := 0
	runStoreSuite(t, func(t *testing.T) *gorm.DB {
		// 每个用例使用独立的 schema
		n++
		schema := fmt.Sprintf("suite_%d", n)
		require.NoError(t, root.Exec("CREATE SCHEMA "+schema).Error)
		db, err := gorm.Open(postgres.Open(dsn+" search_path="+schema), storage.GormConfig(false))
		require.NoError(t, err)
		require.NoError(t, storage.Migrate(db))
		storagetest.SeedUsers(t, db, 3)
		t.Cleanup(func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})
		return db
	})
}
