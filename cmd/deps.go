package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db/memory"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db/postgres"
	dbsql "github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db/sql"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db/vitess"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/storage/backend"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/taskqueue"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/types"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/upload/idempotency"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/utils"

	"github.com/spf13/pflag"
)

// DBOpts selects and tunes the metadata database.
type DBOpts struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	TLSMode      string
	TLSCAFile    string
}

// StorageOpts configures the object store.
type StorageOpts struct {
	Type         string
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	RoleARN      string
	KMSKeyID     string
	CreateBucket bool
}

func addDBFlags(f *pflag.FlagSet) {
	f.String("db_driver", "postgres", "Database driver (postgres, cockroachdb, mysql, vitess, memory)")
	f.String("db_dsn", "", "Database connection string")
	f.Int("db_max_open_conns", 25, "Maximum open database connections")
	f.Int("db_max_idle_conns", 5, "Maximum idle database connections")
	f.String("db_tls_mode", "", "MySQL/Vitess TLS mode (disabled, preferred, required, verify-ca)")
	f.String("db_tls_ca_file", "", "Path to CA certificate file for database TLS (verify-ca mode)")
	f.Int("max_attempts", types.DefaultMaxAttempts, "Processing attempts allowed per upload request")
}

func addStorageFlags(f *pflag.FlagSet) {
	f.String("storage_type", string(backend.StorageTypeS3), "Object store backend (s3, memory)")
	f.String("storage_bucket", "uploads", "Bucket holding uploaded objects")
	f.String("storage_region", "us-east-1", "Object store region")
	f.String("storage_endpoint", "", "Custom S3 endpoint, e.g. http://minio:9000")
	f.String("storage_access_key", "", "Object store access key")
	f.String("storage_secret_key", "", "Object store secret key (prefer STORAGE_SECRET_KEY)")
	f.String("storage_role_arn", "", "IAM role to assume through STS for bucket access")
	f.String("storage_kms_key_id", "", "KMS key for SSE-KMS encryption of stored objects")
	f.Bool("storage_create_bucket", false, "Create the bucket at startup if it is missing")
}

func loadDBOpts(fl *FlagLoader) DBOpts {
	return DBOpts{
		Driver:       fl.String("db_driver"),
		DSN:          fl.String("db_dsn"),
		MaxOpenConns: fl.Int("db_max_open_conns"),
		MaxIdleConns: fl.Int("db_max_idle_conns"),
		TLSMode:      fl.String("db_tls_mode"),
		TLSCAFile:    fl.String("db_tls_ca_file"),
	}
}

func loadStorageOpts(fl *FlagLoader) StorageOpts {
	return StorageOpts{
		Type:         fl.String("storage_type"),
		Bucket:       fl.String("storage_bucket"),
		Region:       fl.String("storage_region"),
		Endpoint:     fl.String("storage_endpoint"),
		AccessKey:    fl.String("storage_access_key"),
		SecretKey:    fl.String("storage_secret_key"),
		RoleARN:      fl.String("storage_role_arn"),
		KMSKeyID:     fl.String("storage_kms_key_id"),
		CreateBucket: fl.Bool("storage_create_bucket"),
	}
}

// metadataDB bundles the store with the raw connection the task queue shares.
type metadataDB struct {
	db.DB

	// sqlDB and dialect are nil for the memory driver.
	sqlDB   *sql.DB
	dialect dbsql.Dialect
}

func openDB(opts DBOpts) (*metadataDB, error) {
	cfg := db.DefaultConfig(db.Driver(opts.Driver))
	cfg.DSN = opts.DSN
	if opts.MaxOpenConns > 0 {
		cfg.MaxOpenConns = opts.MaxOpenConns
	}
	if opts.MaxIdleConns > 0 {
		cfg.MaxIdleConns = opts.MaxIdleConns
	}

	switch cfg.Driver {
	case db.DriverMemory:
		logger.Warn().Msg("using in-memory metadata store; state is lost on restart")
		return &metadataDB{DB: memory.New()}, nil
	case db.DriverPostgres, db.DriverCockroach:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("db_dsn is required for driver %s", cfg.Driver)
		}
		pg, err := postgres.NewPostgres(cfg)
		if err != nil {
			return nil, err
		}
		return &metadataDB{DB: db.NewMetricsDB(pg), sqlDB: pg.SqlDB(), dialect: dbsql.PostgresDialect{}}, nil
	case db.DriverMySQL, db.DriverVitess:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("db_dsn is required for driver %s", cfg.Driver)
		}
		v, err := vitess.NewVitess(vitess.Config{
			Config:    cfg,
			TLSMode:   vitess.TLSMode(opts.TLSMode),
			TLSCAFile: opts.TLSCAFile,
		})
		if err != nil {
			return nil, err
		}
		return &metadataDB{DB: db.NewMetricsDB(v), sqlDB: v.SqlDB(), dialect: dbsql.MySQLDialect{}}, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", opts.Driver)
	}
}

// newQueue returns the durable task queue for SQL drivers and an in-process
// queue for the memory driver.
func (m *metadataDB) newQueue() (taskqueue.Queue, error) {
	if m.sqlDB == nil {
		return taskqueue.NewMemoryQueue(), nil
	}
	return taskqueue.NewDBQueue(taskqueue.DBQueueConfig{
		DB:      m.sqlDB,
		Dialect: m.dialect,
	})
}

func openObjectStore(ctx context.Context, opts StorageOpts) (backend.ObjectStore, error) {
	store, err := backend.New(backend.Config{
		Type:         backend.StorageType(opts.Type),
		Bucket:       opts.Bucket,
		Region:       opts.Region,
		Endpoint:     opts.Endpoint,
		AccessKey:    opts.AccessKey,
		SecretKey:    opts.SecretKey,
		RoleARN:      opts.RoleARN,
		KMSKeyID:     opts.KMSKeyID,
		CreateBucket: opts.CreateBucket,
	})
	if err != nil {
		return nil, err
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := store.EnsureBucket(checkCtx, opts.Bucket); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func newCoordinator(store db.RequestStore, maxAttempts int) (*idempotency.Coordinator, error) {
	return idempotency.New(idempotency.Config{
		Store:       store,
		MaxAttempts: maxAttempts,
	})
}

func startHTTPServer(handler http.Handler, ip string, port int) *http.Server {
	listener, err := utils.NewListener(utils.JoinHostPort(ip, port), 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create HTTP listener")
	}

	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("http_addr", utils.JoinHostPort(ip, port)).Msg("Starting HTTP server")
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()
	return httpServer
}

func waitForShutdown() {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	<-stopChan
}
