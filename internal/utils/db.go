package utils

import (
	"database/sql"
	"net/url"
	"os"

	_ "github.com/lib/pq"
)

// BuildPostgresDSNFromEnv：由 PG_* 环境变量拼装连接串；PG_DSN 存在时直接使用
func BuildPostgresDSNFromEnv() string {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		return dsn
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   EnvOr("PG_HOST", "localhost") + ":" + EnvOr("PG_PORT", "5432"),
		Path:   "/" + EnvOr("PG_DB", "geosurvey"),
	}
	user := EnvOr("PG_USER", "postgres")
	if pass := os.Getenv("PG_PASSWORD"); pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}
	q := url.Values{}
	q.Set("sslmode", EnvOr("PG_SSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

// OpenPostgres：打开连接池并设置连接数上限
func OpenPostgres(dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	return db, nil
}

// OpenPostgresFromEnv：按环境变量打开连接池；PG_MAX_OPEN_CONNS/PG_MAX_IDLE_CONNS 解析失败时回退默认值
func OpenPostgresFromEnv() (*sql.DB, error) {
	return OpenPostgres(BuildPostgresDSNFromEnv(), EnvInt("PG_MAX_OPEN_CONNS", 20), EnvInt("PG_MAX_IDLE_CONNS", 10))
}
