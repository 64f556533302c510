// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"geo-survey/internal/annotate"
	"geo-survey/internal/api"
	"geo-survey/internal/geo"
	"geo-survey/internal/identity"
	"geo-survey/internal/logger"
	"geo-survey/internal/metrics"
	"geo-survey/internal/middleware"
	"geo-survey/internal/migrate"
	"geo-survey/internal/store"
	"geo-survey/internal/tasks"
	"geo-survey/internal/utils"
	"geo-survey/internal/version"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok")
	apiBase := strings.TrimSuffix(utils.EnvOr("API_BASE", "/api"), "/")
	l.Debug("config_api_base", "base", apiBase)
	ui := utils.EnvOr("UI_DIST", filepath.Join("ui", "dist"))
	l.Debug("config_ui_dir", "dir", ui)

	catalog := tasks.Default()
	if p := os.Getenv("TASKS_PATH"); p != "" {
		c, err := tasks.LoadFile(p)
		if err != nil {
			l.Error("tasks_load_error", "path", p, "err", err)
			os.Exit(1)
		}
		catalog = c
	}
	l.Info("tasks_ready", "count", catalog.Len())

	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	l.Info("db_open_ok")
	if err := db.Ping(); err != nil {
		l.Error("db_ping_error", "err", err)
	} else {
		l.Info("db_ping_ok")
	}
	if err := migrate.EnsureSchema(db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}
	st := store.AttachDB(db, catalog)

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		if err := rc.Ping(context.Background()).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
		st.WithRedis(rc, utils.EnvSeconds("SESSION_CACHE_TTL_S", 0))
	}

	def := geo.DefaultViewport()
	fallback := geo.Viewport{
		Center: geo.LatLng{Lat: utils.EnvFloat("MAP_DEFAULT_LAT", def.Center.Lat), Lng: utils.EnvFloat("MAP_DEFAULT_LNG", def.Center.Lng)},
		Zoom:   utils.EnvInt("MAP_DEFAULT_ZOOM", def.Zoom),
	}
	cookieName := utils.EnvOr("SESSION_COOKIE", identity.DefaultKey)
	tlsOn := utils.EnvBool("TLS_ENABLE", false)
	reviewers := middleware.NewAllowlistFromEnv(l)
	if reviewers.Enabled() {
		l.Info("gallery_allowlist_enabled")
	}

	// 文档注释：构建路由
	// 背景：控制器注册表保存各会话未提交的工作集；会话标识首次生成时立即建立会话文档。
	apiMux := api.BuildRoutes(api.Deps{
		Backend:      st,
		Catalog:      catalog,
		Registry:     annotate.NewRegistry(utils.EnvInt("CONTROLLER_CACHE_SIZE", 4096), utils.EnvSeconds("CONTROLLER_TTL_S", 0)),
		Identity:     identity.NewProvider(cookieName, st.EnsureSession),
		Fallback:     fallback,
		SecureCookie: tlsOn,
		Reviewer:     reviewers.Wrap,
	})
	mux := http.NewServeMux()
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))
	mux.Handle(apiBase+"/metrics", metrics.Handler())

	fs := http.FileServer(http.Dir(ui))
	mux.Handle("/", fs)

	// NOTE: 向前端暴露 API 基础路径与地图默认视口，避免硬编码
	mux.HandleFunc("/config.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/javascript; charset=utf-8")
		w.Header().Set("cache-control", "no-store")
		_, _ = fmt.Fprintf(w, "window.__API_BASE__='%s'\n", apiBase)
		_, _ = fmt.Fprintf(w, "window.__MAP_DEFAULT__={lat:%g,lng:%g,zoom:%d}\n", fallback.Center.Lat, fallback.Center.Lng, fallback.Zoom)
		_, _ = fmt.Fprintf(w, "window.__TASK_COUNT__=%d\n", catalog.Len())
		_, _ = fmt.Fprintf(w, "window.__COMMIT_SHA__='%s'", version.Commit)
	})

	addr := utils.EnvOr("ADDR", ":8080")
	handler := logger.AccessMiddleware(l, cookieName)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: addr, Handler: handler}
	if tlsOn {
		certPath := utils.EnvOr("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt"))
		keyPath := utils.EnvOr("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key"))
		if err := utils.EnsureSelfSignedCert(certPath, keyPath, "geo-survey.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		l.Info("listening_tls", "addr", addr, "cert", certPath)
		if err := s.ListenAndServeTLS(certPath, keyPath); err != nil {
			l.Error("server_error", "err", err)
		}
		return
	}
	l.Info("listening", "addr", addr)
	if err := s.ListenAndServe(); err != nil {
		l.Error("server_error", "err", err)
	}
}
