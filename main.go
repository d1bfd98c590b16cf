// @title MedCap API
// @version 1.0
// @description 医院影像采集与病历文件管理
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.swagger.io/support
// @contact.email support@swagger.io

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// @externalDocs.description OpenAPI
// @externalDocs.url https://swagger.io/resources/open-api/
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/weiwangfds/medcap/internal/bootstrap"
	"github.com/weiwangfds/medcap/internal/logger"
	"github.com/weiwangfds/medcap/internal/middleware"
	"github.com/weiwangfds/medcap/internal/router"
	"golang.org/x/net/http2"
)

func main() {
	// 加载配置并初始化日志
	cfg, err := bootstrap.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库、存储、会话与邮件
	app, err := bootstrap.Open(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}
	defer app.Close()

	// 初始化中间件
	loggerMiddleware := middleware.NewLoggerMiddleware()

	// 初始化路由
	r := router.NewRouter(loggerMiddleware, router.Dependencies{
		DB:       app.DB,
		Store:    app.Store,
		JWT:      app.JWT,
		Sessions: app.Sessions,
		Mailer:   app.Mailer,
	}, cfg)

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      r.GetEngine(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	if cfg.Server.EnableHTTPS {
		srv.TLSConfig = &tls.Config{
			NextProtos: []string{"h2", "http/1.1"}, // 支持HTTP/2和HTTP/1.1
		}
		// 如果启用HTTP/2，配置HTTP/2支持
		if cfg.Server.EnableHTTP2 {
			if err := http2.ConfigureServer(srv, &http2.Server{}); err != nil {
				logger.Fatalf("配置HTTP/2失败: %v", err)
			}
		}
	}

	go func() {
		var err error
		if cfg.Server.EnableHTTPS {
			logger.Infof("HTTPS服务器启动在端口 %d (HTTP/2: %v)", cfg.Server.Port, cfg.Server.EnableHTTP2)
			err = srv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			logger.Infof("HTTP服务器启动在端口 %d", cfg.Server.Port)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务器...")

	// 优雅关闭服务器
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("服务器强制关闭: %v", err)
	}

	logger.Info("服务器已退出")
}
