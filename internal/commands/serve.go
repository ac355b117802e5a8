package commands

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ipsentry/internal/acl"
	"ipsentry/internal/alert"
	"ipsentry/internal/block"
	"ipsentry/internal/constants"
	"ipsentry/internal/database"
	"ipsentry/internal/eventlog"
	"ipsentry/internal/handlers"
	"ipsentry/internal/kvcache"
	"ipsentry/internal/logger"
	"ipsentry/internal/notify"
	"ipsentry/internal/version"
	"ipsentry/internal/viewcache"
	"ipsentry/internal/web"
	"ipsentry/internal/webconfig"

	"golang.org/x/crypto/bcrypt"
)

func RunServe(args []string) int {
	// Load config
	cfg, err := webconfig.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		return 1
	}

	// CLI arg overrides
	portOverride := false
	initUser := ""
	initPass := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--port", "-p":
			if i+1 < len(args) {
				i++
				fmt.Sscanf(args[i], "%d", &cfg.Server.Port)
				portOverride = true
			}
		case "--bind", "-b":
			if i+1 < len(args) {
				i++
				cfg.Server.Bind = args[i]
			}
		case "--user", "-u":
			if i+1 < len(args) {
				i++
				initUser = args[i]
			}
		case "--password", "--pass":
			if i+1 < len(args) {
				i++
				initPass = args[i]
			}
		case "--debug":
			cfg.Log.Mode = "debug"
			cfg.Log.Level = "debug"
		}
	}

	// 如果用户通过 --port 指定了端口，保存到配置文件
	if portOverride {
		if err := webconfig.Save(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  保存配置文件失败: %v\n", err)
		} else {
			fmt.Printf("✓ 端口 %d 已保存到配置文件，下次启动将自动使用\n", cfg.Server.Port)
		}
	}

	// Init logger
	logger.Init(cfg.Log)
	logger.Log.Info().Str("version", version.Version).Msg("IPSentry 启动中...")

	// Init database
	if err := database.Init(cfg.Database, cfg.IsDebug()); err != nil {
		logger.Log.Fatal().Err(err).Msg("数据库初始化失败")
		return 1
	}
	defer database.Close()

	// 如果指定了 --user 和 --password，创建初始管理员用户
	if initUser != "" && initPass != "" {
		if code := createInitialAdmin(initUser, initPass); code != 0 {
			return code
		}
	}

	// 首次启动且未指定初始用户：自动创建管理员账户
	userRepo := database.NewUserRepo()
	generatedUser, generatedPass := "", ""
	if count, _ := userRepo.Count(); count == 0 {
		generatedUser = "admin"
		generatedPass = generateRandomPassword(10)
		hash, err := bcrypt.GenerateFromPassword([]byte(generatedPass), bcrypt.DefaultCost)
		if err == nil {
			if err := userRepo.Create(&database.User{
				Login:        generatedUser,
				PasswordHash: string(hash),
				Role:         constants.RoleAdmin,
			}); err == nil {
				logger.Log.Info().Msg("首次启动：已自动创建管理员账户 admin")
			} else {
				generatedUser, generatedPass = "", ""
			}
		}
	}

	// ── 核心引擎装配 ──
	// 共享键值缓存：水位线一份，告警全局间隔标记一份
	wmCache := kvcache.New[string, eventlog.Watermark]()
	gapCache := kvcache.New[string, string]()

	watermark := eventlog.NewWatermarkStore(wmCache)
	eventLog := eventlog.NewLog(watermark)

	matcher := acl.NewMatcher(eventLog)
	classifier := block.NewClassifier(matcher)
	eventLog.SetResolver(classifier)

	subStore := alert.NewStore()
	engine := alert.NewEngine(subStore, gapCache, time.Duration(cfg.Alert.GlobalGapSeconds)*time.Second)
	eventLog.SetEvaluator(engine)

	notifyMgr := notify.NewManager()
	notifyMgr.Reload(database.NewSettingRepo())
	engine.SetDispatcher(notifyMgr)

	// WebSocket Hub（管理端实时告警推送）
	wsHub := web.NewWSHub(cfg.Server.CORSOrigins)
	go wsHub.Run()
	engine.SetBroadcaster(wsHub)

	// 派生视图缓存（日志查询与仪表盘片段共用）
	views := viewcache.New(watermark)

	// 鉴权中间件的审计回调：JWT 失败计入事件日志
	web.SetAuthAuditFunc(func(r *http.Request, detail string) {
		logger.Auth.Warn().Str("ip", web.ClientIP(r)).Str("detail", detail).Msg("鉴权失败")
	})

	// 初始化处理器
	authHandler := handlers.NewAuthHandler(&cfg, eventLog)
	eventHandler := handlers.NewEventHandler(&cfg, eventLog, views)
	aclHandler := handlers.NewACLHandler(matcher, classifier, views)
	alertHandler := handlers.NewAlertHandler(subStore)
	dashboardHandler := handlers.NewDashboardHandler(&cfg, views)
	settingsHandler := handlers.NewSettingsHandler(notifyMgr)
	userHandler := handlers.NewUserHandler(subStore, eventLog)

	// 构建路由
	router := web.NewRouter()

	// 鉴权路由（无需登录）
	router.GET("/api/v1/auth/needs-setup", authHandler.NeedsSetup)
	router.POST("/api/v1/auth/setup", authHandler.Setup)
	router.POST("/api/v1/auth/login", authHandler.Login)
	router.POST("/api/v1/auth/logout", authHandler.Logout)

	// 鉴权路由（需登录）
	router.GET("/api/v1/auth/me", authHandler.Me)
	router.PUT("/api/v1/auth/password", authHandler.ChangePassword)

	// 总览
	router.GET("/api/v1/dashboard", dashboardHandler.Widget)

	// 事件日志
	router.GET("/api/v1/events", eventHandler.List)
	router.GET("/api/v1/events/{id}", eventHandler.Get)
	router.GET("/api/v1/events/stats", eventHandler.Stats)
	router.POST("/api/v1/events/delete", web.RequireAdmin(eventHandler.Delete))

	// 访问列表
	router.GET("/api/v1/acl", aclHandler.List)
	router.POST("/api/v1/acl", web.RequireAdmin(aclHandler.Add))
	router.POST("/api/v1/acl/remove", web.RequireAdmin(aclHandler.Remove))
	router.GET("/api/v1/acl/check", aclHandler.Check)
	router.POST("/api/v1/acl/lock", web.RequireAdmin(aclHandler.Lock))
	router.POST("/api/v1/acl/unlock", web.RequireAdmin(aclHandler.Unlock))

	// 告警订阅
	router.GET("/api/v1/alerts", alertHandler.List)
	router.POST("/api/v1/alerts", web.RequireAdmin(alertHandler.Create))
	router.POST("/api/v1/alerts/exists", alertHandler.Exists)
	router.DELETE("/api/v1/alerts/{id}", web.RequireAdmin(alertHandler.Delete))

	// 通知配置
	router.GET("/api/v1/settings/notify", settingsHandler.Get)
	router.PUT("/api/v1/settings/notify", web.RequireAdmin(settingsHandler.Update))
	router.POST("/api/v1/settings/notify/test", web.RequireAdmin(settingsHandler.TestNotify))

	// 用户管理
	router.GET("/api/v1/users", userHandler.List)
	router.POST("/api/v1/users", web.RequireAdmin(userHandler.Create))
	router.DELETE("/api/v1/users/{id}", web.RequireAdmin(userHandler.Delete))

	// WebSocket
	router.GET("/api/v1/ws", wsHub.HandleWS(cfg.Auth.JWTSecret))

	// 健康检查
	router.GET("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		web.OK(w, r, map[string]interface{}{
			"status":  "ok",
			"version": version.Version,
		})
	})

	skipAuthPaths := []string{
		"/api/v1/auth/login",
		"/api/v1/auth/setup",
		"/api/v1/auth/needs-setup",
		"/api/v1/health",
		"/api/v1/ws",
	}

	// 登录接口限流：每 IP 每分钟最多 10 次
	rlCtx, rlCancel := context.WithCancel(context.Background())
	defer rlCancel()
	loginLimiter := web.NewRateLimiter(10, time.Minute, rlCtx)
	rateLimitPaths := []string{"/api/v1/auth/login", "/api/v1/auth/setup"}

	handler := web.Chain(
		router,
		web.RecoveryMiddleware,
		web.SecurityHeadersMiddleware,
		web.RequestIDMiddleware,
		web.RequestLogMiddleware,
		web.CORSMiddleware(cfg.Server.CORSOrigins),
		web.MaxBodySizeMiddleware(2<<20), // 2 MB
		web.RateLimitMiddleware(loginLimiter, rateLimitPaths),
		web.AuthMiddleware(cfg.Auth.JWTSecret, skipAuthPaths),
		web.EventContextMiddleware,
		web.EnforcementMiddleware(classifier, eventLog),
	)

	// ── 后台维护定时器 ──
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	startMaintenance(bgCtx, cfg, views, eventLog, classifier, subStore, userRepo)

	// Warn if binding to non-loopback
	if cfg.Server.Bind != "127.0.0.1" && cfg.Server.Bind != "localhost" {
		logger.Log.Warn().
			Str("bind", cfg.Server.Bind).
			Msg("⚠️  Web 服务绑定到非回环地址，请确保已配置防火墙规则")
	}

	// 检测端口是否被占用
	testAddr := fmt.Sprintf("%s:%d", cfg.Server.Bind, cfg.Server.Port)
	ln, err := net.Listen("tcp", testAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\n❌ 端口 %d 已被占用，无法启动服务\n\n", cfg.Server.Port)
		fmt.Fprintf(os.Stderr, "解决方案：\n")
		fmt.Fprintf(os.Stderr, "  1. 关闭占用该端口的程序\n")
		fmt.Fprintf(os.Stderr, "  2. 使用 --port 参数指定其他端口：./ipsentry --port 18812\n")
		fmt.Fprintf(os.Stderr, "     (端口号会自动保存到配置文件，下次启动无需再次指定)\n\n")
		logger.Log.Error().Int("port", cfg.Server.Port).Err(err).Msg("端口被占用")
		return 1
	}
	ln.Close()

	addr := cfg.ListenAddr()
	logger.Log.Info().Str("addr", addr).Msg("Web 服务已启动")

	fmt.Printf("\nIPSentry %s\n", version.Version)
	fmt.Printf("  ➜ http://localhost:%d\n", cfg.Server.Port)
	if generatedUser != "" && generatedPass != "" {
		fmt.Printf("\n🔐 首次启动已自动创建管理员账户\n")
		fmt.Printf("   用户名: %s\n", generatedUser)
		fmt.Printf("   密码:   %s\n", generatedPass)
		fmt.Printf("⚠️  请登录后立即修改密码！\n\n")
	}

	// Graceful shutdown
	srv := &http.Server{Addr: addr, Handler: handler}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal().Err(err).Msg("服务启动失败")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Log.Info().Msg("正在关闭服务...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		srv.Close()
	}

	logger.Log.Info().Msg("服务已停止")
	return 0
}

// startMaintenance 启动四个低频维护循环：缓存预热、保留期清理、过期
// 封锁清理、过期订阅清理。
func startMaintenance(ctx context.Context, cfg webconfig.Config, views *viewcache.Cache,
	eventLog *eventlog.Log, classifier *block.Classifier, subStore *alert.Store,
	userRepo *database.UserRepo) {

	sweepEvery := time.Duration(cfg.Cache.SweepSeconds) * time.Second
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	go func() {
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				views.Sweep()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-cfg.RetentionWindow())
				if n, err := eventLog.PurgeOlderThan(cutoff); err != nil {
					logger.Event.Warn().Err(err).Msg("保留期清理失败")
				} else if n > 0 {
					views.Purge("")
					logger.Event.Info().Int64("purged", n).Msg("保留期清理完成")
				}

				if n, err := classifier.PurgeExpired(); err == nil && n > 0 {
					logger.ACL.Info().Int64("purged", n).Msg("过期封锁已清理")
				}

				userExists := func(id uint) bool {
					_, err := userRepo.FindByID(id)
					return err == nil
				}
				if n, err := subStore.PruneExpired(time.Now().UTC(), userExists); err == nil && n > 0 {
					logger.Alert.Info().Int("pruned", n).Msg("过期订阅已清理")
				}
			}
		}
	}()
}

func createInitialAdmin(login, password string) int {
	userRepo := database.NewUserRepo()
	count, _ := userRepo.Count()
	if count > 0 {
		fmt.Printf("ℹ️  已存在 %d 个用户，跳过初始用户创建\n", count)
		return 0
	}
	if len(password) < 6 {
		fmt.Fprintf(os.Stderr, "⚠️  密码至少 6 位\n")
		return 1
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  密码加密失败: %v\n", err)
		return 1
	}
	if err := userRepo.Create(&database.User{
		Login:        login,
		PasswordHash: string(hash),
		Role:         constants.RoleAdmin,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  创建初始用户失败: %v\n", err)
		return 1
	}
	fmt.Printf("✓ 初始管理员用户 '%s' 已创建\n", login)
	return 0
}
