package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pryv/bridge-thryve/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	// ヘルスチェック
	HealthChecker HealthChecker

	// ユーザー登録・照会
	RegistrationService RegistrationServiceInterface
	UserLinkFinder      UserLinkFinder
	UserInfoFetcher     UserInfoFetcher
	EndpointValidator   EndpointValidator

	// トリガー
	TriggerService TriggerServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware → RateLimitMiddleware(GeneralMiddleware)
//
// ヘルスチェック（/health）はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	userHandler := NewUserHandler(
		deps.RegistrationService,
		deps.UserLinkFinder,
		deps.UserInfoFetcher,
		deps.EndpointValidator,
		deps.Logger,
	)
	triggerHandler := NewTriggerHandler(deps.TriggerService, deps.Logger)
	healthHandler := NewHealthHandler(deps.HealthChecker)

	// ヘルスチェック（レート制限なし）
	r.Get("/health", healthHandler.Health)

	// --- レート制限付きのAPIルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// POST /user - ユーザー登録（登録専用レート制限を追加）
		r.With(deps.RateLimiter.RegistrationMiddleware()).Post("/user", userHandler.Register)

		// GET /user/thryve - Thryve側接続状態の照会
		r.Get("/user/thryve", userHandler.Status)

		// POST /trigger - Thryveのwebhook通知
		r.Post("/trigger", triggerHandler.HandleTrigger)
	})

	return r
}
