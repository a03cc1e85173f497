package router

import (
	"github.com/loyalty/points/internal/infrastructure/auth"
	"github.com/loyalty/points/internal/interfaces/http/handler"
	"github.com/loyalty/points/internal/interfaces/http/middleware"
)

// PointsHandlers are the handlers mounted under /api/v1
type PointsHandlers struct {
	Engine    *handler.EngineHandler
	Ledger    *handler.LedgerHandler
	Rules     *handler.RuleHandler
	Campaigns *handler.CampaignHandler
	RiskRules *handler.RiskRuleHandler
	Grants    *handler.GrantHandler
	Members   *handler.MemberHandler
	Dashboard *handler.DashboardHandler
	Outbox    *handler.OutboxHandler
	System    *handler.SystemHandler
}

// PointsRoutes builds the points API. Reads need the viewer or operator role,
// event intake and ledger writes need operator, configuration needs admin.
// Admins pass every check.
func PointsRoutes(h PointsHandlers) []*Resource {
	read := middleware.RequireAnyRole(auth.RoleViewer, auth.RoleOperator)
	operate := middleware.RequireRole(auth.RoleOperator)
	admin := middleware.RequireRole(auth.RoleAdmin)

	pts := NewResource("/points").
		POST("/events", operate, h.Engine.Evaluate).
		GET("/decisions", read, h.Engine.ListDecisions).
		GET("/balances/:userId", read, h.Ledger.Balance)

	pts.Nest("/ledger").
		GET("", read, h.Ledger.Query).
		GET("/export", read, h.Ledger.Export).
		GET("/:id", read, h.Ledger.GetRow).
		POST("/redeem", operate, h.Ledger.Redeem).
		POST("/:id/reverse", operate, h.Ledger.Reverse)

	pts.Config("/rules", h.Rules, read, admin)
	pts.Config("/campaigns", h.Campaigns, read, admin)
	pts.Config("/risk-rules", h.RiskRules, read, admin)

	pts.Nest("/blacklist").
		GET("/:userId", read, h.RiskRules.Blacklist).
		DELETE("/entries/:id", admin, h.RiskRules.LiftBlacklist)

	pts.Nest("/grants").
		POST("", operate, h.Grants.Submit).
		GET("", read, h.Grants.List).
		GET("/:id", read, h.Grants.Get).
		POST("/:id/cancel", operate, h.Grants.Cancel).
		POST("/:id/resume", operate, h.Grants.Resume)

	pts.Nest("/members").
		PUT("/:userId", operate, h.Members.Upsert).
		GET("/:userId", read, h.Members.Get)

	pts.Nest("/dashboard", read).
		GET("/overview", h.Dashboard.Overview).
		GET("/trend", h.Dashboard.Trend)

	sys := NewResource("/system").GET("/info", read, h.System.Info)
	if h.Outbox != nil {
		sys.Nest("/outbox", admin).
			GET("/parked", h.Outbox.Parked).
			POST("/parked/requeue", h.Outbox.RequeueAll).
			GET("/stats", h.Outbox.Stats).
			GET("/:id", h.Outbox.Entry).
			POST("/:id/requeue", h.Outbox.Requeue)
	}

	return []*Resource{pts, sys}
}
