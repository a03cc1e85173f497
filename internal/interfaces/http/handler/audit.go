package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/loyalty/points/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// auditLog records an admin mutation with the acting operator and the
// before/after snapshots returned by the service
func auditLog(c *gin.Context, action, resource string, target any, before, after any) {
	logger.GetGinLogger(c).Info("Audit",
		zap.String("audit_action", action),
		zap.String("audit_resource", resource),
		zap.Any("audit_target", target),
		zap.String("operator", operator(c)),
		zap.Any("before", before),
		zap.Any("after", after),
	)
}
