package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/printforge/internal/ingest"
	platformdomain "github.com/smallbiznis/printforge/internal/platform/domain"
	"github.com/smallbiznis/printforge/internal/reconciler"
	shopdomain "github.com/smallbiznis/printforge/internal/shop/domain"
	"go.uber.org/zap"
)

// handleOrderPaid accepts the platform's "order paid" webhook. The
// response is 200 for everything the handler understood, including
// duplicates and unparseable payloads; 5xx is reserved for faults the
// platform should retry.
func (s *Server) handleOrderPaid(c *gin.Context) {
	shopDomain := strings.TrimSpace(c.GetHeader("X-Platform-Shop-Domain"))
	webhookID := strings.TrimSpace(c.GetHeader("X-Platform-Webhook-Id"))
	c.Set("shop_domain", shopDomain)

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	result, err := s.ingestSvc.Ingest(c.Request.Context(), shopDomain, webhookID, payload, c.Request.Header)
	if err != nil {
		switch {
		case errors.Is(err, platformdomain.ErrInvalidSignature):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		case errors.Is(err, shopdomain.ErrShopNotFound):
			// Unknown shop is unrecoverable for this delivery; a 200
			// stops the platform from retrying forever.
			c.JSON(http.StatusOK, ingest.Result{Processed: false, Reason: "unknown_shop"})
		default:
			s.log.Error("webhook ingestion failed",
				zap.String("shop_domain", shopDomain),
				zap.String("webhook_id", webhookID),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleProviderCallback accepts print-provider status callbacks.
// Unknown orders still return 200 so the provider does not redeliver.
func (s *Server) handleProviderCallback(c *gin.Context) {
	shopDomain := strings.TrimSpace(c.Param("shop_domain"))
	c.Set("shop_domain", shopDomain)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if !reconciler.VerifySignature(s.cfg.ProviderWebhookSecret, body, c.Request.Header) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	topic := strings.TrimSpace(c.GetHeader("X-Pfy-Topic"))
	event, topic, err := reconciler.ParseEvent(body, topic)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
		return
	}

	shop, err := s.shops.GetByDomain(c.Request.Context(), shopDomain)
	if err != nil {
		if errors.Is(err, shopdomain.ErrShopNotFound) || errors.Is(err, shopdomain.ErrInvalidDomain) {
			s.log.Warn("provider callback for unknown shop",
				zap.String("shop_domain", shopDomain),
				zap.String("topic", topic),
			)
			c.JSON(http.StatusOK, reconciler.Outcome{Action: reconciler.ActionSkipped})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	outcome, err := s.reconciler.ProcessEvent(c.Request.Context(), shop, topic, event)
	if err != nil {
		s.log.Error("provider callback processing failed",
			zap.String("shop_domain", shopDomain),
			zap.String("topic", topic),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, outcome)
}
