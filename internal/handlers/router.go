package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/olie-orders/internal/actions"
	"github.com/imrishuroy/olie-orders/internal/apperr"
	"github.com/imrishuroy/olie-orders/internal/auth"
	"github.com/imrishuroy/olie-orders/internal/checkout"
	"github.com/imrishuroy/olie-orders/internal/idempotency"
	"github.com/imrishuroy/olie-orders/internal/reconcile"
	"github.com/imrishuroy/olie-orders/internal/validation"
)

// Config groups the dependencies of the HTTP surface.
type Config struct {
	Actions       *actions.Service
	Reconciler    *reconcile.Reconciler
	Checkout      *checkout.Service
	Verifier      auth.Verifier
	Idempotency   *idempotency.Store // optional; enables Idempotency-Key on checkout
	WebhookSecret string
	Logger        *zap.Logger
	ServiceName   string
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg Config) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), Logger(log), CORS())
	RegisterRoutes(r, cfg)
	return r
}

// RegisterRoutes registers the function routes on r.
func RegisterRoutes(r *gin.Engine, cfg Config) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	v := validation.New()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "status": "ok", "service": cfg.ServiceName})
	})

	fn := r.Group("/functions/v1")
	fn.POST("/tiny-webhooks", webhookHandler(cfg.Reconciler, cfg.WebhookSecret, v))

	authed := fn.Group("", Authenticate(cfg.Verifier, log))
	a := cfg.Actions
	authed.POST("/"+actions.InvokerCreateOrder, invoke(a, actions.InvokerCreateOrder, a.CreateOrder))
	authed.POST("/"+actions.InvokerIssueNFe, invoke(a, actions.InvokerIssueNFe, a.IssueNFe))
	authed.POST("/"+actions.InvokerShippingLabel, invoke(a, actions.InvokerShippingLabel, a.CreateShippingLabel))
	authed.POST("/"+actions.InvokerShippingQuote, invoke(a, actions.InvokerShippingQuote, a.QuoteShipping))
	authed.POST("/"+actions.InvokerTrackShipment, invoke(a, actions.InvokerTrackShipment, a.TrackShipment))
	authed.POST("/"+actions.InvokerPaymentLink, invoke(a, actions.InvokerPaymentLink, a.CreatePaymentLink))
	authed.POST("/"+actions.InvokerOrderStatus, invoke(a, actions.InvokerOrderStatus, a.OrderStatus))
	authed.POST("/sandbox-checkout", checkoutHandler(cfg.Checkout, cfg.Idempotency, log))
}

// invoke adapts an invoker method to a gin handler. A body that does not
// decode is reported only after the caller passed the identity and role checks.
func invoke[Req any, Res any](a *actions.Service, name string, fn func(context.Context, *auth.Identity, Req) (Res, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Req
		if err := validation.Bind(c, &req); err != nil {
			if authErr := a.Authorize(name, identity(c)); authErr != nil {
				err = authErr
			}
			respondError(c, err)
			return
		}
		res, err := fn(c.Request.Context(), identity(c), req)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, res)
	}
}

func webhookHandler(rec *reconcile.Reconciler, secret string, v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret != "" && subtle.ConstantTimeCompare([]byte(c.GetHeader("X-Webhook-Secret")), []byte(secret)) != 1 {
			respondError(c, apperr.Unauthorized())
			return
		}
		var req validation.WebhookRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		out, err := rec.Reconcile(c.Request.Context(), reconcile.Event{
			Topic:       req.Topic,
			Event:       req.Event,
			EventID:     req.EventID,
			ProviderRef: req.ProviderRef,
			OrderNumber: req.OrderNumber,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, out)
	}
}

func checkoutHandler(svc *checkout.Service, idem *idempotency.Store, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := identity(c)

		var req validation.CheckoutRequest
		if err := validation.Bind(c, &req); err != nil {
			if id == nil {
				err = apperr.Unauthorized()
			}
			respondError(c, err)
			return
		}

		key := c.GetHeader("Idempotency-Key")
		if key == "" || idem == nil || id == nil {
			res, err := svc.Checkout(ctx, id, req)
			if err != nil {
				respondError(c, err)
				return
			}
			respondOK(c, res)
			return
		}

		// scope keys per user so two callers cannot replay each other
		key = id.UserID + ":" + key
		created, err := idem.CreateIfNotExists(ctx, key, "")
		if err != nil {
			respondError(c, apperr.Store(err))
			return
		}
		if !created {
			replay(c, idem, key)
			return
		}

		res, err := svc.Checkout(ctx, id, req)
		if err != nil {
			if mErr := idem.MarkFailed(ctx, key, apperr.Message(err)); mErr != nil {
				log.Error("mark idempotency failed", zap.String("idempotency_key", key), zap.Error(mErr))
			}
			respondError(c, err)
			return
		}
		body, err := envelope(res)
		if err != nil {
			respondError(c, err)
			return
		}
		raw, _ := json.Marshal(body)
		if err := idem.MarkDone(ctx, key, res.OrderID, string(raw), http.StatusOK); err != nil {
			log.Error("mark idempotency done", zap.String("idempotency_key", key), zap.Error(err))
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
	}
}

// replay answers a repeated Idempotency-Key with the first outcome.
func replay(c *gin.Context, idem *idempotency.Store, key string) {
	rec, err := idem.Get(c.Request.Context(), key)
	if err != nil {
		respondError(c, apperr.Store(err))
		return
	}
	if rec == nil {
		respondError(c, apperr.Conflict("idempotency record expired, retry"))
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			return
		}
		respondOK(c, gin.H{"orderId": rec.OrderID})
	case idempotency.StatusInProgress:
		respondError(c, apperr.Conflict("request already in progress"))
	default:
		respondError(c, apperr.Conflict("previous attempt failed"))
	}
}
