// Package api exposes the budget ledger, payment workflow and bulk processor
// over HTTP.
package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/public-sector-payments/internal/apperr"
	"github.com/sheikh-saqib/public-sector-payments/internal/bulk"
	"github.com/sheikh-saqib/public-sector-payments/internal/ledger"
	"github.com/sheikh-saqib/public-sector-payments/internal/payment"
)

// ActorHeader carries the acting user's ID on every mutating request.
const ActorHeader = "X-Actor-ID"

const maxUploadBytes = 10 << 20

type Server struct {
	ledger   *ledger.Ledger
	payments *payment.Workflow
	bulk     *bulk.Processor
	logger   *zap.Logger
	now      func() time.Time
}

func NewServer(l *ledger.Ledger, w *payment.Workflow, p *bulk.Processor, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{ledger: l, payments: w, bulk: p, logger: logger, now: time.Now}
}

// envelope is the body of every response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// App builds the fiber application with every route registered.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "public-sector-payments",
		BodyLimit:             maxUploadBytes,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(s.logRequests)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	root := app.Group("/api/public-sector")

	budget := root.Group("/budget")
	budget.Get("/allocations", s.listAllocations)
	budget.Get("/allocations/:id", s.getAllocation)
	budget.Get("/commitments", s.listCommitments)
	budget.Post("/commitments", s.createCommitment)
	budget.Get("/commitments/:id", s.getCommitment)
	budget.Post("/commitments/:id/release", s.releaseCommitment)
	budget.Post("/check-availability", s.checkAvailability)
	budget.Get("/utilization", s.utilization)
	budget.Get("/alerts", s.alerts)

	// Registered ahead of /payments/:id so "bulk" never matches as an ID.
	batches := root.Group("/payments/bulk")
	batches.Post("/upload", s.uploadBatch)
	batches.Get("/", s.listBatches)
	batches.Post("/:batchId/validate", s.validateBatch)
	batches.Post("/:batchId/execute", s.executeBatch)
	batches.Get("/:batchId/items", s.batchItems)
	batches.Get("/:batchId", s.getBatch)

	payments := root.Group("/payments")
	payments.Post("/initiate", s.initiatePayment)
	payments.Get("/pending-approval", s.pendingApprovals)
	payments.Get("/", s.listPayments)
	payments.Post("/:id/approve", s.approvePayment)
	payments.Post("/:id/reject", s.rejectPayment)
	payments.Get("/:id/approval-history", s.approvalHistory)
	payments.Get("/:id", s.getPayment)

	return app
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else {
			status = apperr.HTTPStatus(err)
		}
	}
	s.logger.Info("http request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.String("actor_id", c.Get(ActorHeader)),
		zap.Duration("duration", time.Since(start)))
	return err
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(envelope{Message: fe.Message})
	}

	status := apperr.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return c.Status(status).JSON(envelope{
		Code:    apperr.Code(err),
		Message: apperr.Message(err),
	})
}

func ok(c *fiber.Ctx, data any, message string) error {
	return c.Status(fiber.StatusOK).JSON(envelope{Success: true, Data: data, Message: message})
}

func created(c *fiber.Ctx, data any, message string) error {
	return c.Status(fiber.StatusCreated).JSON(envelope{Success: true, Data: data, Message: message})
}

func actor(c *fiber.Ctx) (string, error) {
	id := strings.TrimSpace(c.Get(ActorHeader))
	if id == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, ActorHeader+" header is required")
	}
	return id, nil
}

func (s *Server) fiscalYear(c *fiber.Ctx) int {
	return c.QueryInt("fiscalYear", s.now().Year())
}
