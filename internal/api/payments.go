package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/public-sector-payments/internal/models"
	"github.com/sheikh-saqib/public-sector-payments/internal/payment"
)

type initiateRequest struct {
	AccountID          string             `json:"account_id" validate:"required"`
	BudgetAllocationID string             `json:"budget_allocation_id"`
	Amount             decimal.Decimal    `json:"amount" validate:"positive_decimal,minor_units"`
	Currency           string             `json:"currency" validate:"omitempty,len=3"`
	Beneficiary        models.Beneficiary `json:"beneficiary"`
	Purpose            string             `json:"purpose" validate:"required,max=500"`
	Reference          string             `json:"reference" validate:"max=100"`
	PaymentType        string             `json:"payment_type"`
}

// approveRequest names the level being approved, so a decision made on a
// stale read is rejected rather than applied to the next level.
type approveRequest struct {
	Level    int    `json:"level" validate:"required,min=1"`
	Comments string `json:"comments" validate:"max=1000"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

func (s *Server) initiatePayment(c *fiber.Ctx) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	var req initiateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	p, err := s.payments.Initiate(c.UserContext(), payment.InitiateInput{
		InitiatorID:        actorID,
		AccountID:          req.AccountID,
		BudgetAllocationID: req.BudgetAllocationID,
		Amount:             req.Amount,
		Currency:           req.Currency,
		Beneficiary:        req.Beneficiary,
		Purpose:            req.Purpose,
		Reference:          req.Reference,
		PaymentType:        req.PaymentType,
	})
	if err != nil {
		return err
	}
	return created(c, p, "Payment request initiated successfully")
}

func (s *Server) pendingApprovals(c *fiber.Ctx) error {
	payments, err := s.payments.PendingApprovals(c.UserContext(), c.QueryInt("level", 0))
	if err != nil {
		return err
	}
	return ok(c, payments, "")
}

func (s *Server) listPayments(c *fiber.Ctx) error {
	payments, err := s.payments.List(c.UserContext(), models.PaymentFilter{
		Status: models.PaymentStatus(c.Query("status")),
		Level:  c.QueryInt("level", 0),
	})
	if err != nil {
		return err
	}
	return ok(c, payments, "")
}

func (s *Server) approvePayment(c *fiber.Ctx) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	var req approveRequest
	if len(c.Body()) == 0 {
		err = validateStruct(&req)
	} else {
		err = parseBody(c, &req)
	}
	if err != nil {
		return err
	}

	p, err := s.payments.ApproveAtLevel(c.UserContext(), c.Params("id"), req.Level, actorID, req.Comments)
	if err != nil {
		return err
	}

	message := "Payment approved at this level"
	if p.Status == models.PaymentApproved {
		message = "Payment fully approved"
	}
	return ok(c, p, message)
}

func (s *Server) rejectPayment(c *fiber.Ctx) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	var req rejectRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	p, err := s.payments.Reject(c.UserContext(), c.Params("id"), actorID, req.Reason)
	if err != nil {
		return err
	}
	return ok(c, p, "Payment rejected")
}

func (s *Server) approvalHistory(c *fiber.Ctx) error {
	history, err := s.payments.ApprovalHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return ok(c, history, "")
}

func (s *Server) getPayment(c *fiber.Ctx) error {
	p, err := s.payments.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return ok(c, p, "")
}
