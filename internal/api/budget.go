package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/public-sector-payments/internal/ledger"
	"github.com/sheikh-saqib/public-sector-payments/internal/models"
)

type commitmentRequest struct {
	AllocationID string          `json:"allocation_id" validate:"required"`
	Amount       decimal.Decimal `json:"amount" validate:"positive_decimal,minor_units"`
	Purpose      string          `json:"purpose" validate:"max=500"`
	Reference    string          `json:"reference" validate:"max=100"`
}

type availabilityRequest struct {
	AllocationID string          `json:"allocation_id" validate:"required"`
	Amount       decimal.Decimal `json:"amount" validate:"positive_decimal"`
}

func (s *Server) listAllocations(c *fiber.Ctx) error {
	allocations, err := s.ledger.ListAllocations(c.UserContext(), s.fiscalYear(c))
	if err != nil {
		return err
	}
	return ok(c, allocations, "")
}

func (s *Server) getAllocation(c *fiber.Ctx) error {
	allocation, err := s.ledger.GetAllocation(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return ok(c, allocation, "")
}

func (s *Server) createCommitment(c *fiber.Ctx) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	var req commitmentRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	commitment, err := s.ledger.Commit(c.UserContext(), ledger.CommitInput{
		AllocationID: req.AllocationID,
		Amount:       req.Amount,
		Purpose:      req.Purpose,
		Reference:    req.Reference,
		ActorID:      actorID,
	})
	if err != nil {
		return err
	}
	return created(c, commitment, "Budget commitment created successfully")
}

func (s *Server) listCommitments(c *fiber.Ctx) error {
	commitments, err := s.ledger.ListCommitments(c.UserContext(), models.CommitmentFilter{
		AllocationID: c.Query("allocationId"),
		Status:       models.CommitmentStatus(c.Query("status")),
	})
	if err != nil {
		return err
	}
	return ok(c, commitments, "")
}

func (s *Server) getCommitment(c *fiber.Ctx) error {
	commitment, err := s.ledger.GetCommitment(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return ok(c, commitment, "")
}

func (s *Server) releaseCommitment(c *fiber.Ctx) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	commitment, err := s.ledger.Release(c.UserContext(), c.Params("id"), actorID)
	if err != nil {
		return err
	}
	return ok(c, commitment, "Budget commitment released successfully")
}

func (s *Server) checkAvailability(c *fiber.Ctx) error {
	var req availabilityRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	availability, err := s.ledger.CheckAvailability(c.UserContext(), req.AllocationID, req.Amount)
	if err != nil {
		return err
	}
	return ok(c, availability, availability.Message)
}

func (s *Server) utilization(c *fiber.Ctx) error {
	rows, err := s.ledger.Utilization(c.UserContext(), s.fiscalYear(c))
	if err != nil {
		return err
	}
	return ok(c, rows, "")
}

func (s *Server) alerts(c *fiber.Ctx) error {
	alerts, err := s.ledger.Alerts(c.UserContext(), s.fiscalYear(c))
	if err != nil {
		return err
	}
	return ok(c, alerts, "")
}
