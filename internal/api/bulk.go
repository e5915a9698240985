package api

import (
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/public-sector-payments/internal/bulk"
	"github.com/sheikh-saqib/public-sector-payments/internal/models"
)

// uploadForm holds the multipart fields sent alongside the payment file.
type uploadForm struct {
	BatchID            string `form:"batch_id" validate:"max=64"`
	AccountID          string `form:"account_id" validate:"required"`
	Currency           string `form:"currency" validate:"omitempty,len=3"`
	BudgetAllocationID string `form:"budget_allocation_id"`
}

func (s *Server) uploadBatch(c *fiber.Ctx) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	var form uploadForm
	if err := parseBody(c, &form); err != nil {
		return err
	}
	header, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "No file uploaded")
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		return fiber.NewError(fiber.StatusBadRequest, "Only CSV files are supported")
	}

	file, err := header.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Uploaded file could not be read")
	}
	defer file.Close()

	batch, err := s.bulk.UploadFile(c.UserContext(), bulk.UploadInput{
		BatchID:            form.BatchID,
		AccountID:          form.AccountID,
		UploadedBy:         actorID,
		FileName:           header.Filename,
		Currency:           form.Currency,
		BudgetAllocationID: form.BudgetAllocationID,
	}, file)
	if err != nil {
		return err
	}
	return created(c, batch, "Bulk payment file uploaded successfully")
}

func (s *Server) validateBatch(c *fiber.Ctx) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	summary, err := s.bulk.Validate(c.UserContext(), c.Params("batchId"), actorID)
	if err != nil {
		return err
	}
	return ok(c, summary, "Validation completed")
}

func (s *Server) executeBatch(c *fiber.Ctx) error {
	actorID, err := actor(c)
	if err != nil {
		return err
	}
	summary, err := s.bulk.Execute(c.UserContext(), c.Params("batchId"), actorID)
	if err != nil {
		if summary.BatchID == "" {
			return err
		}
		// Interrupted: items not yet paid stay Validated for the next run.
		s.logger.Warn("bulk execution interrupted",
			zap.String("batch_id", summary.BatchID),
			zap.Int("remaining", summary.RemainingCount),
			zap.Error(err))
		return c.Status(fiber.StatusAccepted).JSON(envelope{
			Success: false,
			Data:    summary,
			Message: "Bulk payment execution interrupted",
		})
	}
	return ok(c, summary, "Bulk payment execution completed")
}

func (s *Server) getBatch(c *fiber.Ctx) error {
	detail, err := s.bulk.GetBatch(c.UserContext(), c.Params("batchId"))
	if err != nil {
		return err
	}
	return ok(c, detail, "")
}

func (s *Server) batchItems(c *fiber.Ctx) error {
	items, err := s.bulk.Items(c.UserContext(), c.Params("batchId"))
	if err != nil {
		return err
	}
	return ok(c, items, "")
}

func (s *Server) listBatches(c *fiber.Ctx) error {
	batches, err := s.bulk.ListBatches(c.UserContext(), models.BatchStatus(c.Query("status")))
	if err != nil {
		return err
	}
	return ok(c, batches, "")
}
