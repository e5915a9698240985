package bulk

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/public-sector-payments/internal/models"
)

// Columns of a bulk payment file, after a header line.
const (
	colName = iota
	colAccount
	colBank
	colAmount
	colNarration
	colReference
	columnCount
)

// ReadRows parses a comma separated payment file. The first line is a
// header. Lines with fewer than six fields are skipped and an amount that
// does not parse becomes zero, which validation later rejects. Stray quotes
// inside unquoted fields are kept as text.
func ReadRows(r io.Reader) ([]models.PaymentRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	var (
		rows   []models.PaymentRow
		header = true
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read payment file: %w", err)
		}
		if header {
			header = false
			continue
		}
		if len(record) < columnCount {
			continue
		}

		amount, err := decimal.NewFromString(strings.TrimSpace(record[colAmount]))
		if err != nil {
			amount = decimal.Zero
		}
		rows = append(rows, models.PaymentRow{
			BeneficiaryName:    strings.TrimSpace(record[colName]),
			BeneficiaryAccount: strings.TrimSpace(record[colAccount]),
			BeneficiaryBank:    strings.TrimSpace(record[colBank]),
			Amount:             amount,
			Narration:          strings.TrimSpace(record[colNarration]),
			Reference:          strings.TrimSpace(record[colReference]),
		})
	}
	return rows, nil
}
