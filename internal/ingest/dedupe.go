package ingest

import "github.com/sells-group/campaign-cli/internal/model"

// Dedupe drops repeated customer ids, keeping the first occurrence in sheet
// order. Each dropped row is reported as a failure echoing its raw cells.
func Dedupe(records []NormalizedRecord) ([]model.UploadRecord, []model.FailureRecord) {
	seen := make(map[string]struct{}, len(records))
	unique := make([]model.UploadRecord, 0, len(records))
	var duplicates []model.FailureRecord

	for _, nr := range records {
		if _, ok := seen[nr.Record.CustomerID]; ok {
			duplicates = append(duplicates, model.FailureRecord{
				Row:    nr.Record.ExcelRow,
				Reason: model.ReasonDuplicateCustomerID,
				Data:   model.FailureData{RawRow: nr.Raw},
			})
			continue
		}
		seen[nr.Record.CustomerID] = struct{}{}
		unique = append(unique, nr.Record)
	}

	return unique, duplicates
}
