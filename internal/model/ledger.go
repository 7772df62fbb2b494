package model

import "time"

// Counts is the per-cycle set of pipeline counters staged into the ledger.
// Pointer fields: nil means "not produced by this stage" and is never
// written over an existing value.
type Counts struct {
	TotalUploaded      *int            `json:"totalUploaded,omitempty"`
	TotalValidatedData *int            `json:"totalValidatedData,omitempty"`
	DuplicatesCount    *int            `json:"duplicatesCount,omitempty"`
	DuplicatesData     []FailureRecord `json:"duplicatesData,omitempty"`

	CustomersValidated    *int            `json:"customersValidated,omitempty"`
	CustomersFailed       *int            `json:"customersFailed,omitempty"`
	InvalidCustomersCount *int            `json:"invalidCustomersCount,omitempty"`
	InvalidCustomersData  []FailureRecord `json:"invalidCustomersData,omitempty"`
	ValidationCompletedAt *time.Time      `json:"validationCompletedAt,omitempty"`
}

// CampaignLedger is the per-campaign aggregate document. Primary holds the
// numbers from the last fully completed cycle (through dialer export);
// Pending stages a new cycle's numbers until that cycle's export completes.
type CampaignLedger struct {
	CampaignID   string  `json:"campaignId"`
	CampaignName *string `json:"campaignName,omitempty"`
	DNCEnabled   bool    `json:"dncEnabled"`

	Primary Counts  `json:"primary"`
	Pending *Counts `json:"pending,omitempty"`

	// Dialer export results live outside the shadow scheme: writing them is
	// what completes a cycle.
	UploadedToDialer      int             `json:"uploadedToDialer"`
	UploadToDialerFailed  int             `json:"uploadToDialerFailed"`
	DialerDuplicatesCount int             `json:"dialerDuplicatesCount"`
	DialerDuplicatesData  []FailureRecord `json:"dialerDuplicatesData,omitempty"`
	DialerJobID           *string         `json:"dialerJobId,omitempty"`

	FileURL          *string `json:"fileUrl,omitempty"`
	FileName         *string `json:"fileName,omitempty"`
	OriginalFileName *string `json:"originalFileName,omitempty"`
	UploadedBy       *string `json:"uploadedBy,omitempty"`

	SelectedAt        *time.Time `json:"selectedAt,omitempty"`
	ExcelUploadedAt   *time.Time `json:"excelUploadedAt,omitempty"`
	LastUploadAt      *time.Time `json:"lastUploadAt,omitempty"`
	DialerCompletedAt *time.Time `json:"dialerCompletedAt,omitempty"`
}

// HasCompletedCycle reports whether the campaign has ever finished a full
// flow through the dialer export. Once true, new-cycle counts must be staged
// into Pending so the primary numbers keep showing the last completed run.
func (l CampaignLedger) HasCompletedCycle() bool {
	return l.DialerCompletedAt != nil || l.UploadedToDialer > 0
}

// Stage merges new counts into the ledger. When a prior completed cycle
// exists the counts land in Pending; otherwise they merge into Primary.
// The input ledger is not mutated.
func Stage(ledger CampaignLedger, counts Counts) CampaignLedger {
	if ledger.HasCompletedCycle() {
		pending := Counts{}
		if ledger.Pending != nil {
			pending = *ledger.Pending
		}
		merged := mergeCounts(pending, counts)
		ledger.Pending = &merged
		return ledger
	}
	ledger.Primary = mergeCounts(ledger.Primary, counts)
	return ledger
}

// Promote moves every defined pending field into the primary set and clears
// the shadow. Called exactly once per cycle, by the dialer export on success.
func Promote(ledger CampaignLedger) CampaignLedger {
	if ledger.Pending == nil {
		return ledger
	}
	ledger.Primary = mergeCounts(ledger.Primary, *ledger.Pending)
	ledger.Pending = nil
	return ledger
}

func mergeCounts(dst, src Counts) Counts {
	if src.TotalUploaded != nil {
		dst.TotalUploaded = src.TotalUploaded
	}
	if src.TotalValidatedData != nil {
		dst.TotalValidatedData = src.TotalValidatedData
	}
	if src.DuplicatesCount != nil {
		dst.DuplicatesCount = src.DuplicatesCount
		dst.DuplicatesData = src.DuplicatesData
	}
	if src.CustomersValidated != nil {
		dst.CustomersValidated = src.CustomersValidated
	}
	if src.CustomersFailed != nil {
		dst.CustomersFailed = src.CustomersFailed
	}
	if src.InvalidCustomersCount != nil {
		dst.InvalidCustomersCount = src.InvalidCustomersCount
		dst.InvalidCustomersData = src.InvalidCustomersData
	}
	if src.ValidationCompletedAt != nil {
		dst.ValidationCompletedAt = src.ValidationCompletedAt
	}
	return dst
}

// LedgerPatch is a merge-patch applied by Store.UpsertLedger. Nil fields are
// left untouched. Counts staging and promotion are expressed through the
// Stage/Promote fields so the read-modify-write happens inside the store
// transaction.
type LedgerPatch struct {
	CampaignName *string
	DNCEnabled   *bool

	Stage   *Counts // staged via model.Stage under the shadow rules
	Promote bool    // apply model.Promote before other fields

	UploadedToDialer      *int
	UploadToDialerFailed  *int
	DialerDuplicatesCount *int
	DialerDuplicatesData  []FailureRecord
	DialerJobID           *string

	FileURL          *string
	FileName         *string
	OriginalFileName *string
	UploadedBy       *string

	SelectedAt        *time.Time
	ExcelUploadedAt   *time.Time
	LastUploadAt      *time.Time
	DialerCompletedAt *time.Time
}

// ApplyPatch merges a patch into a ledger. Promotion runs first so an
// export's own counts land after the pending set has been promoted.
func ApplyPatch(ledger CampaignLedger, patch LedgerPatch) CampaignLedger {
	if patch.Promote {
		ledger = Promote(ledger)
	}
	if patch.Stage != nil {
		ledger = Stage(ledger, *patch.Stage)
	}
	if patch.CampaignName != nil {
		ledger.CampaignName = patch.CampaignName
	}
	if patch.DNCEnabled != nil {
		ledger.DNCEnabled = *patch.DNCEnabled
	}
	if patch.UploadedToDialer != nil {
		ledger.UploadedToDialer = *patch.UploadedToDialer
	}
	if patch.UploadToDialerFailed != nil {
		ledger.UploadToDialerFailed = *patch.UploadToDialerFailed
	}
	if patch.DialerDuplicatesCount != nil {
		ledger.DialerDuplicatesCount = *patch.DialerDuplicatesCount
		ledger.DialerDuplicatesData = patch.DialerDuplicatesData
	}
	if patch.DialerJobID != nil {
		ledger.DialerJobID = patch.DialerJobID
	}
	if patch.FileURL != nil {
		ledger.FileURL = patch.FileURL
	}
	if patch.FileName != nil {
		ledger.FileName = patch.FileName
	}
	if patch.OriginalFileName != nil {
		ledger.OriginalFileName = patch.OriginalFileName
	}
	if patch.UploadedBy != nil {
		ledger.UploadedBy = patch.UploadedBy
	}
	if patch.SelectedAt != nil {
		ledger.SelectedAt = patch.SelectedAt
	}
	if patch.ExcelUploadedAt != nil {
		ledger.ExcelUploadedAt = patch.ExcelUploadedAt
	}
	if patch.LastUploadAt != nil {
		ledger.LastUploadAt = patch.LastUploadAt
	}
	if patch.DialerCompletedAt != nil {
		ledger.DialerCompletedAt = patch.DialerCompletedAt
	}
	return ledger
}
