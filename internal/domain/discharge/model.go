package discharge

import (
	"time"

	"github.com/google/uuid"
)

// Reasons reported when discharge is not allowed, in evaluation order.
const (
	ReasonBillingNotCreated = "billing not created"
	ReasonUnsettledBalance  = "unsettled balance"
	ReasonRecordNotLocked   = "medical record not locked"
)

// Eligibility is the outcome of the discharge gate.
type Eligibility struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Summary maps to the discharge_summary table. It is never updated.
type Summary struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	VisitID            uuid.UUID  `db:"visit_id" json:"visit_id"`
	FinalDiagnosis     string     `db:"final_diagnosis" json:"final_diagnosis"`
	DischargeCondition string     `db:"discharge_condition" json:"discharge_condition"`
	Instructions       string     `db:"instructions" json:"instructions,omitempty"`
	FollowUpDate       *time.Time `db:"follow_up_date" json:"follow_up_date,omitempty"`
	DischargedAt       time.Time  `db:"discharged_at" json:"discharged_at"`
	CreatedBy          string     `db:"created_by" json:"created_by"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
}

type SummaryInput struct {
	FinalDiagnosis     string     `json:"final_diagnosis" validate:"required,max=500"`
	DischargeCondition string     `json:"discharge_condition" validate:"required,oneof=recovered improved unchanged referred against_advice deceased"`
	Instructions       string     `json:"instructions" validate:"max=2000"`
	FollowUpDate       *time.Time `json:"follow_up_date,omitempty"`
}
