package domain

type ChecklistType string

const (
	TypeContent    ChecklistType = "Content"
	TypeSEO        ChecklistType = "SEO"
	TypeWeb        ChecklistType = "Web"
	TypeSMM        ChecklistType = "SMM"
	TypeAnalytics  ChecklistType = "Analytics"
	TypeBacklink   ChecklistType = "Backlink"
	TypeCompetitor ChecklistType = "Competitor"
	TypeRepository ChecklistType = "Repository"
	TypeOther      ChecklistType = "Other"
)

type ChecklistStatus string

const (
	ChecklistActive   ChecklistStatus = "active"
	ChecklistInactive ChecklistStatus = "inactive"
)

type ScoringMode string

const (
	ScoringBinary   ScoringMode = "Binary"
	ScoringWeighted ScoringMode = "Weighted"
)

type OutputType string

const (
	OutputPercentage     OutputType = "Percentage"
	OutputPassFail       OutputType = "PassFail"
	OutputPassReworkFail OutputType = "PassReworkFail"
)

// Severity High is what reviewers call a critical item.
type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

type ItemOutcome string

const (
	ItemPass ItemOutcome = "Pass"
	ItemFail ItemOutcome = "Fail"
)

type AssetStatus string

const (
	StatusDraft           AssetStatus = "Draft"
	StatusPendingQCReview AssetStatus = "PendingQCReview"
	StatusQCApproved      AssetStatus = "QCApproved"
	StatusQCRejected      AssetStatus = "QCRejected"
	StatusReworkRequired  AssetStatus = "ReworkRequired"
)

type QCStatus string

const (
	QCPass   QCStatus = "Pass"
	QCFail   QCStatus = "Fail"
	QCRework QCStatus = "Rework"
)

// Outcome is the final decision of a review. It shares values with QCStatus.
type Outcome = QCStatus

const (
	OutcomePass   = QCPass
	OutcomeFail   = QCFail
	OutcomeRework = QCRework
)

type RequestedDecision string

const (
	RequestApproved RequestedDecision = "Approved"
	RequestRejected RequestedDecision = "Rejected"
	RequestRework   RequestedDecision = "Rework"
)

type Checklist struct {
	ID                         string          `json:"id"`
	Name                       string          `json:"name" validate:"required"`
	Type                       ChecklistType   `json:"type" validate:"required,oneof=Content SEO Web SMM Analytics Backlink Competitor Repository Other" enum:"Content,SEO,Web,SMM,Analytics,Backlink,Competitor,Repository,Other"`
	Category                   string          `json:"category" validate:"required"`
	Status                     ChecklistStatus `json:"status" validate:"required,oneof=active inactive" enum:"active,inactive"`
	ScoringMode                ScoringMode     `json:"scoring_mode" validate:"required,oneof=Binary Weighted" enum:"Binary,Weighted"`
	OutputType                 OutputType      `json:"qc_output_type" validate:"required,oneof=Percentage PassFail PassReworkFail" enum:"Percentage,PassFail,PassReworkFail"`
	PassThreshold              int             `json:"pass_threshold" validate:"min=0,max=100"`
	ReworkThreshold            int             `json:"rework_threshold" validate:"min=0,max=100,ltefield=PassThreshold"`
	AutoFailOnRequiredItemFail bool            `json:"auto_fail_on_required_item_fail"`
	AutoFailOnCriticalItemFail bool            `json:"auto_fail_on_critical_item_fail"`
	Items                      []ChecklistItem `json:"items" validate:"dive"`
	LinkedModules              []string        `json:"linked_modules,omitempty"`
	CreatedAt                  string          `json:"created_at" format:"date-time"`
	UpdatedAt                  string          `json:"updated_at" format:"date-time"`
}

type ChecklistItem struct {
	ID           string   `json:"id"`
	Name         string   `json:"name" validate:"required"`
	Severity     Severity `json:"severity" validate:"required,oneof=Low Medium High" enum:"Low,Medium,High"`
	IsRequired   bool     `json:"is_required"`
	DefaultScore int      `json:"default_score" validate:"gt=0"`
	Position     int      `json:"position"`
}

// ItemByID returns the item with the given id.
func (c Checklist) ItemByID(id string) (ChecklistItem, bool) {
	for _, it := range c.Items {
		if it.ID == id {
			return it, true
		}
	}
	return ChecklistItem{}, false
}

type ItemEvaluation struct {
	ItemID  string      `json:"item_id"`
	Outcome ItemOutcome `json:"outcome" enum:"Pass,Fail"`
}

// Actor is the explicit identity threaded through every call.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type AssetRecord struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	Classification string      `json:"classification"`
	Status         AssetStatus `json:"status" enum:"Draft,PendingQCReview,QCApproved,QCRejected,ReworkRequired"`
	QCStatus       *QCStatus   `json:"qc_status,omitempty" enum:"Pass,Fail,Rework"`
	QCScore        *int        `json:"qc_score,omitempty"`
	QCRemarks      string      `json:"qc_remarks,omitempty"`
	CreatedBy      string      `json:"created_by"`
	DesignedBy     string      `json:"designed_by,omitempty"`
	SubmittedBy    string      `json:"submitted_by,omitempty"`
	SubmittedAt    *string     `json:"submitted_at,omitempty" format:"date-time"`
	ReworkCount    int         `json:"rework_count"`
	LinkingActive  bool        `json:"linking_active"`
	Version        int64       `json:"version"`
	CreatedAt      string      `json:"created_at" format:"date-time"`
	UpdatedAt      string      `json:"updated_at" format:"date-time"`
}

// QCStatusFor returns the qc_status consistent with status. Pending and draft
// assets carry no qc_status.
func QCStatusFor(status AssetStatus) *QCStatus {
	var s QCStatus
	switch status {
	case StatusQCApproved:
		s = QCPass
	case StatusQCRejected:
		s = QCFail
	case StatusReworkRequired:
		s = QCRework
	default:
		return nil
	}
	return &s
}

// VisibleTo reports whether actorID is the author, designer or submitter.
func (a AssetRecord) VisibleTo(actorID string) bool {
	if actorID == "" {
		return false
	}
	return a.SubmittedBy == actorID || a.CreatedBy == actorID || a.DesignedBy == actorID
}

type ReviewSubmission struct {
	AssetID           string            `json:"asset_id"`
	Reviewer          Actor             `json:"reviewer"`
	Evaluations       []ItemEvaluation  `json:"evaluations"`
	Remarks           string            `json:"remarks,omitempty"`
	RequestedDecision RequestedDecision `json:"requested_decision" enum:"Approved,Rejected,Rework"`
}

type DecisionWarning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type FinalDecision struct {
	Outcome  Outcome           `json:"outcome" enum:"Pass,Fail,Rework"`
	Score    int               `json:"score"`
	Warnings []DecisionWarning `json:"warnings,omitempty"`
}

type ReviewRecord struct {
	ID                string            `json:"id"`
	AssetID           string            `json:"asset_id"`
	ReviewerID        string            `json:"reviewer_id"`
	ReviewerRole      string            `json:"reviewer_role"`
	ChecklistID       string            `json:"checklist_id"`
	ChecklistSnapshot Checklist         `json:"checklist_snapshot"`
	Evaluations       []ItemEvaluation  `json:"evaluations"`
	RawScore          float64           `json:"raw_score"`
	Score             int               `json:"score"`
	Outcome           Outcome           `json:"outcome" enum:"Pass,Fail,Rework"`
	Requested         RequestedDecision `json:"requested_decision" enum:"Approved,Rejected,Rework"`
	Warnings          []DecisionWarning `json:"warnings,omitempty"`
	Remarks           string            `json:"remarks,omitempty"`
	FromStatus        AssetStatus       `json:"from_status"`
	ToStatus          AssetStatus       `json:"to_status"`
	CreatedAt         string            `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
