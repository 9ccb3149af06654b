package server

import (
	"qcline/internal/domain"
	"qcline/internal/engine"
	"qcline/internal/repo"
)

// Request payloads

type ChecklistItemRequest struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name" minLength:"1"`
	Severity     string `json:"severity" enum:"Low,Medium,High"`
	IsRequired   bool   `json:"is_required,omitempty"`
	DefaultScore int    `json:"default_score,omitempty" doc:"Positive weight, used in Weighted mode. Defaults to 1."`
}

type ChecklistRequest struct {
	Name                       string                 `json:"name" minLength:"1"`
	Type                       string                 `json:"type" enum:"Content,SEO,Web,SMM,Analytics,Backlink,Competitor,Repository,Other"`
	Category                   string                 `json:"category"`
	Status                     string                 `json:"status,omitempty" enum:"active,inactive"`
	ScoringMode                string                 `json:"scoring_mode" enum:"Binary,Weighted"`
	OutputType                 string                 `json:"qc_output_type" enum:"Percentage,PassFail,PassReworkFail"`
	PassThreshold              int                    `json:"pass_threshold" minimum:"0" maximum:"100"`
	ReworkThreshold            int                    `json:"rework_threshold,omitempty" minimum:"0" maximum:"100"`
	AutoFailOnRequiredItemFail bool                   `json:"auto_fail_on_required_item_fail,omitempty"`
	AutoFailOnCriticalItemFail bool                   `json:"auto_fail_on_critical_item_fail,omitempty"`
	LinkedModules              []string               `json:"linked_modules,omitempty"`
	Items                      []ChecklistItemRequest `json:"items,omitempty"`
}

func (r ChecklistRequest) toDomain(id string) domain.Checklist {
	cl := domain.Checklist{
		ID:                         id,
		Name:                       r.Name,
		Type:                       domain.ChecklistType(r.Type),
		Category:                   r.Category,
		Status:                     domain.ChecklistStatus(r.Status),
		ScoringMode:                domain.ScoringMode(r.ScoringMode),
		OutputType:                 domain.OutputType(r.OutputType),
		PassThreshold:              r.PassThreshold,
		ReworkThreshold:            r.ReworkThreshold,
		AutoFailOnRequiredItemFail: r.AutoFailOnRequiredItemFail,
		AutoFailOnCriticalItemFail: r.AutoFailOnCriticalItemFail,
		LinkedModules:              r.LinkedModules,
	}
	for _, it := range r.Items {
		weight := it.DefaultScore
		if weight == 0 {
			weight = 1
		}
		cl.Items = append(cl.Items, domain.ChecklistItem{
			ID:           it.ID,
			Name:         it.Name,
			Severity:     domain.Severity(it.Severity),
			IsRequired:   it.IsRequired,
			DefaultScore: weight,
		})
	}
	return cl
}

type CreateAssetRequest struct {
	ID             string `json:"id,omitempty"`
	Title          string `json:"title" minLength:"1"`
	Classification string `json:"classification" minLength:"1"`
	DesignedBy     string `json:"designed_by,omitempty"`
}

type EvaluationRequest struct {
	ItemID  string `json:"item_id"`
	Outcome string `json:"outcome" enum:"Pass,Fail"`
}

type SubmitReviewRequest struct {
	Evaluations       []EvaluationRequest `json:"evaluations"`
	Remarks           string              `json:"remarks,omitempty"`
	RequestedDecision string              `json:"requested_decision" enum:"Approved,Rejected,Rework"`
}

type RoleGrantRequest struct {
	ActorID string `json:"actor_id" minLength:"1"`
	RoleID  string `json:"role_id" minLength:"1"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id,omitempty"`
	Name    string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id" minLength:"1"`
	Role    string `json:"role,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type MeResponse struct {
	ActorID      string   `json:"actor_id"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
	Source       string   `json:"source"`
}

type ReviewResponse struct {
	Asset    domain.AssetRecord   `json:"asset"`
	Decision domain.FinalDecision `json:"decision"`
	Review   domain.ReviewRecord  `json:"review"`
}

func reviewResponse(r engine.ReviewResult) ReviewResponse {
	return ReviewResponse{Asset: r.Asset, Decision: r.Decision, Review: r.Review}
}

type ListChecklistsResponse struct {
	Items []domain.Checklist `json:"items"`
}

type ListAssetsResponse struct {
	Items []domain.AssetRecord `json:"items"`
}

type ListReviewsResponse struct {
	Items []domain.ReviewRecord `json:"items"`
}

type ListEventsResponse struct {
	Items []domain.Event `json:"items"`
}

type ListRoleGrantsResponse struct {
	Items []repo.RoleGrant `json:"items"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key" doc:"Returned once; only a hash is stored."`
	CreatedAt string `json:"created_at"`
}

type APIKeySummary struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

type ListAPIKeysResponse struct {
	Items []APIKeySummary `json:"items"`
}

func evaluations(in []EvaluationRequest) []domain.ItemEvaluation {
	out := make([]domain.ItemEvaluation, 0, len(in))
	for _, e := range in {
		out = append(out, domain.ItemEvaluation{ItemID: e.ItemID, Outcome: domain.ItemOutcome(e.Outcome)})
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
