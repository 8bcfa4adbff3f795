// Package leads manages sales leads, the primary workload behind the
// admission-controlled API.
package leads

import "time"

// Lead statuses follow the pipeline from intake to conversion.
const (
	StatusNew       = "new"
	StatusContacted = "contacted"
	StatusQualified = "qualified"
	StatusConverted = "converted"
	StatusLost      = "lost"
)

// Lead is a sales prospect owned by a tenant organisation.
type Lead struct {
	ID        int64     `json:"id"`
	OrgID     int64     `json:"org_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	Score     int       `json:"score"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateInput is the payload for lead creation and bulk import rows.
type CreateInput struct {
	Name   string `json:"name" validate:"required,min=2,max=200"`
	Email  string `json:"email" validate:"omitempty,email"`
	Phone  string `json:"phone" validate:"omitempty,max=32"`
	Source string `json:"source" validate:"omitempty,max=64"`
	Notes  string `json:"notes" validate:"omitempty,max=4000"`
}

// UpdateInput is the payload for lead updates. Nil fields are unchanged.
type UpdateInput struct {
	Name   *string `json:"name" validate:"omitempty,min=2,max=200"`
	Email  *string `json:"email" validate:"omitempty,email"`
	Phone  *string `json:"phone" validate:"omitempty,max=32"`
	Status *string `json:"status" validate:"omitempty,oneof=new contacted qualified converted lost"`
	Notes  *string `json:"notes" validate:"omitempty,max=4000"`
}

// ListFilter narrows List results.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}
