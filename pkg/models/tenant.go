package models

import "time"

// Tenant is the owner of jobs, quotas, and rate limit state.
type Tenant struct {
	ID             string     `json:"id" db:"id"`
	Plan           Plan       `json:"plan" db:"plan"`
	CreationIP     string     `json:"creation_ip" db:"creation_ip"`
	PlanExpiresAt  *time.Time `json:"plan_expires_at,omitempty" db:"plan_expires_at"`
	BillingHandle  *string    `json:"billing_handle,omitempty" db:"billing_handle"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}
