package guardian

import (
	"time"

	"backend-selfbell/internal/api"
)

type Guardian = api.Guardian

// Ward is a user who has listed the caller as a guardian.
type Ward struct {
	ID      int64     `json:"id"`
	Name    string    `json:"name"`
	Phone   string    `json:"phone,omitempty"`
	AddedAt time.Time `json:"addedAt"`
}

type AddRequest struct {
	GuardianID int64  `json:"guardianId"`
	Email      string `json:"email"`
}
