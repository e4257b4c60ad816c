package auth

import (
	"time"

	"backend-selfbell/internal/api"
)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	Phone        string    `json:"phone"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type (
	RegisterRequest = api.RegisterRequest
	LoginRequest    = api.LoginRequest
	RefreshRequest  = api.RefreshRequest
	TokenResponse   = api.TokenResponse
)
