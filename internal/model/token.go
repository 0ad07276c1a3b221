package model

import "time"

// TokenData is the session payload stored behind a bearer token.
type TokenData struct {
	Identity  Identity  `json:"identity"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
