package model

import (
	"time"

	"github.com/google/uuid"
)

type UserRole string

const (
	UserRolePatient   UserRole = "patient"
	UserRoleCounselor UserRole = "counselor"
	UserRoleAdmin     UserRole = "admin"
)

// User is a notification recipient. The account itself is owned by the
// main application backend; this service reads name, email and channel
// preference.
type User struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	Name             string          `db:"name" json:"name"`
	Email            string          `db:"email" json:"email"`
	Role             UserRole        `db:"role" json:"role"`
	PreferredChannel DeliveryChannel `db:"preferred_channel" json:"preferred_channel"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}
