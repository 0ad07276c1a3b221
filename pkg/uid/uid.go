package uid

import "github.com/google/uuid"

// New generates a new unique identifier.
func New() string {
	return uuid.New().String()
}

// NewEvent generates an event id used to correlate jobs with ack payloads.
func NewEvent() string {
	return "evt_" + uuid.New().String()
}

// NewItem generates an owned-item oid.
func NewItem() string {
	return "oid_" + uuid.New().String()
}

// NewInventory generates an inventory document id.
func NewInventory() string {
	return "inv_" + uuid.New().String()
}

// IsValid checks if a string is a valid UUID.
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
