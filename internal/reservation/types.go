package reservation

// GuestType is the guest tier, it selects the processing queue
type GuestType string

// Guest tiers
const (
	GuestRegular GuestType = "Regular Guest"
	GuestVIP     GuestType = "VIP Guest"
	GuestLoyalty GuestType = "Loyalty Member"
)

// GuestTypes lists the recognized tiers
func GuestTypes() []GuestType {
	return []GuestType{GuestRegular, GuestVIP, GuestLoyalty}
}

// Valid reports whether t is a recognized tier
func (t GuestType) Valid() bool {
	switch t {
	case GuestRegular, GuestVIP, GuestLoyalty:
		return true
	default:
		return false
	}
}

// Status is the outcome reported by the worker tier
type Status string

// Result statuses
const (
	StatusSuccess          Status = "SUCCESS"
	StatusNoTableAvailable Status = "NO_TABLE_AVAILABLE"
	StatusError            Status = "ERROR"
)

// Children describes the children in the party, count and ages are whole numbers
type Children struct {
	Count *int  `json:"count" validate:"required,min=0"`
	Ages  []int `json:"ages" validate:"required,dive,min=0"`
}

// ContactInfo needs a phone or an email
type ContactInfo struct {
	Phone string `json:"phone,omitempty" validate:"required_without=Email"`
	Email string `json:"email,omitempty" validate:"required_without=Phone"`
}

// Request is the payload routed to the priority queues.
// ReservationID is the correlation id, always set by the gateway.
type Request struct {
	ReservationID      string       `json:"reservation_id"`
	UserID             string       `json:"user_id" validate:"required"`
	RestaurantID       string       `json:"restaurant_id" validate:"required"`
	Date               string       `json:"date" validate:"required"`
	Time               string       `json:"time" validate:"required"`
	PartySize          int          `json:"party_size" validate:"required,min=1"`
	GuestType          GuestType    `json:"guest_type" validate:"required,guesttype"`
	Children           *Children    `json:"children,omitempty" validate:"omitempty"`
	ContactInfo        *ContactInfo `json:"contact_info,omitempty" validate:"omitempty"`
	SpecialRequests    string       `json:"special_requests,omitempty"`
	AdditionalServices []string     `json:"additional_services,omitempty"`
}

// Result is published by the worker tier onto the results queue
type Result struct {
	ReservationID string `json:"reservation_id"`
	Status        Status `json:"status"`
	Message       string `json:"message,omitempty"`
}
