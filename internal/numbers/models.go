package numbers

import "errors"

var (
	ErrNumberInUse    = errors.New("numbers: number is the source of the active call")
	ErrNumberNotFound = errors.New("numbers: number not owned")
	ErrInvalidNumber  = errors.New("numbers: invalid phone number")
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

type Capabilities struct {
	Voice bool `json:"voice"`
	SMS   bool `json:"sms"`
}

// OwnedNumber is a number the account holds. Lifecycle: purchase, active, released.
type OwnedNumber struct {
	ID           string       `json:"id"`
	E164Number   string       `json:"e164_number"`
	FriendlyName string       `json:"friendly_name,omitempty"`
	Country      string       `json:"country,omitempty"`
	Region       string       `json:"region,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
	MonthlyCost  float64      `json:"monthly_cost"`
	Status       Status       `json:"status"`
}

// AvailableNumber is purchasable inventory from a search.
type AvailableNumber struct {
	E164Number   string       `json:"e164_number"`
	FriendlyName string       `json:"friendly_name,omitempty"`
	Locality     string       `json:"locality,omitempty"`
	Region       string       `json:"region,omitempty"`
	Country      string       `json:"country,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
	MonthlyCost  float64      `json:"monthly_cost"`
}
