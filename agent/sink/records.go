package sink

import (
	"time"

	statex "github.com/voxkit/callflow/agent/state"
)

// LeadRecord is the JSON document dropped for the sales team when a
// qualification call wraps up.
type LeadRecord struct {
	Name        string    `json:"name"`
	Company     string    `json:"company"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	UseCase     string    `json:"use_case"`
	TeamSize    string    `json:"team_size"`
	Timeline    string    `json:"timeline"`
	CollectedAt time.Time `json:"collected_at"`
}

func leadRecordFrom(lead *statex.LeadProfile, collectedAt time.Time) LeadRecord {
	return LeadRecord{
		Name:        lead.Name,
		Company:     lead.Company,
		Email:       lead.Email,
		Role:        lead.Role,
		UseCase:     lead.UseCase,
		TeamSize:    lead.TeamSize,
		Timeline:    lead.Timeline,
		CollectedAt: collectedAt,
	}
}

// OrderRecord is the JSON document handed to fulfillment when an order is
// placed. Status is always "confirmed" at write time.
type OrderRecord struct {
	OrderID         string            `json:"order_id"`
	Timestamp       time.Time         `json:"timestamp"`
	CustomerName    string            `json:"customer_name"`
	CustomerAddress string            `json:"customer_address"`
	Items           []statex.LineItem `json:"items"`
	Total           float64           `json:"total"`
	Status          string            `json:"status"`
}

const OrderStatusConfirmed = "confirmed"
