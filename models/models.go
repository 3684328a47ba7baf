package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// IncidentType enum
type IncidentType string

const (
	IncidentAccident     IncidentType = "accident"
	IncidentTrafficJam   IncidentType = "traffic_jam"
	IncidentRoadBlockage IncidentType = "road_blockage"
	IncidentOther        IncidentType = "other"
)

// Severity enum
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IncidentStatus enum
type IncidentStatus string

const (
	IncidentActive   IncidentStatus = "active"
	IncidentVerified IncidentStatus = "verified"
	IncidentResolved IncidentStatus = "resolved"
)

// EmergencyStatus enum
type EmergencyStatus string

const (
	EmergencyPending   EmergencyStatus = "pending"
	EmergencyActive    EmergencyStatus = "active"
	EmergencyResolved  EmergencyStatus = "resolved"
	EmergencyCancelled EmergencyStatus = "cancelled"
)

// LocationSource records where an emergency's coordinates came from
type LocationSource string

const (
	LocationFromRequest  LocationSource = "request"
	LocationFromIncident LocationSource = "incident"
	LocationFromDefault  LocationSource = "default"
)

// JSONB type for GORM - can handle both objects and arrays
type JSONB struct {
	Data interface{} `json:"-"`
}

// NewJSONB creates a new JSONB from any value
func NewJSONB(v interface{}) JSONB {
	return JSONB{Data: v}
}

// UnmarshalJSON implements json.Unmarshaler
func (j *JSONB) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &j.Data)
}

// MarshalJSON implements json.Marshaler
func (j JSONB) MarshalJSON() ([]byte, error) {
	if j.Data == nil {
		return []byte("null"), nil
	}
	return json.Marshal(j.Data)
}

func (j JSONB) Value() (driver.Value, error) {
	if j.Data == nil {
		return nil, nil
	}
	return json.Marshal(j.Data)
}

func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		j.Data = nil
		return nil
	case []byte:
		return json.Unmarshal(v, &j.Data)
	case string:
		// sqlite hands text columns back as strings
		return json.Unmarshal([]byte(v), &j.Data)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}
}

// Map returns the payload as an object, or nil when it is not one
func (j JSONB) Map() map[string]interface{} {
	m, _ := j.Data.(map[string]interface{})
	return m
}

// StringList is a JSON encoded set of tags such as the services an emergency needs
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringList) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = StringList{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported StringList source type %T", value)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*s = out
	return nil
}

// Incident model - a detected traffic event with its derived severity
type Incident struct {
	ID         int64        `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	ReporterID *int64       `gorm:"column:reporter_id;index" json:"reporterId,omitempty"`
	Type       IncidentType `gorm:"column:type;index" json:"type"`
	Severity   Severity     `gorm:"column:severity;index" json:"severity"`

	Description string `gorm:"column:description" json:"description"`

	Lat          float64 `gorm:"column:latitude" json:"lat"`
	Lon          float64 `gorm:"column:longitude" json:"lon"`
	LocationName string  `gorm:"column:location_name" json:"locationName"`

	Confidence *float64 `gorm:"column:ai_confidence" json:"aiConfidence,omitempty"`
	Metadata   JSONB    `gorm:"type:jsonb;column:ai_metadata" json:"metadata,omitempty"` // vehicle_count, avg_speed, ...

	Status IncidentStatus `gorm:"column:status;default:active;index" json:"status"`

	CreatedAt time.Time `gorm:"column:created_at;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Incident) TableName() string {
	return "incidents"
}

// Notification model - one row per recipient per triggering event
type Notification struct {
	ID              int64     `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	RecipientUserID int64     `gorm:"column:user_id;index" json:"recipientUserId"`
	Type            string    `gorm:"column:type" json:"type"`
	Title           string    `gorm:"column:title" json:"title"`
	Message         string    `gorm:"column:message" json:"message"`
	Payload         JSONB     `gorm:"type:jsonb;column:data" json:"payload,omitempty"`
	IsRead          bool      `gorm:"column:is_read;default:false;index" json:"isRead"`
	CreatedAt       time.Time `gorm:"column:created_at;index" json:"createdAt"`
}

func (Notification) TableName() string {
	return "notifications"
}

// Emergency model - dispatch-worthy record, optionally derived from an incident
type Emergency struct {
	ID            int64     `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	IncidentID    *int64    `gorm:"column:incident_id;index" json:"incidentId,omitempty"`
	Incident      *Incident `gorm:"foreignKey:IncidentID" json:"incident,omitempty"`
	EmergencyType string    `gorm:"column:emergency_type;index" json:"emergencyType"`
	Severity      Severity  `gorm:"column:severity" json:"severity"`

	Lat                 float64        `gorm:"column:latitude" json:"lat"`
	Lon                 float64        `gorm:"column:longitude" json:"lon"`
	LocationName        string         `gorm:"column:location_name" json:"locationName"`
	LocationDescription string         `gorm:"column:location_description" json:"locationDescription"`
	LocationSource      LocationSource `gorm:"column:location_source" json:"locationSource"`

	ServicesNeeded StringList `gorm:"type:jsonb;column:services_needed" json:"servicesNeeded"`
	Description    string     `gorm:"column:description" json:"description"`

	ContactPhone string `gorm:"column:contact_phone" json:"contactPhone"`
	ContactName  string `gorm:"column:contact_name" json:"contactName"`

	Status EmergencyStatus `gorm:"column:status;default:pending;index" json:"status"`

	CreatedAt time.Time `gorm:"column:created_at;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Emergency) TableName() string {
	return "emergencies"
}
