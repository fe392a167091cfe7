package store

import (
	"encoding/json"
	"time"
)

// Permission statuses.
const (
	PermissionSubmitted           = "submitted"
	PermissionAppointmentRequired = "appointment_required"
	PermissionApproved            = "approved"
	PermissionRejected            = "rejected"
	PermissionCancelled           = "cancelled"
)

// Appointment statuses.
const (
	AppointmentPending   = "pending"
	AppointmentApproved  = "approved"
	AppointmentCompleted = "completed"
	AppointmentCancelled = "cancelled"
)

// Reschedule statuses.
const (
	ReschedulePending   = "pending"
	RescheduleAccepted  = "accepted"
	RescheduleRejected  = "rejected"
	RescheduleCancelled = "cancelled"
)

// Dates travel as "2006-01-02" and times as "15:04".
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type Account struct {
	ID          string
	DisplayName string
	Email       string
	Role        string
	District    string
	Sector      string
	CreatedAt   time.Time
}

type Kiln struct {
	ID                   string
	OwnerID              string
	Name                 string
	Province             string
	District             string
	Sector               string
	Cell                 string
	Village              string
	Latitude             *float64
	Longitude            *float64
	LocationDescription  string
	ApprovedForBurning   bool
	ApprovedPermissionID *string
	CreatedAt            time.Time
}

type PermissionRequest struct {
	ID                  string
	BurnerID            string
	KilnID              string
	LeaderID            *string
	KilnDistrict        string
	KilnSector          string
	ActivityLocation    string
	KilnSiteName        string
	StartDate           string
	EndDate             string
	Purpose             string
	EstimatedQuantityKg float64
	Message             string
	IDDocument          string
	LandCertificate     string
	CoopCertificate     string
	TreeAgeProof        string
	LeaderNote          string
	Status              string
	CreatedAt           time.Time
	DecidedAt           *time.Time
}

// PermissionFilter narrows ListPermissionRequests. Empty fields are ignored.
type PermissionFilter struct {
	BurnerID string
	LeaderID string
	Status   string
	Limit    int
}

type Appointment struct {
	ID           string
	PermissionID string
	LeaderID     string
	BurnerID     string
	Date         string
	Time         string
	Purpose      string
	Status       string
	CreatedAt    time.Time
}

type Reschedule struct {
	ID            string
	AppointmentID string
	BurnerID      string
	LeaderID      string
	RequestedDate string
	RequestedTime string
	Message       string
	Status        string
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

type Sensor struct {
	ID           string
	KilnID       string
	SensorType   string
	SerialNumber string
	SecretHash   string
	IsActive     bool
	InstalledAt  time.Time
}

type SensorReading struct {
	ID         string
	SensorID   string
	Value      float64
	Unit       string
	RecordedAt time.Time
}

type Alert struct {
	ID           string
	KilnID       string
	PermissionID *string
	Severity     string
	Title        string
	Message      string
	Payload      json.RawMessage
	CreatedBy    string
	CreatedAt    time.Time
}

type Notification struct {
	ID           string
	RecipientID  string
	Type         string
	Title        string
	Message      string
	KilnID       *string
	PermissionID *string
	AlertID      *string
	IsRead       bool
	CreatedAt    time.Time
}
