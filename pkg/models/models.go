package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

/* =============================== Enums ================================== */

// Role defines the type of user in the system.
type Role string

const (
	RoleIndividual Role = "individual"
	RoleCorporate  Role = "corporate"
	RoleLawyer     Role = "lawyer"
	RoleAdmin      Role = "admin"
)

// StaffRoles are the roles with office-wide access.
var StaffRoles = []Role{RoleAdmin, RoleLawyer}

// ClientRoles are the roles scoped to their own records.
var ClientRoles = []Role{RoleIndividual, RoleCorporate}

func (r Role) Valid() bool {
	switch r {
	case RoleIndividual, RoleCorporate, RoleLawyer, RoleAdmin:
		return true
	}
	return false
}

func (r Role) IsStaff() bool  { return r == RoleAdmin || r == RoleLawyer }
func (r Role) IsClient() bool { return r == RoleIndividual || r == RoleCorporate }

// CaseStatus defines lifecycle states for a case.
type CaseStatus string

const (
	CasePending      CaseStatus = "pending"
	CaseInProgress   CaseStatus = "in_progress"
	CaseWaitingCourt CaseStatus = "waiting_court"
	CaseCompleted    CaseStatus = "completed"
	CaseArchived     CaseStatus = "archived"
)

func (s CaseStatus) Valid() bool {
	switch s {
	case CasePending, CaseInProgress, CaseWaitingCourt, CaseCompleted, CaseArchived:
		return true
	}
	return false
}

// CaseType selects the stage template a case starts with.
type CaseType string

const (
	CaseCivil          CaseType = "civil"
	CaseCriminal       CaseType = "criminal"
	CaseCommercial     CaseType = "commercial"
	CaseLabor          CaseType = "labor"
	CaseAdministrative CaseType = "administrative"
	CaseExecution      CaseType = "execution"
	CaseOther          CaseType = "other"
)

func (t CaseType) Valid() bool {
	switch t {
	case CaseCivil, CaseCriminal, CaseCommercial, CaseLabor, CaseAdministrative, CaseExecution, CaseOther:
		return true
	}
	return false
}

// StageStatus is the progress marker of a single stage.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageCurrent   StageStatus = "current"
	StageCompleted StageStatus = "completed"
)

func (s StageStatus) Valid() bool {
	return s == StagePending || s == StageCurrent || s == StageCompleted
}

// TimelineEventType classifies a dated occurrence in a case.
type TimelineEventType string

const (
	EventHearing  TimelineEventType = "hearing"
	EventReport   TimelineEventType = "report"
	EventDecision TimelineEventType = "decision"
	EventPayment  TimelineEventType = "payment"
	EventDocument TimelineEventType = "document"
	EventGeneric  TimelineEventType = "generic"
)

// DocumentType classifies uploaded documents.
type DocumentType string

const (
	DocContract       DocumentType = "contract"
	DocPetition       DocumentType = "petition"
	DocDecision       DocumentType = "decision"
	DocEvidence       DocumentType = "evidence"
	DocCorrespondence DocumentType = "correspondence"
	DocInvoice        DocumentType = "invoice"
	DocOther          DocumentType = "other"
)

// PaymentStatus defines lifecycle states for a payment.
type PaymentStatus string

const (
	PayPending   PaymentStatus = "pending"
	PayCompleted PaymentStatus = "completed"
	PayFailed    PaymentStatus = "failed"
	PayRefunded  PaymentStatus = "refunded"
)

// PaymentMethod is how the client settled (or intends to settle) a payment.
type PaymentMethod string

const (
	MethodCreditCard   PaymentMethod = "credit_card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCash         PaymentMethod = "cash"
)

// NotificationType is the channel/category of a notification.
type NotificationType string

const (
	NotifyEmail          NotificationType = "email"
	NotifySMS            NotificationType = "sms"
	NotifyPush           NotificationType = "push"
	NotifyInApp          NotificationType = "in_app"
	NotifyCaseUpdate     NotificationType = "case_update"
	NotifyDocumentUpload NotificationType = "document_upload"
	NotifyPaymentUpdate  NotificationType = "payment_update"
	NotifySystem         NotificationType = "system"
)

// NotificationPriority orders notifications for display.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityMedium NotificationPriority = "medium"
	PriorityHigh   NotificationPriority = "high"
)

// ErrImmutable is returned by hooks guarding append-only tables.
var ErrImmutable = errors.New("record is immutable")

/* =============================== Entities =============================== */

// User represents a client (individual or corporate) or a staff member.
type User struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Email              string     `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash       string     `gorm:"not null" json:"-"`
	FullName           string     `gorm:"not null" json:"full_name"`
	Phone              string     `json:"phone,omitempty"`
	NationalID         *string    `gorm:"column:national_id;uniqueIndex" json:"national_id,omitempty"`
	TaxNumber          *string    `gorm:"column:tax_number;uniqueIndex" json:"tax_number,omitempty"`
	CompanyName        string     `json:"company_name,omitempty"`
	Address            string     `json:"address,omitempty"`
	BankAccountInfo    string     `json:"bank_account_info,omitempty"`
	Role               Role       `gorm:"type:varchar(20);not null;index" json:"role"`
	IsActive           bool       `gorm:"not null" json:"is_active"`
	IsVerified         bool       `gorm:"not null" json:"is_verified"`
	TOTPSecret         string     `gorm:"column:totp_secret" json:"-"`
	Is2FAEnabled       bool       `gorm:"column:is_2fa_enabled;not null" json:"is_2fa_enabled"`
	MustChangePassword bool       `gorm:"not null" json:"must_change_password"`
	LastLogin          *time.Time `json:"last_login,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Case represents a legal matter owned by a client.
type Case struct {
	ID              uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	CaseNumber      string      `gorm:"uniqueIndex;not null" json:"case_number"`
	Title           string      `gorm:"not null" json:"title"`
	Description     string      `gorm:"type:text" json:"description"`
	CaseType        CaseType    `gorm:"type:varchar(30);not null;index" json:"case_type"`
	Status          CaseStatus  `gorm:"type:varchar(20);not null;index" json:"status"`
	CourtName       string      `json:"court_name,omitempty"`
	FileNumber      string      `json:"file_number,omitempty"`
	ClientID        uuid.UUID   `gorm:"type:uuid;not null;index" json:"client_id"`
	StartDate       time.Time   `json:"start_date"`
	NextHearingDate *time.Time  `json:"next_hearing_date,omitempty"`
	CompletionDate  *time.Time  `json:"completion_date,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	Stages          []CaseStage `gorm:"foreignKey:CaseID" json:"stages"`

	// Relation to the owning client
	Client *User `gorm:"foreignKey:ClientID" json:"-"`
}

func (c *Case) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// CaseStage is one step of the case's litigation pipeline.
// StageKey is the stable stage id ("filing", "indictment", ...) exposed as "id".
type CaseStage struct {
	ID       uuid.UUID   `gorm:"type:uuid;primaryKey" json:"-"`
	CaseID   uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex:ux_case_stage_key" json:"-"`
	StageKey string      `gorm:"not null;uniqueIndex:ux_case_stage_key" json:"id"`
	Title    string      `gorm:"not null" json:"title"`
	Status   StageStatus `gorm:"type:varchar(20);not null" json:"status"`
	Position int         `gorm:"not null" json:"order"`
}

func (s *CaseStage) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// TimelineEvent is an immutable dated marker within a case.
type TimelineEvent struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	CaseID      uuid.UUID         `gorm:"type:uuid;not null;index" json:"case_id"`
	Title       string            `gorm:"not null" json:"title"`
	Description string            `gorm:"type:text" json:"description,omitempty"`
	EventDate   time.Time         `gorm:"not null;index" json:"event_date"`
	EventType   TimelineEventType `gorm:"type:varchar(20);not null" json:"event_type"`
	StageID     *string           `json:"stage_id,omitempty"`
	CreatedByID uuid.UUID         `gorm:"type:uuid;not null" json:"created_by"`
	CreatedAt   time.Time         `json:"created_at"`

	Case *Case `gorm:"foreignKey:CaseID" json:"-"`
}

func (e *TimelineEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

func (e *TimelineEvent) BeforeUpdate(*gorm.DB) error { return ErrImmutable }

// Document is the metadata of a stored file; the bytes live in the blob store.
type Document struct {
	ID                uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	Filename          string       `gorm:"not null" json:"-"`
	OriginalFilename  string       `gorm:"not null" json:"filename"`
	StorageKey        string       `gorm:"not null" json:"-"`
	FileSize          int64        `gorm:"not null" json:"file_size"`
	MimeType          string       `gorm:"not null" json:"mime_type"`
	DocumentType      DocumentType `gorm:"type:varchar(30);not null" json:"document_type"`
	Description       string       `gorm:"type:text" json:"description,omitempty"`
	IsVisibleToClient bool         `gorm:"not null" json:"is_visible_to_client"`
	UserID            uuid.UUID    `gorm:"type:uuid;not null;index" json:"user_id"`
	CaseID            *uuid.UUID   `gorm:"type:uuid;index" json:"case_id,omitempty"`
	UploadedAt        time.Time    `gorm:"autoCreateTime" json:"uploaded_at"`
	UpdatedAt         time.Time    `json:"updated_at"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
	Case *Case `gorm:"foreignKey:CaseID" json:"-"`
}

func (d *Document) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// Payment is a billing request addressed to a client.
type Payment struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Reference        string         `gorm:"uniqueIndex;not null" json:"payment_id"`
	ExternalID       *string        `gorm:"uniqueIndex" json:"external_id,omitempty"`
	AmountCents      int64          `gorm:"not null" json:"amount_cents"` // stored in minor units to avoid float issues
	Currency         string         `gorm:"type:varchar(3);not null" json:"currency"`
	Description      string         `gorm:"type:text" json:"description"`
	Status           PaymentStatus  `gorm:"type:varchar(20);not null;index" json:"status"`
	Method           *PaymentMethod `gorm:"type:varchar(20)" json:"method,omitempty"`
	ClientID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"client_id"`
	CaseID           *uuid.UUID     `gorm:"type:uuid;index" json:"case_id,omitempty"`
	CreatedByID      uuid.UUID      `gorm:"type:uuid;not null" json:"-"`
	ProviderResponse string         `gorm:"type:text" json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`

	Client *User `gorm:"foreignKey:ClientID" json:"-"`
	Case   *Case `gorm:"foreignKey:CaseID" json:"-"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Notification is an in-app message to one user.
type Notification struct {
	ID        uuid.UUID            `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID            `gorm:"type:uuid;not null;index:idx_notifications_user_unread" json:"user_id"`
	CaseID    *uuid.UUID           `gorm:"type:uuid" json:"case_id,omitempty"`
	Title     string               `gorm:"not null" json:"title"`
	Message   string               `gorm:"type:text;not null" json:"message"`
	Type      NotificationType     `gorm:"column:notification_type;type:varchar(30);not null" json:"type"`
	Priority  NotificationPriority `gorm:"type:varchar(10);not null" json:"priority"`
	IsRead    bool                 `gorm:"not null;index:idx_notifications_user_unread" json:"is_read"`
	IsSent    bool                 `gorm:"not null" json:"-"`
	Link      string               `json:"link,omitempty"`
	SentAt    *time.Time           `json:"-"`
	ReadAt    *time.Time           `json:"read_at,omitempty"`
	CreatedAt time.Time            `gorm:"index" json:"created_at"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}

// AuditLog is an append-only record of who did what to which resource.
type AuditLog struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID         `gorm:"type:uuid;not null;index" json:"user_id"`
	Action       string            `gorm:"type:varchar(20);not null" json:"action"`        // CREATE, UPDATE, DELETE, VIEW, UPLOAD, DOWNLOAD, LOGIN
	ResourceType string            `gorm:"type:varchar(30);not null" json:"resource_type"` // CASE, DOCUMENT, PAYMENT, CLIENT, ...
	ResourceID   *uuid.UUID        `gorm:"type:uuid;index" json:"resource_id,omitempty"`
	Description  string            `gorm:"type:text" json:"description"`
	Changes      datatypes.JSONMap `json:"changes,omitempty"` // jsonb on postgres, JSON text on sqlite
	IPAddress    string            `json:"ip_address,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
	CreatedAt    time.Time         `gorm:"index" json:"created_at"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

func (a *AuditLog) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (a *AuditLog) BeforeUpdate(*gorm.DB) error { return ErrImmutable }
func (a *AuditLog) BeforeDelete(*gorm.DB) error { return ErrImmutable }

// All lists every persisted model, in migration order.
func All() []any {
	return []any{
		&User{}, &Case{}, &CaseStage{}, &TimelineEvent{}, &Document{},
		&Payment{}, &Notification{}, &AuditLog{},
	}
}
