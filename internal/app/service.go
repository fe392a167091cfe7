package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"kilnguard/api/internal/auth"
	"kilnguard/api/internal/config"
	"kilnguard/api/internal/identity"
	"kilnguard/api/internal/notify"
	"kilnguard/api/internal/rbac"
	"kilnguard/api/internal/search"
	"kilnguard/api/internal/store"
)

type dataStore interface {
	RunInTx(context.Context, func(context.Context) error) error
	Ping(context.Context) error

	InsertAccount(context.Context, store.Account) error
	GetAccount(context.Context, string) (store.Account, error)
	ListAccounts(context.Context, string) ([]store.Account, error)
	FindApproverByJurisdiction(context.Context, string, string) (store.Account, error)
	UpdateApproverJurisdiction(context.Context, string, string, string) (bool, error)

	InsertKiln(context.Context, store.Kiln) error
	GetKiln(context.Context, string) (store.Kiln, error)
	ListKilns(context.Context, string) ([]store.Kiln, error)
	UpdateKiln(context.Context, store.Kiln) (bool, error)
	DeleteKiln(context.Context, string) (bool, error)
	MarkKilnApproved(context.Context, string, string) error

	InsertPermissionRequest(context.Context, store.PermissionRequest) error
	GetPermissionRequest(context.Context, string) (store.PermissionRequest, error)
	DeletePermissionRequest(context.Context, string) error
	SetPermissionLeader(context.Context, string, string) (bool, error)
	TransitionPermission(context.Context, string, string, string, string) (bool, error)
	UpdatePermissionNote(context.Context, string, string) (bool, error)
	ListPermissionRequests(context.Context, store.PermissionFilter) ([]store.PermissionRequest, error)

	InsertAppointment(context.Context, store.Appointment) error
	GetAppointment(context.Context, string) (store.Appointment, error)
	ActiveAppointment(context.Context, string) (*store.Appointment, error)
	TransitionAppointment(context.Context, string, string, string) (bool, error)
	MoveAppointment(context.Context, string, string, string) (bool, error)
	InsertReschedule(context.Context, store.Reschedule) error
	GetReschedule(context.Context, string) (store.Reschedule, error)
	ListReschedules(context.Context, string) ([]store.Reschedule, error)
	ResolveReschedule(context.Context, string, string, string) (bool, error)

	InsertSensor(context.Context, store.Sensor) error
	GetSensor(context.Context, string) (store.Sensor, error)
	GetSensorBySerial(context.Context, string) (store.Sensor, error)
	ListSensors(context.Context, string) ([]store.Sensor, error)
	UpdateSensorSecret(context.Context, string, string) (bool, error)
	SetSensorActive(context.Context, string, bool) (bool, error)
	InsertReading(context.Context, store.SensorReading) error
	ListReadings(context.Context, string, int) ([]store.ReadingView, error)
	InsertAlert(context.Context, store.Alert) error
	ListAlerts(context.Context, string, int) ([]store.Alert, error)
	InsertNotification(context.Context, store.Notification) error
	ListNotifications(context.Context, string, int) ([]store.Notification, error)
	MarkNotificationRead(context.Context, string, string, bool) (bool, error)
}

// notifier delivers outbound messages. Failures are logged, never returned
// to the workflow caller.
type notifier interface {
	Send(context.Context, notify.Message) error
}

type documentStore interface {
	Put(ctx context.Context, ownerID, kind, filename, contentType string, r io.Reader, size int64) (string, error)
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexPermission(search.PermissionRecord)
	IndexAlerts([]search.AlertRecord)
	DeletePermission(string)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	notifier  notifier
	documents documentStore
	search    searchIndex
	now       func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, notifier notifier) *Service {
	if notifier == nil {
		notifier = notify.LogNotifier{Logger: slog.Default()}
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		notifier: notifier,
		now:      time.Now,
	}
}

// WithDocuments enables document uploads.
func (s *Service) WithDocuments(documents documentStore) *Service {
	s.documents = documents
	return s
}

// WithSearch enables the search projection.
func (s *Service) WithSearch(index searchIndex) *Service {
	s.search = index
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ResolveIdentity parses a bearer token and loads the account it names.
// The stored role is authoritative; the role claim is ignored.
func (s *Service) ResolveIdentity(ctx context.Context, token string) (identity.Account, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return nil, err
	}
	record, err := s.store.GetAccount(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrInvalidToken
		}
		return nil, err
	}
	return identity.FromRecord(record.ID, record.DisplayName, record.Email, record.Role, record.District, record.Sector)
}

// authorize is the capability gate every operation passes before touching
// the store.
func authorize(caller identity.Account, action rbac.Action) error {
	if caller == nil {
		return unauthorized()
	}
	if !rbac.Can(caller.Role(), action) {
		return forbidden("")
	}
	return nil
}

func lookupError(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(what)
	}
	return err
}

func (s *Service) timestamp() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func requireText(value, field string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", validationError(field + " is required")
	}
	return trimmed, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

const maxListLimit = 200

func nilIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
