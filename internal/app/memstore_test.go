package app

import (
	"context"
	"database/sql"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"kilnguard/api/internal/store"
)

// memStore is an in-memory dataStore with the same conditional-write
// semantics as the Postgres store. RunInTx restores a snapshot on error.
type memStore struct {
	mu sync.Mutex

	accounts      map[string]store.Account
	kilns         map[string]store.Kiln
	permissions   map[string]store.PermissionRequest
	appointments  map[string]store.Appointment
	apptOrder     []string
	reschedules   map[string]store.Reschedule
	sensors       map[string]store.Sensor
	readings      []store.SensorReading
	alerts        []store.Alert
	notifications []store.Notification

	pingFn                 func(context.Context) error
	getAccountFn           func(context.Context, string) (store.Account, error)
	transitionPermissionFn func(context.Context, string, string, string, string) (bool, error)
	setPermissionLeaderFn  func(context.Context, string, string) (bool, error)
	insertAlertFn          func(context.Context, store.Alert) error
}

func newMemStore() *memStore {
	return &memStore{
		accounts:     map[string]store.Account{},
		kilns:        map[string]store.Kiln{},
		permissions:  map[string]store.PermissionRequest{},
		appointments: map[string]store.Appointment{},
		reschedules:  map[string]store.Reschedule{},
		sensors:      map[string]store.Sensor{},
	}
}

type memSnapshot struct {
	accounts      map[string]store.Account
	kilns         map[string]store.Kiln
	permissions   map[string]store.PermissionRequest
	appointments  map[string]store.Appointment
	apptOrder     []string
	reschedules   map[string]store.Reschedule
	sensors       map[string]store.Sensor
	readings      []store.SensorReading
	alerts        []store.Alert
	notifications []store.Notification
}

type memTxKey struct{}

func (m *memStore) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	snapshot := memSnapshot{
		accounts:      maps.Clone(m.accounts),
		kilns:         maps.Clone(m.kilns),
		permissions:   maps.Clone(m.permissions),
		appointments:  maps.Clone(m.appointments),
		apptOrder:     slices.Clone(m.apptOrder),
		reschedules:   maps.Clone(m.reschedules),
		sensors:       maps.Clone(m.sensors),
		readings:      slices.Clone(m.readings),
		alerts:        slices.Clone(m.alerts),
		notifications: slices.Clone(m.notifications),
	}
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.mu.Lock()
		m.accounts = snapshot.accounts
		m.kilns = snapshot.kilns
		m.permissions = snapshot.permissions
		m.appointments = snapshot.appointments
		m.apptOrder = snapshot.apptOrder
		m.reschedules = snapshot.reschedules
		m.sensors = snapshot.sensors
		m.readings = snapshot.readings
		m.alerts = snapshot.alerts
		m.notifications = snapshot.notifications
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func jurisdictionKey(district, sector string) string {
	return strings.ToLower(strings.TrimSpace(district)) + "|" + strings.ToLower(strings.TrimSpace(sector))
}

func (m *memStore) InsertAccount(_ context.Context, account store.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account.District = strings.TrimSpace(account.District)
	account.Sector = strings.TrimSpace(account.Sector)
	if account.Role == "approver" {
		for _, existing := range m.accounts {
			if existing.Role == "approver" && jurisdictionKey(existing.District, existing.Sector) == jurisdictionKey(account.District, account.Sector) {
				return &store.DuplicateError{Constraint: store.ConstraintApproverJurisdiction}
			}
		}
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	m.accounts[account.ID] = account
	return nil
}

func (m *memStore) GetAccount(ctx context.Context, accountID string) (store.Account, error) {
	if m.getAccountFn != nil {
		return m.getAccountFn(ctx, accountID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return store.Account{}, sql.ErrNoRows
	}
	return account, nil
}

func (m *memStore) ListAccounts(_ context.Context, role string) ([]store.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.Account
	for _, account := range m.accounts {
		if role == "" || account.Role == role {
			items = append(items, account)
		}
	}
	return items, nil
}

func (m *memStore) FindApproverByJurisdiction(_ context.Context, district, sector string) (store.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.accounts {
		if account.Role == "approver" && jurisdictionKey(account.District, account.Sector) == jurisdictionKey(district, sector) {
			return account, nil
		}
	}
	return store.Account{}, sql.ErrNoRows
}

func (m *memStore) UpdateApproverJurisdiction(_ context.Context, accountID, district, sector string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok || account.Role != "approver" {
		return false, nil
	}
	for id, existing := range m.accounts {
		if id != accountID && existing.Role == "approver" && jurisdictionKey(existing.District, existing.Sector) == jurisdictionKey(district, sector) {
			return false, &store.DuplicateError{Constraint: store.ConstraintApproverJurisdiction}
		}
	}
	account.District = strings.TrimSpace(district)
	account.Sector = strings.TrimSpace(sector)
	m.accounts[accountID] = account
	return true, nil
}

func (m *memStore) InsertKiln(_ context.Context, kiln store.Kiln) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kilns[kiln.ID] = kiln
	return nil
}

func (m *memStore) GetKiln(_ context.Context, kilnID string) (store.Kiln, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kiln, ok := m.kilns[kilnID]
	if !ok {
		return store.Kiln{}, sql.ErrNoRows
	}
	return kiln, nil
}

func (m *memStore) ListKilns(_ context.Context, ownerID string) ([]store.Kiln, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.Kiln
	for _, kiln := range m.kilns {
		if ownerID == "" || kiln.OwnerID == ownerID {
			items = append(items, kiln)
		}
	}
	return items, nil
}

func (m *memStore) UpdateKiln(_ context.Context, kiln store.Kiln) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.kilns[kiln.ID]
	if !ok {
		return false, nil
	}
	kiln.ApprovedForBurning = existing.ApprovedForBurning
	kiln.ApprovedPermissionID = existing.ApprovedPermissionID
	m.kilns[kiln.ID] = kiln
	return true, nil
}

func (m *memStore) DeleteKiln(_ context.Context, kilnID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.kilns[kilnID]; !ok {
		return false, nil
	}
	for _, permission := range m.permissions {
		if permission.KilnID == kilnID && (permission.Status == store.PermissionSubmitted || permission.Status == store.PermissionAppointmentRequired) {
			return false, nil
		}
	}
	delete(m.kilns, kilnID)
	return true, nil
}

func (m *memStore) MarkKilnApproved(_ context.Context, kilnID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kiln, ok := m.kilns[kilnID]
	if !ok {
		return nil
	}
	kiln.ApprovedForBurning = true
	kiln.ApprovedPermissionID = &permissionID
	m.kilns[kilnID] = kiln
	return nil
}

func (m *memStore) InsertPermissionRequest(_ context.Context, item store.PermissionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissions[item.ID] = item
	return nil
}

func (m *memStore) GetPermissionRequest(_ context.Context, permissionID string) (store.PermissionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.permissions[permissionID]
	if !ok {
		return store.PermissionRequest{}, sql.ErrNoRows
	}
	return item, nil
}

func (m *memStore) DeletePermissionRequest(_ context.Context, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.permissions, permissionID)
	return nil
}

func (m *memStore) SetPermissionLeader(ctx context.Context, permissionID, leaderID string) (bool, error) {
	if m.setPermissionLeaderFn != nil {
		return m.setPermissionLeaderFn(ctx, permissionID, leaderID)
	}
	return m.setPermissionLeader(permissionID, leaderID)
}

func (m *memStore) setPermissionLeader(permissionID, leaderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.permissions[permissionID]
	if !ok {
		return false, nil
	}
	if item.Status != store.PermissionSubmitted && item.Status != store.PermissionAppointmentRequired {
		return false, nil
	}
	item.LeaderID = &leaderID
	m.permissions[permissionID] = item
	return true, nil
}

func (m *memStore) TransitionPermission(ctx context.Context, permissionID, from, to, note string) (bool, error) {
	if m.transitionPermissionFn != nil {
		return m.transitionPermissionFn(ctx, permissionID, from, to, note)
	}
	return m.transitionPermission(permissionID, from, to, note)
}

func (m *memStore) transitionPermission(permissionID, from, to, note string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.permissions[permissionID]
	if !ok || item.Status != from {
		return false, nil
	}
	item.Status = to
	item.LeaderNote = note
	if (to == store.PermissionApproved || to == store.PermissionRejected) && item.DecidedAt == nil {
		now := time.Now().UTC()
		item.DecidedAt = &now
	}
	m.permissions[permissionID] = item
	return true, nil
}

func (m *memStore) UpdatePermissionNote(_ context.Context, permissionID, note string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.permissions[permissionID]
	if !ok {
		return false, nil
	}
	item.LeaderNote = note
	m.permissions[permissionID] = item
	return true, nil
}

func (m *memStore) ListPermissionRequests(_ context.Context, filter store.PermissionFilter) ([]store.PermissionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.PermissionRequest
	for _, item := range m.permissions {
		if filter.BurnerID != "" && item.BurnerID != filter.BurnerID {
			continue
		}
		if filter.LeaderID != "" && (item.LeaderID == nil || *item.LeaderID != filter.LeaderID) {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (m *memStore) InsertAppointment(_ context.Context, item store.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments[item.ID] = item
	m.apptOrder = append(m.apptOrder, item.ID)
	return nil
}

func (m *memStore) GetAppointment(_ context.Context, appointmentID string) (store.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.appointments[appointmentID]
	if !ok {
		return store.Appointment{}, sql.ErrNoRows
	}
	return item, nil
}

func (m *memStore) ActiveAppointment(_ context.Context, permissionID string) (*store.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.apptOrder) - 1; i >= 0; i-- {
		item := m.appointments[m.apptOrder[i]]
		if item.PermissionID == permissionID && (item.Status == store.AppointmentPending || item.Status == store.AppointmentApproved) {
			return &item, nil
		}
	}
	return nil, nil
}

func (m *memStore) TransitionAppointment(_ context.Context, appointmentID, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.appointments[appointmentID]
	if !ok || item.Status != from {
		return false, nil
	}
	item.Status = to
	m.appointments[appointmentID] = item
	return true, nil
}

func (m *memStore) MoveAppointment(_ context.Context, appointmentID, date, clock string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.appointments[appointmentID]
	if !ok || (item.Status != store.AppointmentPending && item.Status != store.AppointmentApproved) {
		return false, nil
	}
	item.Date = date
	item.Time = clock
	m.appointments[appointmentID] = item
	return true, nil
}

func (m *memStore) InsertReschedule(_ context.Context, item store.Reschedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reschedules[item.ID] = item
	return nil
}

func (m *memStore) GetReschedule(_ context.Context, rescheduleID string) (store.Reschedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.reschedules[rescheduleID]
	if !ok {
		return store.Reschedule{}, sql.ErrNoRows
	}
	return item, nil
}

func (m *memStore) ListReschedules(_ context.Context, appointmentID string) ([]store.Reschedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.Reschedule
	for _, item := range m.reschedules {
		if item.AppointmentID == appointmentID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (m *memStore) ResolveReschedule(_ context.Context, rescheduleID, to, message string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.reschedules[rescheduleID]
	if !ok || item.Status != store.ReschedulePending {
		return false, nil
	}
	item.Status = to
	item.Message = message
	if to == store.RescheduleAccepted || to == store.RescheduleRejected {
		now := time.Now().UTC()
		item.ResolvedAt = &now
	}
	m.reschedules[rescheduleID] = item
	return true, nil
}

func (m *memStore) InsertSensor(_ context.Context, item store.Sensor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sensors {
		if existing.SerialNumber == item.SerialNumber {
			return &store.DuplicateError{Constraint: store.ConstraintSensorSerial}
		}
	}
	m.sensors[item.ID] = item
	return nil
}

func (m *memStore) GetSensor(_ context.Context, sensorID string) (store.Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.sensors[sensorID]
	if !ok {
		return store.Sensor{}, sql.ErrNoRows
	}
	return item, nil
}

func (m *memStore) GetSensorBySerial(_ context.Context, serialNumber string) (store.Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.sensors {
		if item.SerialNumber == serialNumber {
			return item, nil
		}
	}
	return store.Sensor{}, sql.ErrNoRows
}

func (m *memStore) ListSensors(_ context.Context, kilnID string) ([]store.Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.Sensor
	for _, item := range m.sensors {
		if item.KilnID == kilnID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (m *memStore) UpdateSensorSecret(_ context.Context, sensorID, secretHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.sensors[sensorID]
	if !ok {
		return false, nil
	}
	item.SecretHash = secretHash
	m.sensors[sensorID] = item
	return true, nil
}

func (m *memStore) SetSensorActive(_ context.Context, sensorID string, active bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.sensors[sensorID]
	if !ok {
		return false, nil
	}
	item.IsActive = active
	m.sensors[sensorID] = item
	return true, nil
}

func (m *memStore) InsertReading(_ context.Context, item store.SensorReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, item)
	return nil
}

func (m *memStore) ListReadings(_ context.Context, kilnID string, limit int) ([]store.ReadingView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.ReadingView
	for i := len(m.readings) - 1; i >= 0 && len(items) < limit; i-- {
		reading := m.readings[i]
		sensor := m.sensors[reading.SensorID]
		if sensor.KilnID != kilnID {
			continue
		}
		items = append(items, store.ReadingView{SensorReading: reading, SensorType: sensor.SensorType, SerialNumber: sensor.SerialNumber})
	}
	return items, nil
}

func (m *memStore) InsertAlert(ctx context.Context, item store.Alert) error {
	if m.insertAlertFn != nil {
		if err := m.insertAlertFn(ctx, item); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, item)
	return nil
}

func (m *memStore) ListAlerts(_ context.Context, kilnID string, limit int) ([]store.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.Alert
	for i := len(m.alerts) - 1; i >= 0 && len(items) < limit; i-- {
		if m.alerts[i].KilnID == kilnID {
			items = append(items, m.alerts[i])
		}
	}
	return items, nil
}

func (m *memStore) InsertNotification(_ context.Context, item store.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, item)
	return nil
}

func (m *memStore) ListNotifications(_ context.Context, recipientID string, limit int) ([]store.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.Notification
	for i := len(m.notifications) - 1; i >= 0 && len(items) < limit; i-- {
		if m.notifications[i].RecipientID == recipientID {
			items = append(items, m.notifications[i])
		}
	}
	return items, nil
}

func (m *memStore) MarkNotificationRead(_ context.Context, notificationID, recipientID string, isRead bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications {
		if m.notifications[i].ID == notificationID && m.notifications[i].RecipientID == recipientID {
			m.notifications[i].IsRead = isRead
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) notificationsFor(recipientID string) []store.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.Notification
	for _, item := range m.notifications {
		if item.RecipientID == recipientID {
			items = append(items, item)
		}
	}
	return items
}

func (m *memStore) readingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.readings)
}
