package rbac

type Role string
type Action string

const (
	RoleOperator Role = "operator"
	RoleApprover Role = "approver"
	RoleAdmin    Role = "admin"
)

const (
	ActionManageKiln         Action = "kiln.manage"
	ActionUploadDocument     Action = "document.upload"
	ActionSubmitPermission   Action = "permission.submit"
	ActionCancelPermission   Action = "permission.cancel"
	ActionReadPermission     Action = "permission.read"
	ActionDecidePermission   Action = "permission.decide"
	ActionNotePermission     Action = "permission.note"
	ActionReassignPermission Action = "permission.reassign"
	ActionRequestAppointment Action = "appointment.request"
	ActionDecideAppointment  Action = "appointment.decide"
	ActionRequestReschedule  Action = "reschedule.request"
	ActionDecideReschedule   Action = "reschedule.decide"
	ActionProvisionKiln      Action = "kiln.provision"
	ActionReadTelemetry      Action = "telemetry.read"
	ActionManageSensors      Action = "sensor.manage"
	ActionManageAccounts     Action = "account.manage"
	ActionSearch             Action = "search"
	ActionReadNotifications  Action = "notification.read"
)

// Can is the capability table. Ownership and jurisdiction checks happen on
// top of it in the service layer.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		switch action {
		case ActionReadPermission, ActionReassignPermission, ActionProvisionKiln,
			ActionReadTelemetry, ActionManageSensors, ActionManageAccounts,
			ActionSearch, ActionReadNotifications:
			return true
		}
		return false
	case RoleApprover:
		switch action {
		case ActionReadPermission, ActionDecidePermission, ActionNotePermission,
			ActionDecideAppointment, ActionDecideReschedule, ActionReadTelemetry,
			ActionSearch, ActionReadNotifications:
			return true
		}
		return false
	case RoleOperator:
		switch action {
		case ActionManageKiln, ActionUploadDocument, ActionSubmitPermission,
			ActionCancelPermission, ActionReadPermission, ActionRequestAppointment,
			ActionRequestReschedule, ActionReadTelemetry, ActionReadNotifications:
			return true
		}
		return false
	default:
		return false
	}
}

// Normalize maps a stored role string to a Role. Unknown values map to the
// empty role, which has no capabilities.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleOperator, RoleApprover, RoleAdmin:
		return Role(role)
	default:
		return ""
	}
}
