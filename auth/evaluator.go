package auth

import (
	"sort"

	"smartcradle/models"
)

// Action names a protected operation.
type Action string

// Role-gated actions.
const (
	ActionViewSystemLogs          Action = "view_system_logs"
	ActionManagePermissions       Action = "manage_permissions"
	ActionManageRoles             Action = "manage_roles"
	ActionManageUsers             Action = "manage_users"
	ActionViewAdminDashboard      Action = "view_admin_dashboard"
	ActionViewParentDashboard     Action = "view_parent_dashboard"
	ActionViewBabysitterDashboard Action = "view_babysitter_dashboard"
	ActionManageAlerts            Action = "manage_alerts"
)

// Device-scoped actions. They need a device in the Resource.
const (
	ActionDeviceView              Action = "device.view"
	ActionDeviceMonitor           Action = "device.monitor"
	ActionDeviceUpdate            Action = "device.update"
	ActionDeviceDelete            Action = "device.delete"
	ActionDeviceControl           Action = "device.control"
	ActionDeviceViewHealth        Action = "device.view_health"
	ActionDeviceManageUsers       Action = "device.manage_users"
	ActionDeviceManageBabysitters Action = "device.manage_babysitters"
)

// System log record actions.
const (
	ActionLogView   Action = "log.view"
	ActionLogCreate Action = "log.create"
	ActionLogUpdate Action = "log.update"
	ActionLogDelete Action = "log.delete"
)

type Decision bool

const (
	Allow Decision = true
	Deny  Decision = false
)

func (d Decision) String() string {
	if d {
		return "allow"
	}
	return "deny"
}

// Resource is the optional object of an action. DeviceID 0 means none.
type Resource struct {
	DeviceID uint
}

func DeviceResource(id uint) Resource { return Resource{DeviceID: id} }

// DeviceGrant is a user's relationship to one device.
type DeviceGrant struct {
	DeviceID     uint                      `json:"device_id"`
	Relationship models.RelationshipType   `json:"relationship"`
	Permissions  []models.DevicePermission `json:"permissions"`
}

// Subject is the read-only snapshot an Evaluator decides on. It is safe to cache.
type Subject struct {
	UserID      uint          `json:"user_id"`
	Roles       []string      `json:"roles"`
	Permissions []string      `json:"permissions"`
	Devices     []DeviceGrant `json:"devices"`
}

func (s *Subject) HasRole(slug string) bool {
	for _, r := range s.Roles {
		if r == slug {
			return true
		}
	}
	return false
}

func (s *Subject) HasPermission(slug string) bool {
	for _, p := range s.Permissions {
		if p == slug {
			return true
		}
	}
	return false
}

// Device returns the grant for the device, if the subject has a relationship with it.
func (s *Subject) Device(deviceID uint) (DeviceGrant, bool) {
	for _, g := range s.Devices {
		if g.DeviceID == deviceID {
			return g, true
		}
	}
	return DeviceGrant{}, false
}

// BuildSubject snapshots a user loaded with Roles.Permissions and its device relationships.
func BuildSubject(user *models.User, rels []models.DeviceUser) *Subject {
	s := &Subject{
		UserID:      user.ID,
		Roles:       make([]string, 0, len(user.Roles)),
		Permissions: []string{},
		Devices:     make([]DeviceGrant, 0, len(rels)),
	}
	seen := make(map[string]struct{})
	for _, role := range user.Roles {
		s.Roles = append(s.Roles, role.Slug)
		for _, p := range role.Permissions {
			if _, ok := seen[p.Slug]; ok {
				continue
			}
			seen[p.Slug] = struct{}{}
			s.Permissions = append(s.Permissions, p.Slug)
		}
	}
	sort.Strings(s.Roles)
	sort.Strings(s.Permissions)
	for _, rel := range rels {
		s.Devices = append(s.Devices, DeviceGrant{
			DeviceID:     rel.DeviceID,
			Relationship: rel.RelationshipType,
			Permissions:  append([]models.DevicePermission(nil), rel.Permissions...),
		})
	}
	return s
}

// GrantsDevicePermission reports whether a relationship permission set
// covers want. manage covers everything; control and control_device are the
// same capability.
func GrantsDevicePermission(perms []models.DevicePermission, want models.DevicePermission) bool {
	for _, p := range perms {
		if p == want || p == models.DevicePermManage {
			return true
		}
		switch want {
		case models.DevicePermControl, models.DevicePermControlDevice:
			if p == models.DevicePermControl || p == models.DevicePermControlDevice {
				return true
			}
		}
	}
	return false
}

type roleRule struct {
	roles      []string
	permission string
}

type deviceRule struct {
	relationships []models.RelationshipType
	permission    models.DevicePermission
}

var (
	anyRelationship = []models.RelationshipType{models.RelationshipOwner, models.RelationshipCaretaker, models.RelationshipViewer}
	ownerOnly       = []models.RelationshipType{models.RelationshipOwner}
)

// Evaluator is a pure decision function over a Subject. Any matching rule
// allows; nothing matches means deny. It holds no mutable state.
type Evaluator struct {
	roleRules   map[Action]roleRule
	deviceRules map[Action]deviceRule
	logRules    map[Action]bool
}

func NewEvaluator() *Evaluator {
	admin := []string{models.RoleAdmin}
	return &Evaluator{
		roleRules: map[Action]roleRule{
			ActionViewSystemLogs:          {admin, string(ActionViewSystemLogs)},
			ActionManagePermissions:       {admin, string(ActionManagePermissions)},
			ActionManageRoles:             {admin, string(ActionManageRoles)},
			ActionManageUsers:             {admin, string(ActionManageUsers)},
			ActionViewAdminDashboard:      {admin, string(ActionViewAdminDashboard)},
			ActionViewParentDashboard:     {[]string{models.RoleAdmin, models.RoleParent}, string(ActionViewParentDashboard)},
			ActionViewBabysitterDashboard: {[]string{models.RoleAdmin, models.RoleBabysitter}, string(ActionViewBabysitterDashboard)},
			ActionManageAlerts:            {admin, string(ActionManageAlerts)},
		},
		deviceRules: map[Action]deviceRule{
			ActionDeviceView:              {relationships: anyRelationship},
			ActionDeviceMonitor:           {relationships: anyRelationship},
			ActionDeviceUpdate:            {relationships: []models.RelationshipType{models.RelationshipOwner, models.RelationshipCaretaker}},
			ActionDeviceDelete:            {relationships: ownerOnly},
			ActionDeviceManageUsers:       {relationships: ownerOnly},
			ActionDeviceManageBabysitters: {relationships: ownerOnly},
			ActionDeviceControl:           {permission: models.DevicePermControlDevice},
			ActionDeviceViewHealth:        {permission: models.DevicePermViewHealth},
		},
		// true: admins may; false: nobody may.
		logRules: map[Action]bool{
			ActionLogView:   true,
			ActionLogCreate: false,
			ActionLogUpdate: false,
			ActionLogDelete: false,
		},
	}
}

// Known reports whether the evaluator has a rule for the action.
func (e *Evaluator) Known(action Action) bool {
	_, role := e.roleRules[action]
	_, device := e.deviceRules[action]
	_, log := e.logRules[action]
	return role || device || log
}

// Actions lists every action with a rule, sorted.
func (e *Evaluator) Actions() []Action {
	out := make([]Action, 0, len(e.roleRules)+len(e.deviceRules)+len(e.logRules))
	for a := range e.roleRules {
		out = append(out, a)
	}
	for a := range e.deviceRules {
		out = append(out, a)
	}
	for a := range e.logRules {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Evaluator) Evaluate(subject *Subject, action Action, resource Resource) Decision {
	if subject == nil {
		return Deny
	}

	if adminMay, ok := e.logRules[action]; ok {
		return Decision(adminMay && subject.HasRole(models.RoleAdmin))
	}

	if rule, ok := e.roleRules[action]; ok {
		for _, r := range rule.roles {
			if subject.HasRole(r) {
				return Allow
			}
		}
		return Decision(rule.permission != "" && subject.HasPermission(rule.permission))
	}

	if rule, ok := e.deviceRules[action]; ok {
		if resource.DeviceID == 0 {
			return Deny
		}
		if subject.HasRole(models.RoleAdmin) {
			return Allow
		}
		grant, ok := subject.Device(resource.DeviceID)
		if !ok {
			return Deny
		}
		for _, rt := range rule.relationships {
			if grant.Relationship == rt {
				return Allow
			}
		}
		return Decision(rule.permission != "" && GrantsDevicePermission(grant.Permissions, rule.permission))
	}

	return Deny
}
