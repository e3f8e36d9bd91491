package auth

import "strings"

// Role is the clinic role carried in the token.
type Role string

const (
	RolePatient   Role = "patient"
	RoleAuxiliary Role = "auxiliary"
	RoleDentist   Role = "dentist"
)

func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleAuxiliary, RoleDentist:
		return true
	}
	return false
}

// Staff roles act on any patient's appointments.
func (r Role) Staff() bool {
	return r == RoleAuxiliary || r == RoleDentist
}

// Principal is the authenticated caller.
type Principal struct {
	UserID    string
	Role      Role
	PatientID string
}

// CanBook: only patients book, and only for themselves.
func (p Principal) CanBook() bool {
	return p.Role == RolePatient
}

// CanManage reports whether p may change or delete something owned by patientID.
func (p Principal) CanManage(patientID string) bool {
	if p.Role.Staff() {
		return true
	}
	return p.Role == RolePatient && p.PatientID != "" && p.PatientID == patientID
}

func (p Principal) CanViewClinic() bool {
	return p.Role.Staff()
}
