package appointment

// allowedNext is the closed transition table. Completed, cancelled and
// closed have no outgoing edges.
var allowedNext = map[Status][]Status{
	StatusBooked: {StatusDoctorApproved, StatusDoctorReschedule, StatusDoctorRejected, StatusCancelled},
	// The already-paid edge into confirmed covers re-approval after a
	// reschedule: the patient must not be asked to pay twice.
	StatusDoctorApproved:     {StatusAwaitPayment, StatusConfirmed, StatusCancelled},
	StatusAwaitPayment:       {StatusPaid, StatusPaymentOverdue, StatusDoctorReschedule, StatusCancelled},
	StatusPaid:               {StatusConfirmed, StatusDoctorReschedule, StatusCancelled},
	StatusConfirmed:          {StatusInConsult, StatusDoctorReschedule, StatusCancelled},
	StatusInConsult:          {StatusPrescriptionIssued, StatusCancelled},
	StatusPrescriptionIssued: {StatusReadyToDischarge, StatusCancelled},
	StatusReadyToDischarge:   {StatusCompleted, StatusCancelled},
	StatusDoctorRejected:     {StatusClosed},
	StatusDoctorReschedule:   {StatusBooked, StatusConfirmed, StatusCancelled},
	StatusPaymentOverdue:     {StatusClosed},
}

// blockingStatuses count against the one-appointment-per-day rule.
var blockingStatuses = []Status{StatusAwaitPayment, StatusBooked, StatusConfirmed}

// entryRoles lists which roles may drive an appointment INTO a status.
// Ownership (the doctor must be the assigned doctor, the patient the owner)
// is checked separately; system and admin bypass ownership.
var entryRoles = map[Status]map[Role]bool{
	StatusBooked:             {RolePatient: true, RoleSystem: true},
	StatusDoctorApproved:     {RoleDoctor: true},
	StatusDoctorRejected:     {RoleDoctor: true},
	StatusDoctorReschedule:   {RoleDoctor: true},
	StatusAwaitPayment:       {RoleSystem: true},
	StatusPaid:               {RolePatient: true, RoleSystem: true},
	StatusPaymentOverdue:     {RoleSystem: true},
	StatusConfirmed:          {RolePatient: true, RoleSystem: true},
	StatusInConsult:          {RoleDoctor: true},
	StatusPrescriptionIssued: {RoleDoctor: true},
	StatusReadyToDischarge:   {RoleDoctor: true},
	StatusCompleted:          {RoleDoctor: true, RoleAdmin: true},
	StatusCancelled:          {RolePatient: true, RoleDoctor: true, RoleAdmin: true},
	StatusClosed:             {RoleSystem: true, RoleAdmin: true},
}

// CanTransition reports whether the edge from -> to is in the table.
func CanTransition(from, to Status) bool {
	for _, next := range allowedNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing edges.
func IsTerminal(s Status) bool {
	return len(allowedNext[s]) == 0
}

// IsBlocking reports whether a status counts against the
// one-appointment-per-day rule.
func IsBlocking(s Status) bool {
	for _, b := range blockingStatuses {
		if b == s {
			return true
		}
	}
	return false
}

// authorized reports whether the actor may drive this appointment into
// target. Admin and system skip the ownership check.
func authorized(a *Appointment, actor Actor, target Status) bool {
	roles, ok := entryRoles[target]
	if !ok || !roles[actor.Role] {
		return false
	}
	switch actor.Role {
	case RoleDoctor:
		return actor.ID == a.DoctorID
	case RolePatient:
		return actor.ID == a.PatientID
	default:
		return true
	}
}
