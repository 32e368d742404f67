package application

// Authorizer decides whether a principal may modify a meeting.
type Authorizer interface {
	CanManage(principal Principal, meeting Meeting) bool
}

// OrganizerOrAdmin lets the organizer and administrators manage a meeting.
type OrganizerOrAdmin struct{}

// CanManage implements Authorizer.
func (OrganizerOrAdmin) CanManage(principal Principal, meeting Meeting) bool {
	if principal.UserID == "" {
		return false
	}
	return principal.IsAdmin || principal.UserID == meeting.OrganizerID
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(principal Principal, meeting Meeting) bool

// CanManage implements Authorizer.
func (f AuthorizerFunc) CanManage(principal Principal, meeting Meeting) bool {
	return f(principal, meeting)
}
