// Package permission computes editing capabilities from a collaborator's
// role data. Resolve is pure: same inputs, same capabilities.
package permission

import "sort"

type Role string
type PageAccess string
type Interaction string

const (
	RoleOwner     Role = "owner"
	RolePublisher Role = "publisher"
	RoleAuthor    Role = "author"
	// RoleAdmin is the platform-level role; it never appears on a book
	// friend row but arrives through the role provider for site admins.
	RoleAdmin Role = "admin"
)

const (
	AccessAllPages PageAccess = "all_pages"
	AccessOwnPage  PageAccess = "own_page"
)

const (
	InteractionFullEditSettings Interaction = "full_edit_with_settings"
	InteractionFullEdit         Interaction = "full_edit"
	InteractionFormOnly         Interaction = "form_only"
	InteractionNoAccess         Interaction = "no_access"
)

// Grant is one user's role-bound relationship to a book.
type Grant struct {
	Role          Role
	Interaction   Interaction
	PageAccess    PageAccess
	AssignedPages []int
}

// Capabilities is the resolved permission set for one page navigation.
// It is computed once and cached on the editing session rather than
// recomputed per render.
type Capabilities struct {
	CanAccessEditor   bool
	CanEditCanvas     bool
	CanManageSettings bool
	// FormOnly signals a redirect to the response-collection view.
	FormOnly     bool
	VisiblePages []int
	ActivePage   int
	// PageChanged reports that the requested page was outside the
	// visible set and ActivePage was clamped.
	PageChanged bool
}

// Resolve computes capabilities for a grant against the book's page
// numbers and the requested current page. Pages outside the visible set
// are excluded from navigation entirely, not merely read-only.
func Resolve(g Grant, pageNumbers []int, currentPage int) Capabilities {
	switch g.Interaction {
	case InteractionFullEdit, InteractionFullEditSettings:
	case InteractionFormOnly:
		return Capabilities{FormOnly: true}
	default:
		// no_access and anything unrecognized deny the editor outright.
		return Capabilities{}
	}

	caps := Capabilities{
		CanAccessEditor:   true,
		CanEditCanvas:     true,
		CanManageSettings: g.Interaction == InteractionFullEditSettings,
	}

	if g.Role == RoleAuthor && g.PageAccess == AccessOwnPage {
		caps.VisiblePages = intersect(g.AssignedPages, pageNumbers)
	} else {
		caps.VisiblePages = append([]int(nil), pageNumbers...)
		sort.Ints(caps.VisiblePages)
	}

	if len(caps.VisiblePages) == 0 {
		return Capabilities{}
	}

	caps.ActivePage = currentPage
	if !Visible(caps, currentPage) {
		caps.ActivePage = caps.VisiblePages[0]
		caps.PageChanged = true
	}
	return caps
}

// Visible reports whether a page number is in the navigable set.
func Visible(caps Capabilities, pageNumber int) bool {
	for _, n := range caps.VisiblePages {
		if n == pageNumber {
			return true
		}
	}
	return false
}

func intersect(assigned, existing []int) []int {
	present := make(map[int]bool, len(existing))
	for _, n := range existing {
		present[n] = true
	}
	var out []int
	for _, n := range assigned {
		if present[n] {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

// NormalizeRole clamps unknown role strings to the least privilege.
func NormalizeRole(role string) Role {
	switch Role(role) {
	case RoleOwner, RolePublisher, RoleAuthor, RoleAdmin:
		return Role(role)
	default:
		return RoleAuthor
	}
}

// NormalizeInteraction clamps unknown interaction strings to no access.
func NormalizeInteraction(level string) Interaction {
	switch Interaction(level) {
	case InteractionFullEditSettings, InteractionFullEdit, InteractionFormOnly, InteractionNoAccess:
		return Interaction(level)
	default:
		return InteractionNoAccess
	}
}

// NormalizePageAccess clamps unknown access strings to own pages.
func NormalizePageAccess(access string) PageAccess {
	switch PageAccess(access) {
	case AccessAllPages, AccessOwnPage:
		return PageAccess(access)
	default:
		return AccessOwnPage
	}
}
