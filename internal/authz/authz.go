// Package authz maps coarse roles to fine-grained capabilities. The
// mapping is fixed at compile time; there is no runtime role editing.
package authz

// Role is one of the closed set of admin roles.
type Role string

const (
	RoleWebsiteAdmin       Role = "website_admin"
	RoleBusinessProcessing Role = "business_processing"
	RoleCustomer           Role = "customer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := grants[r]
	return ok
}

// Capability is a fine-grained permission required by an endpoint.
type Capability string

const (
	ViewUsers         Capability = "VIEW_USERS"
	ManageUsers       Capability = "MANAGE_USERS"
	ViewSettings      Capability = "VIEW_SETTINGS"
	EditSettings      Capability = "EDIT_SETTINGS"
	ViewAuditLogs     Capability = "VIEW_AUDIT_LOGS"
	ViewAllOrders     Capability = "VIEW_ALL_ORDERS"
	UpdateOrderStatus Capability = "UPDATE_ORDER_STATUS"
	ViewOwnOrders     Capability = "VIEW_OWN_ORDERS"
	CreateProducts    Capability = "CREATE_PRODUCTS"
	EditProducts      Capability = "EDIT_PRODUCTS"
	DeleteProducts    Capability = "DELETE_PRODUCTS"
	ViewMedia         Capability = "VIEW_MEDIA"
	UploadMedia       Capability = "UPLOAD_MEDIA"
	DeleteMedia       Capability = "DELETE_MEDIA"
	ManageDiscounts   Capability = "MANAGE_DISCOUNTS"
	ViewGiftCards     Capability = "VIEW_GIFT_CARDS"
	ManageGiftCards   Capability = "MANAGE_GIFT_CARDS"
)

var allCapabilities = []Capability{
	ViewUsers, ManageUsers,
	ViewSettings, EditSettings,
	ViewAuditLogs,
	ViewAllOrders, UpdateOrderStatus, ViewOwnOrders,
	CreateProducts, EditProducts, DeleteProducts,
	ViewMedia, UploadMedia, DeleteMedia,
	ManageDiscounts,
	ViewGiftCards, ManageGiftCards,
}

var grants = map[Role]map[Capability]bool{
	RoleWebsiteAdmin: buildGrant(websiteAdminCaps()),
	RoleBusinessProcessing: buildGrant([]Capability{
		ViewAllOrders, UpdateOrderStatus,
		CreateProducts, EditProducts, DeleteProducts,
		ViewMedia, UploadMedia, DeleteMedia,
		ViewGiftCards,
	}),
	RoleCustomer: buildGrant([]Capability{ViewOwnOrders}),
}

// website_admin holds everything except the customer-only capability.
func websiteAdminCaps() []Capability {
	caps := make([]Capability, 0, len(allCapabilities))
	for _, c := range allCapabilities {
		if c == ViewOwnOrders {
			continue
		}
		caps = append(caps, c)
	}
	return caps
}

func buildGrant(caps []Capability) map[Capability]bool {
	m := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		m[c] = true
	}
	return m
}

// Has reports whether the role grants the capability. Unknown roles grant
// nothing.
func Has(role Role, cap Capability) bool {
	return grants[role][cap]
}

// HasAny reports whether the role grants at least one of caps.
func HasAny(role Role, caps ...Capability) bool {
	for _, c := range caps {
		if Has(role, c) {
			return true
		}
	}
	return false
}

// HasAll reports whether the role grants every one of caps.
func HasAll(role Role, caps ...Capability) bool {
	for _, c := range caps {
		if !Has(role, c) {
			return false
		}
	}
	return true
}

// HasRole reports whether role is one of roles.
func HasRole(role Role, roles ...Role) bool {
	for _, r := range roles {
		if role == r {
			return true
		}
	}
	return false
}
