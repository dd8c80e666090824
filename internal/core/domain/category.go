package domain

// Category names a subscription channel.
type Category string

const (
	CategoryNotification     Category = "notification"
	CategoryTicketUpdate     Category = "ticket-update"
	CategoryNewTicket        Category = "new-ticket"
	CategoryConnectionChange Category = "connection-change"
)

// Categories lists every category in a stable order.
var Categories = []Category{
	CategoryNotification,
	CategoryTicketUpdate,
	CategoryNewTicket,
	CategoryConnectionChange,
}

// IsValid checks if the category is one of the known categories
func (c Category) IsValid() bool {
	switch c {
	case CategoryNotification, CategoryTicketUpdate, CategoryNewTicket, CategoryConnectionChange:
		return true
	}
	return false
}
