package domain

// DeliveryStatus is the lifecycle status of a delivery.
type DeliveryStatus string

// Delivery statuses.
const (
	StatusPending   DeliveryStatus = "pending"
	StatusAssigned  DeliveryStatus = "assigned"
	StatusPickedUp  DeliveryStatus = "picked_up"
	StatusInTransit DeliveryStatus = "in_transit"
	StatusDelivered DeliveryStatus = "delivered"
	StatusCancelled DeliveryStatus = "cancelled"
)

var allStatuses = [...]DeliveryStatus{
	StatusPending, StatusAssigned, StatusPickedUp, StatusInTransit, StatusDelivered, StatusCancelled,
}

// ActiveStatuses are the statuses in which a driver is committed to the delivery.
var ActiveStatuses = [...]DeliveryStatus{StatusAssigned, StatusPickedUp, StatusInTransit}

// Valid checks if the DeliveryStatus is known.
func (s DeliveryStatus) Valid() bool {
	for _, v := range allStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Active reports whether a delivery in this status holds its driver.
func (s DeliveryStatus) Active() bool {
	for _, v := range ActiveStatuses {
		if s == v {
			return true
		}
	}
	return false
}
