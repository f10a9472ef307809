package schema

// CancelledNotificationParams contains parameters for cancellation notifications.
type CancelledNotificationParams struct {
	Reason    string    `json:"reason,omitempty"` // Optional reason for cancellation
	RequestID RequestID `json:"requestId"`        // The ID of the request to cancel
}
