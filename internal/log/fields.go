package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldOwnerID     = "owner_id"
	FieldTemplateID  = "template_id"
	FieldAmountCents = "amount_cents"
	FieldFrequency   = "frequency"
	FieldDueDate     = "due_date"
	FieldPaymentID   = "payment_id"
	FieldPlanID      = "plan_id"
	FieldCouponCode  = "coupon_code"
	FieldSheetsRef   = "sheets_ref"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentHTTP       = "http"
	ComponentObligation = "obligation"
	ComponentBilling    = "billing"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentSheets     = "sheets"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpList      = "list"
	OpPay       = "pay"
	OpReconcile = "reconcile"
	OpCheckout  = "checkout"
	OpExport    = "export"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)
