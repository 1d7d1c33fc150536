package models

// TriggerType identifies the platform event that can start a workflow.
type TriggerType string

const (
	TriggerFormSubmit      TriggerType = "form_submit"
	TriggerRecordCreate    TriggerType = "record_create"
	TriggerRecordUpdate    TriggerType = "record_update"
	TriggerRecordDelete    TriggerType = "record_delete"
	TriggerUserSignup      TriggerType = "user_signup"
	TriggerUserLogin       TriggerType = "user_login"
	TriggerOrderPlaced     TriggerType = "order_placed"
	TriggerPaymentReceived TriggerType = "payment_received"
	TriggerSchedule        TriggerType = "schedule"
	TriggerWebhook         TriggerType = "webhook"
	TriggerManual          TriggerType = "manual"
)

// TriggerTypes lists every trigger type accepted by the dispatcher.
func TriggerTypes() []TriggerType {
	return []TriggerType{
		TriggerFormSubmit,
		TriggerRecordCreate,
		TriggerRecordUpdate,
		TriggerRecordDelete,
		TriggerUserSignup,
		TriggerUserLogin,
		TriggerOrderPlaced,
		TriggerPaymentReceived,
		TriggerSchedule,
		TriggerWebhook,
		TriggerManual,
	}
}

func (t TriggerType) IsValid() bool {
	for _, known := range TriggerTypes() {
		if t == known {
			return true
		}
	}

	return false
}

// NaturalKeyFields returns the payload fields that identify one occurrence of
// the trigger, in priority order. All listed fields must be present.
func (t TriggerType) NaturalKeyFields() [][]string {
	common := [][]string{{"event_id"}}

	switch t {
	case TriggerFormSubmit:
		return append(common, []string{"submission_id"})
	case TriggerRecordCreate, TriggerRecordDelete:
		return append(common, []string{"record_id"})
	case TriggerRecordUpdate:
		return append(common, []string{"record_id", "version"}, []string{"record_id", "updated_at"})
	case TriggerUserSignup:
		return append(common, []string{"user_id"})
	case TriggerUserLogin:
		// user_id alone names the user, not one login.
		return append(common, []string{"session_id"})
	case TriggerOrderPlaced:
		return append(common, []string{"order_id"})
	case TriggerPaymentReceived:
		return append(common, []string{"payment_id"})
	case TriggerSchedule:
		return append(common, []string{"workflow_id", "scheduled_at"})
	case TriggerWebhook:
		return append(common, []string{"delivery_id"})
	default:
		return common
	}
}
