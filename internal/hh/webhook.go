package hh

// Webhook action types pushed by hh.ru. Any other action type is
// acknowledged and ignored, keeping the endpoint forward-compatible.
const (
	ActionNewResponseOrInvitation = "NEW_RESPONSE_OR_INVITATION_VACANCY"
	ActionNegotiationStateChange  = "NEGOTIATION_EMPLOYER_STATE_CHANGE"
)
