package pix

// ChargeStatus is the set of gateway charge states the reconciliation engine
// understands. Anything the gateway reports outside this set parses to
// StatusUnrecognized and is carried verbatim in RawStatus; an unrecognized
// status never triggers a transition.
type ChargeStatus int

const (
	StatusUnrecognized ChargeStatus = iota
	StatusActive
	StatusSettled
	StatusRemovedByPayee
	StatusRemovedByProvider
)

// ParseChargeStatus maps the gateway's wire status to the local union.
func ParseChargeStatus(raw string) ChargeStatus {
	switch raw {
	case "ATIVA":
		return StatusActive
	case "CONCLUIDA":
		return StatusSettled
	case "REMOVIDA_PELO_USUARIO_RECEBEDOR":
		return StatusRemovedByPayee
	case "REMOVIDA_PELO_PSP":
		return StatusRemovedByProvider
	default:
		return StatusUnrecognized
	}
}

func (s ChargeStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusSettled:
		return "settled"
	case StatusRemovedByPayee:
		return "removed_by_payee"
	case StatusRemovedByProvider:
		return "removed_by_provider"
	default:
		return "unrecognized"
	}
}
