package domain

// DeliveryResult is the per-attempt outcome of the delivery orchestrator:
// which deliverable tasks went out and which failed, with reasons. Transient;
// the failed set is persisted on the order's metadata for retry visibility.
type DeliveryResult struct {
	Delivered []string
	Failed    map[string]string
}

func (r DeliveryResult) AllDelivered() bool {
	return len(r.Failed) == 0
}
