package domain

// WalletInfo is the snapshot of the wallet state refreshed from the engine.
type WalletInfo struct {
	BalanceSat        uint64
	PendingReceiveSat uint64
	PendingSendSat    uint64
	NodeID            string
	Pubkey            string
}

// WalletInfoChanged reports whether the two snapshots differ on any of the
// observable fields. Observers are notified only when this returns true, so
// redundant refreshes don't cause churn downstream.
func WalletInfoChanged(oldInfo, newInfo *WalletInfo) bool {
	if oldInfo == nil && newInfo == nil {
		return false
	}
	if oldInfo == nil || newInfo == nil {
		return true
	}
	return oldInfo.BalanceSat != newInfo.BalanceSat ||
		oldInfo.PendingReceiveSat != newInfo.PendingReceiveSat ||
		oldInfo.PendingSendSat != newInfo.PendingSendSat ||
		oldInfo.NodeID != newInfo.NodeID
}
