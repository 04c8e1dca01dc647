// Package consent holds the user's opt-in decision for analytics sharing.
//
// The Gate reads its Store on every check so that a revocation takes effect
// immediately. The recorder consults it twice: before an event is appended
// and again right before a batch is dispatched.
//
//	gate := consent.NewGate(sqliteStore)
//	if gate.IsSharingEnabled(ctx) {
//		// record or send
//	}
//
// Store implementations live in pkg/storage/sqlite and pkg/storage/redis;
// MemoryStore is provided for tests.
package consent
