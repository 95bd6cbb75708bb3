package gateway

// lock blocks until key is free and returns the matching unlock func. Keys
// are order ids or customer-scoped idempotency keys.
func (g *Gateway) lock(key string) (unlock func()) {
	g.locks.Lock(key)
	return func() {
		_ = g.locks.Unlock(key)
	}
}
