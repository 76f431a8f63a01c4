package reputation

// waiters reports how many callers wait on the running lookup for domain
func (v *Validator) waiters(domain string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if fl, ok := v.flights[domain]; ok {
		return fl.waiters
	}
	return 0
}
