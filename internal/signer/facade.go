package signer

import "sync"

// Switch is a thin delegating wrapper around a swappable current signer,
// so call sites keep a single handle while the backing algorithm or key
// source is reconfigured.
type Switch struct {
	mu  sync.RWMutex
	cur Signer
}

// NewSwitch wraps an initial signer.
func NewSwitch(s Signer) *Switch {
	return &Switch{cur: s}
}

// Use replaces the current signer.
func (w *Switch) Use(s Signer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cur = s
}

// Sign implements Signer by delegating to the current signer.
func (w *Switch) Sign(data any, keyID string, metadata map[string]any) (*Result, error) {
	w.mu.RLock()
	cur := w.cur
	w.mu.RUnlock()
	return cur.Sign(data, keyID, metadata)
}

// Verify implements Signer by delegating to the current signer.
func (w *Switch) Verify(data any, res *Result) bool {
	w.mu.RLock()
	cur := w.cur
	w.mu.RUnlock()
	return cur.Verify(data, res)
}

// Algorithm implements Signer by delegating to the current signer.
func (w *Switch) Algorithm() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur.Algorithm()
}
