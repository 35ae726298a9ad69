package alert

// Dispatcher fans out alert events to matching webhook configurations.
type Dispatcher struct {
	configs []Config
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []Config) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	return &Dispatcher{configs: configs}
}

// Dispatch sends the event to all webhooks whose Events list matches.
// Matching is on the verdict or on the security event type.
// Fires goroutines — does not block the caller.
func (d *Dispatcher) Dispatch(event Event) {
	for _, cfg := range d.configs {
		if matches(cfg.Events, event) {
			go Send(cfg, event)
		}
	}
}

func matches(events []string, event Event) bool {
	for _, e := range events {
		if e == event.Verdict {
			return true
		}
		if event.Type != "" && e == event.Type {
			return true
		}
	}
	return false
}
