package stage

// Health summarizes the readiness of a workflow stage. Detail carries the
// reason a stage is not ready, or a note on a reduced but working mode.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy reports a ready stage.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Limited reports a ready stage running without an optional collaborator.
func Limited(name, note string) Health {
	return Health{Name: name, Ready: true, Detail: note}
}

// Unhealthy reports a stage that cannot process messages.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// AllReady reports whether every stage is ready and lists the ones that are not.
func AllReady(checks []Health) (bool, []string) {
	var failing []string
	for _, h := range checks {
		if !h.Ready {
			failing = append(failing, h.Name)
		}
	}
	return len(failing) == 0, failing
}
