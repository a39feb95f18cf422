package chat

// Capability describes what a module can process and what resources it requires.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
}

// InterestSet describes event selection criteria for capability negotiation.
type InterestSet struct {
	Kinds []EventKind
	// Sources restricts delivery to events published by these driver instances.
	Sources []EventSource
	// RequireText skips messages whose text is blank.
	RequireText bool
	// IgnoreBots skips events authored by automated accounts.
	IgnoreBots bool
}

// Matches reports whether an event satisfies the declared interest set.
func (i InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(i.Kinds) > 0 && !containsKind(i.Kinds, event.Kind) {
		return false
	}
	if len(i.Sources) > 0 && !containsSource(i.Sources, event.Source) {
		return false
	}
	if i.RequireText && (event.Message == nil || isBlank(event.Message.Text)) {
		return false
	}
	if i.IgnoreBots && event.Actor.IsBot {
		return false
	}

	return true
}

// Allows reports whether this interest set can safely satisfy another filter.
func (i InterestSet) Allows(filter InterestSet) bool {
	if len(i.Kinds) > 0 && !allKindsIncluded(filter.Kinds, i.Kinds) {
		return false
	}
	if i.RequireText && !filter.RequireText {
		return false
	}
	if i.IgnoreBots && !filter.IgnoreBots {
		return false
	}

	return true
}

// containsKind reports whether target is present in kinds.
func containsKind(kinds []EventKind, target EventKind) bool {
	for _, candidate := range kinds {
		if candidate == target {
			return true
		}
	}

	return false
}

// containsSource matches by platform and, when set, by driver instance id.
func containsSource(sources []EventSource, target EventSource) bool {
	for _, candidate := range sources {
		if candidate.Platform != "" && candidate.Platform != target.Platform {
			continue
		}
		if candidate.ID != "" && candidate.ID != target.ID {
			continue
		}
		return true
	}

	return false
}

// allKindsIncluded reports whether subset is fully contained in allowed.
func allKindsIncluded(subset, allowed []EventKind) bool {
	if len(subset) == 0 {
		return false
	}
	for _, item := range subset {
		if !containsKind(allowed, item) {
			return false
		}
	}

	return true
}

func isBlank(text string) bool {
	for _, r := range text {
		switch r {
		case ' ', '\t', '\r', '\n':
		default:
			return false
		}
	}

	return true
}
