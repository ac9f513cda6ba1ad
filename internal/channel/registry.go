package channel

import "sort"

// Registry holds the channel profiles in effect for this deployment.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	version  string
	profiles map[Type]Profile
}

// Override contains per-channel config overrides. Zero fields keep the
// built-in default.
type Override struct {
	MaxMessagesPerMinute int       `yaml:"max_messages_per_minute"`
	MaxMessagesPerHour   int       `yaml:"max_messages_per_hour"`
	MaxMessagesPerDay    int       `yaml:"max_messages_per_day"`
	DefaultDelayMs       int       `yaml:"default_delay_ms"`
	MaxMessageLength     int       `yaml:"max_message_length"`
	BanRisk              RiskClass `yaml:"ban_risk"`
}

// NewRegistry builds a registry from the built-in defaults plus config
// overrides. Unknown override keys are ignored.
func NewRegistry(version string, overrides map[string]Override) *Registry {
	profiles := defaultProfiles()

	for name, ov := range overrides {
		p, ok := profiles[Type(name)]
		if !ok {
			continue
		}
		if ov.MaxMessagesPerMinute > 0 {
			p.MaxMessagesPerMinute = ov.MaxMessagesPerMinute
		}
		if ov.MaxMessagesPerHour > 0 {
			p.MaxMessagesPerHour = ov.MaxMessagesPerHour
		}
		if ov.MaxMessagesPerDay > 0 {
			p.MaxMessagesPerDay = ov.MaxMessagesPerDay
		}
		if ov.DefaultDelayMs > 0 {
			p.DefaultDelayMs = ov.DefaultDelayMs
		}
		if ov.MaxMessageLength > 0 {
			p.MaxMessageLength = ov.MaxMessageLength
		}
		if ov.BanRisk == RiskLow || ov.BanRisk == RiskHigh {
			p.BanRisk = ov.BanRisk
		}
		profiles[Type(name)] = p
	}

	return &Registry{version: version, profiles: profiles}
}

// Version returns the profile set version string from config.
func (r *Registry) Version() string {
	return r.version
}

// Lookup returns the profile for a channel type. Unknown types fall
// back to the most conservative profile (unofficial web automation),
// so a typo in a request degrades to slower sending, never to an error.
func (r *Registry) Lookup(t Type) Profile {
	if p, ok := r.profiles[t]; ok {
		return p
	}
	fallback := r.profiles[TypeWhatsAppWeb]
	fallback.Type = t
	return fallback
}

// Known reports whether the channel type has an explicit profile.
func (r *Registry) Known(t Type) bool {
	_, ok := r.profiles[t]
	return ok
}

// List returns all profiles sorted by channel type name.
func (r *Registry) List() []Profile {
	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
