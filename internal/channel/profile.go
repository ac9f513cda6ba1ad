package channel

// Type identifies a messaging provider category
type Type string

const (
	TypeWhatsApp    Type = "whatsapp"     // official Business API
	TypeWhatsAppWeb Type = "whatsapp_web" // unofficial / web automation
	TypeTelegram    Type = "telegram"
	TypeTikTok      Type = "tiktok"
	TypeSMS         Type = "sms"
)

// RiskClass classifies how ban-prone a channel is
type RiskClass string

const (
	RiskLow  RiskClass = "low"
	RiskHigh RiskClass = "high"
)

// Profile contains static per-channel sending constants.
// Profiles are configuration data versioned alongside provider policy
// changes; they are loaded at startup and never mutated.
type Profile struct {
	Type                 Type      `json:"type" yaml:"-"`
	MaxMessagesPerMinute int       `json:"max_messages_per_minute" yaml:"max_messages_per_minute"`
	MaxMessagesPerHour   int       `json:"max_messages_per_hour" yaml:"max_messages_per_hour"`
	MaxMessagesPerDay    int       `json:"max_messages_per_day" yaml:"max_messages_per_day"`
	DefaultDelayMs       int       `json:"default_delay_ms" yaml:"default_delay_ms"`
	MaxMessageLength     int       `json:"max_message_length" yaml:"max_message_length"`
	BanRisk              RiskClass `json:"ban_risk" yaml:"ban_risk"`
}

// defaultProfiles are the built-in provider constants. Config may
// override individual fields per channel.
func defaultProfiles() map[Type]Profile {
	return map[Type]Profile{
		TypeWhatsApp: {
			Type:                 TypeWhatsApp,
			MaxMessagesPerMinute: 60,
			MaxMessagesPerHour:   1800,
			MaxMessagesPerDay:    10000,
			DefaultDelayMs:       1000,
			MaxMessageLength:     4096,
			BanRisk:              RiskLow,
		},
		TypeWhatsAppWeb: {
			Type:                 TypeWhatsAppWeb,
			MaxMessagesPerMinute: 12,
			MaxMessagesPerHour:   180,
			MaxMessagesPerDay:    800,
			DefaultDelayMs:       5000,
			MaxMessageLength:     4096,
			BanRisk:              RiskHigh,
		},
		TypeTelegram: {
			Type:                 TypeTelegram,
			MaxMessagesPerMinute: 30,
			MaxMessagesPerHour:   1200,
			MaxMessagesPerDay:    5000,
			DefaultDelayMs:       2000,
			MaxMessageLength:     4096,
			BanRisk:              RiskLow,
		},
		TypeTikTok: {
			Type:                 TypeTikTok,
			MaxMessagesPerMinute: 10,
			MaxMessagesPerHour:   120,
			MaxMessagesPerDay:    500,
			DefaultDelayMs:       6000,
			MaxMessageLength:     1000,
			BanRisk:              RiskHigh,
		},
		TypeSMS: {
			Type:                 TypeSMS,
			MaxMessagesPerMinute: 100,
			MaxMessagesPerHour:   3000,
			MaxMessagesPerDay:    20000,
			DefaultDelayMs:       600,
			MaxMessageLength:     1600,
			BanRisk:              RiskLow,
		},
	}
}
