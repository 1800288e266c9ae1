package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Operator
	out.Operator = cfg.Operator
	redact(&out.Operator.ApiKey)
	redact(&out.Operator.KeyPassword)

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Admin.Admins != nil {
		out.Admin.Admins = make([]string, len(cfg.Admin.Admins))
		copy(out.Admin.Admins, cfg.Admin.Admins)
	}
	if cfg.Admin.PaymentTokens != nil {
		out.Admin.PaymentTokens = make([]string, len(cfg.Admin.PaymentTokens))
		copy(out.Admin.PaymentTokens, cfg.Admin.PaymentTokens)
	}
	if cfg.Admin.NFTContracts != nil {
		out.Admin.NFTContracts = make([]string, len(cfg.Admin.NFTContracts))
		copy(out.Admin.NFTContracts, cfg.Admin.NFTContracts)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
