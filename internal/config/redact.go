package config

import "strings"

// Redacted returns a copy of c safe to print. Literal API keys are masked;
// ${ENV_VAR} references are kept since they name, not hold, the secret.
func (c *Config) Redacted() *Config {
	out := *c
	out.Providers = make(map[string]ProviderCfg, len(c.Providers))
	for name, p := range c.Providers {
		if !envRef.MatchString(p.APIKey) {
			p.APIKey = MaskSecret(p.APIKey)
		}
		out.Providers[name] = p
	}
	return &out
}

// MaskSecret keeps the first and last four characters of long values and
// hides everything else.
func MaskSecret(value string) string {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return ""
	case len(value) <= 8:
		return "****"
	default:
		return value[:4] + "..." + value[len(value)-4:]
	}
}
