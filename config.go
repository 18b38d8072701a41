package tally

import "time"

// Config is an EndPoint's configuration.
type Config struct {
	// Enabled is reserved; the EndPoint itself does not consult it.
	Enabled bool
	// InitConfig is sent back to every indicator whose registration is accepted.
	InitConfig map[string]interface{}
	// QueryTimeout bounds each fan-out. Zero means no deadline beyond the caller's context.
	QueryTimeout time.Duration
}

// DefaultConfig is the configuration of a freshly constructed EndPoint.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		InitConfig: map[string]interface{}{}}
}

// A ConfigPatch is shallow-merged into a Config: nil fields are left alone, and a non-nil InitConfig replaces the
// current one wholesale.
type ConfigPatch struct {
	Enabled      *bool
	InitConfig   map[string]interface{}
	QueryTimeout *time.Duration
}

func (c Config) merge(p ConfigPatch) Config {
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if p.InitConfig != nil {
		c.InitConfig = copyMap(p.InitConfig)
	}
	if p.QueryTimeout != nil {
		c.QueryTimeout = *p.QueryTimeout
	}
	return c
}

func (c Config) copy() Config {
	c.InitConfig = copyMap(c.InitConfig)
	return c
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
