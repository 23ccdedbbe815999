package registry

type RegisterOption interface {
	applyRegisterOption(registerConfig) registerConfig
}

type registerOptions []RegisterOption

func (opts registerOptions) applyRegisterOptions(cfg registerConfig) registerConfig {
	for _, opt := range opts {
		cfg = opt.applyRegisterOption(cfg)
	}
	return cfg
}

type registerOptionFunc func(registerConfig) registerConfig

func (f registerOptionFunc) applyRegisterOption(cfg registerConfig) registerConfig {
	return f(cfg)
}

// WithID registers the action under the given identifier instead of its own ID. This allows
// exposing the same action under an alias.
func WithID(id string) RegisterOption {
	return registerOptionFunc(func(cfg registerConfig) registerConfig {
		cfg.ID = id
		return cfg
	})
}
