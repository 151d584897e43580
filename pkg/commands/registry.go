package commands

type Registry struct {
	defs []Definition
}

func NewRegistry(defs []Definition) *Registry {
	return &Registry{defs: defs}
}

// ForChannel returns the definitions visible on channel. A definition
// with no Channels is visible everywhere.
func (r *Registry) ForChannel(channel string) []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		if len(d.Channels) == 0 || contains(d.Channels, channel) {
			out = append(out, d)
		}
	}
	return out
}
