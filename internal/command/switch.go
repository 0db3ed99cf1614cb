package command

// SwitchFormat renders a named switch with its value.
type SwitchFormat interface {
	Format(name, value string) []string
}

// UnixSwitchFormat renders "-name value".
type UnixSwitchFormat struct{}

func (UnixSwitchFormat) Format(name, value string) []string {
	if value == "" {
		return []string{"-" + name}
	}
	return []string{"-" + name, value}
}

// UnixCompactSwitchFormat renders "-namevalue", as used for JVM options.
type UnixCompactSwitchFormat struct{}

func (UnixCompactSwitchFormat) Format(name, value string) []string {
	return []string{"-" + name + value}
}

// LongSwitchFormat renders "--name=value".
type LongSwitchFormat struct{}

func (LongSwitchFormat) Format(name, value string) []string {
	if value == "" {
		return []string{"--" + name}
	}
	return []string{"--" + name + "=" + value}
}

// SwitchFormatByName maps config names to formats. Unknown names get the unix format.
func SwitchFormatByName(name string) SwitchFormat {
	switch name {
	case "compact":
		return UnixCompactSwitchFormat{}
	case "long":
		return LongSwitchFormat{}
	default:
		return UnixSwitchFormat{}
	}
}

func formatOrDefault(f SwitchFormat) SwitchFormat {
	if f == nil {
		return UnixSwitchFormat{}
	}
	return f
}
