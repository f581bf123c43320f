package config

import "fmt"

// ConfigError locates a problem in the INI file.
type ConfigError struct {
	Section string
	Option  string
	Message string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Option != "":
		return fmt.Sprintf("[%s] %s: %s", e.Section, e.Option, e.Message)
	case e.Section != "":
		return fmt.Sprintf("[%s]: %s", e.Section, e.Message)
	}
	return e.Message
}
