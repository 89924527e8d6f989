package config

import "fmt"

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
// Secret values are masked.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		v := "(unset)"
		if s.secret {
			if s.extract(cfg) != "" {
				v = "(set)"
			}
		} else {
			v = fmt.Sprintf("%v", s.extract(cfg))
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  v,
		})
	}
	return result
}

// Keys lists every config key and its environment override, without
// reading any configuration source. Secrets are included: discovering
// which environment variable holds a credential is the point.
func Keys() []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		result = append(result, KeyInfo{Key: s.key, EnvVar: s.env})
	}
	return result
}
