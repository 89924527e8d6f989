package config

// ConfigBackend abstracts where file-based config values come from, so
// tests can substitute an in-memory map for the YAML file on disk.
// Lookups use dotted keys ("embedding.timeout") mirroring the file's
// nesting. Absent keys report ok=false and leave the default in place.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
}
