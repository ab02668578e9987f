// Package config loads typed configuration structs from the environment.
//
// Each package declares its own Config with caarlos0/env tags; the service
// entrypoint calls Load for every struct it needs. A local .env file, when
// present, is applied once before the first parse.
package config
