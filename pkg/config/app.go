package config

import "strings"

// App holds process-wide settings shared by several components.
type App struct {
	Env string `env:"APP_ENV" envDefault:"development"`
	URL string `env:"APP_URL" envDefault:"http://localhost:3000"`
}

// IsProduction reports whether the service runs in production mode.
func (a App) IsProduction() bool {
	switch strings.ToLower(a.Env) {
	case "production", "prod":
		return true
	}
	return false
}

// AppURL joins the public app URL with a path, avoiding double slashes.
func (a App) AppURL(path string) string {
	return strings.TrimRight(a.URL, "/") + "/" + strings.TrimLeft(path, "/")
}
