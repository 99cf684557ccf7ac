package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Providers lists the catalog with each provider's capability and supported
// auth modes, for client configuration screens.
func (a *App) Providers(w http.ResponseWriter, r *http.Request) {
	type providerView struct {
		ID        string   `json:"id"`
		Name      string   `json:"name"`
		Cap       string   `json:"capability"`
		AuthModes []string `json:"auth_modes"`
		Local     bool     `json:"local"`
	}
	var views []providerView
	for _, id := range a.Registry.IDs() {
		d, ok := a.Registry.Get(id)
		if !ok {
			continue
		}
		modes := make([]string, 0, len(d.AuthModes))
		for _, m := range d.AuthModes {
			modes = append(modes, string(m))
		}
		views = append(views, providerView{
			ID:        d.ID,
			Name:      d.Name,
			Cap:       string(d.Capability),
			AuthModes: modes,
			Local:     d.Local,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"providers": views})
}
