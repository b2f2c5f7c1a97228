package modules

import (
	"net/http"

	"github.com/go-chi/chi"
)

type Module interface {
	Mount(r chi.Router)
	Shutdown()
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}
