package routes

import (
	"net/http"
	"strings"

	"github.com/uploadkit/uploadkit/internal/app"
	"github.com/uploadkit/uploadkit/internal/handler"
	"github.com/uploadkit/uploadkit/internal/middleware"
)

func SetupRoutes(a *app.App) http.Handler {
	// Handlers
	file := handler.NewFileHandler(a.Storage, a.Uploads, a.Cfg.TemporaryURLExpiry)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Signed temporary file access
	signed := middleware.SignedURL(a.Cfg.SigningSecret)
	prefix := strings.TrimSuffix(a.Cfg.TemporaryURLPath, "/")
	mux.HandleFunc("GET "+prefix+"/{path...}", signed(file.ServeTemporary))
	mux.HandleFunc("GET /uploads/{id}/link", file.TemporaryLink)

	return middleware.Chain(mux,
		middleware.RequestLogging,
	)
}
