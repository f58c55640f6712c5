package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/stanstork/stockflow-api/internal/handlers"
)

// NewRouter sets up the API routes
func NewRouter(
	health *handlers.HealthHandler,
	imports *handlers.ImportHandler,
	alloc *handlers.AllocationHandler,
	notifications *handlers.NotificationHandler,
) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", health.Check).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	// Import jobs
	api.HandleFunc("/imports", imports.Submit).Methods(http.MethodPost)
	api.HandleFunc("/imports/active", imports.ListActive).Methods(http.MethodGet)
	api.HandleFunc("/imports/history", imports.ListHistory).Methods(http.MethodGet)
	api.HandleFunc("/imports/events", imports.Events).Methods(http.MethodGet)
	api.HandleFunc("/imports/refresh", imports.Refresh).Methods(http.MethodPost)
	api.HandleFunc("/imports/{jobID}", imports.Get).Methods(http.MethodGet)
	api.HandleFunc("/imports/{jobID}/cancel", imports.Cancel).Methods(http.MethodPost)
	api.HandleFunc("/imports/{jobID}/errors.xlsx", imports.ErrorReport).Methods(http.MethodGet)

	// Fulfillment
	api.HandleFunc("/orders/{orderID}/allocation", alloc.Remaining).Methods(http.MethodGet)

	// Notifications
	api.HandleFunc("/notifications", notifications.List).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{notificationID}/read", notifications.MarkRead).Methods(http.MethodPost)

	return router
}
