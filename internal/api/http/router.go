package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"equiprent-backend/internal/security"
	"equiprent-backend/internal/service"
	"equiprent-backend/internal/storage"
)

const apiPrefix = "/api/rental"

// Services bundles the rental services the API exposes.
type Services struct {
	Equipment service.EquipmentService
	Units     service.UnitService
	Projects  service.ProjectService
	Returns   service.ReturnService
	Scans     service.ScanService
	Bulk      service.BulkSerialService
	Reports   service.ReportService
	Auth      service.AuthService
}

// NewRouter wires every rental endpoint. files may be nil when no local storage backend is served.
func NewRouter(svc Services, tokens security.TokenManager, files storage.Storage) *mux.Router {
	r := mux.NewRouter()
	r.Use(Recovery, RequestID, Observe)

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeSuccess(w, http.StatusOK, "ok", nil)
	}).Methods("GET")

	authMiddleware := NewAuthMiddleware(svc.Auth, tokens)

	// Public API routes
	authHandler := NewAuthHandler(svc.Auth)
	r.HandleFunc(apiPrefix+"/auth/token", authHandler.IssueToken).Methods("POST")
	if files != nil {
		RegisterFileRoutes(r, files)
	}

	scanHandler := NewScanHandler(svc.Scans)
	serialAPI := r.PathPrefix(apiPrefix + "/serial").Subrouter()
	serialAPI.Use(authMiddleware.Authenticate)
	serialAPI.HandleFunc("/rent", scanHandler.QuickRent).Methods("POST")
	serialAPI.HandleFunc("/return", scanHandler.QuickReturn).Methods("POST")
	serialAPI.HandleFunc("/{serial}", scanHandler.Lookup).Methods("GET")
	serialAPI.HandleFunc("/{serial}/identifier", scanHandler.Identifier).Methods("GET")

	equipmentHandler := NewEquipmentHandler(svc.Equipment, svc.Units, svc.Bulk, svc.Reports)
	equipmentAPI := r.PathPrefix(apiPrefix + "/equipment").Subrouter()
	equipmentAPI.Use(authMiddleware.Authenticate)
	equipmentAPI.HandleFunc("", equipmentHandler.List).Methods("GET")
	equipmentAPI.HandleFunc("", equipmentHandler.Create).Methods("POST")
	equipmentAPI.HandleFunc("/categories", equipmentHandler.ListCategories).Methods("GET")
	equipmentAPI.HandleFunc("/categories", equipmentHandler.CreateCategory).Methods("POST")
	equipmentAPI.HandleFunc("/{id:[0-9]+}", equipmentHandler.Get).Methods("GET")
	equipmentAPI.HandleFunc("/{id:[0-9]+}/serials/bulk", equipmentHandler.BulkSerials).Methods("POST")
	equipmentAPI.HandleFunc("/{id:[0-9]+}/identifiers/regenerate", equipmentHandler.RegenerateIdentifiers).Methods("POST")
	equipmentAPI.HandleFunc("/{id:[0-9]+}/labels.pdf", equipmentHandler.Labels).Methods("GET")

	projectHandler := NewProjectHandler(svc.Projects, svc.Returns)
	projectsAPI := r.PathPrefix(apiPrefix + "/projects").Subrouter()
	projectsAPI.Use(authMiddleware.Authenticate)
	projectsAPI.HandleFunc("", projectHandler.List).Methods("GET")
	projectsAPI.HandleFunc("", projectHandler.Create).Methods("POST")
	projectsAPI.HandleFunc("/{id:[0-9]+}", projectHandler.Get).Methods("GET")
	projectsAPI.HandleFunc("/{id:[0-9]+}", projectHandler.Update).Methods("PUT")
	projectsAPI.HandleFunc("/{id:[0-9]+}/lines", projectHandler.AddLine).Methods("POST")
	projectsAPI.HandleFunc("/{id:[0-9]+}/lines/{lineID:[0-9]+}", projectHandler.UpdateLine).Methods("PUT")
	projectsAPI.HandleFunc("/{id:[0-9]+}/reserve", projectHandler.Reserve).Methods("POST")
	projectsAPI.HandleFunc("/{id:[0-9]+}/start", projectHandler.Start).Methods("POST")
	projectsAPI.HandleFunc("/{id:[0-9]+}/pickup", projectHandler.Pickup).Methods("POST")
	projectsAPI.HandleFunc("/{id:[0-9]+}/return", projectHandler.Return).Methods("POST")
	projectsAPI.HandleFunc("/{id:[0-9]+}/partial-return", projectHandler.PartialReturn).Methods("POST")
	projectsAPI.HandleFunc("/{id:[0-9]+}/cancel", projectHandler.Cancel).Methods("POST")
	projectsAPI.HandleFunc("/{id:[0-9]+}/draft", projectHandler.ResetToDraft).Methods("POST")
	projectsAPI.HandleFunc("/{id:[0-9]+}/invoice", projectHandler.Invoice).Methods("POST")

	unitHandler := NewUnitHandler(svc.Units, svc.Reports)
	unitsAPI := r.PathPrefix(apiPrefix + "/units").Subrouter()
	unitsAPI.Use(authMiddleware.Authenticate)
	unitsAPI.HandleFunc("/audit", unitHandler.Audit).Methods("GET")
	unitsAPI.HandleFunc("/export.xlsx", unitHandler.Export).Methods("GET")
	unitsAPI.HandleFunc("/{id:[0-9]+}", unitHandler.Get).Methods("GET")
	unitsAPI.HandleFunc("/{id:[0-9]+}", unitHandler.Delete).Methods("DELETE")
	unitsAPI.HandleFunc("/{id:[0-9]+}/history", unitHandler.History).Methods("GET")
	unitsAPI.HandleFunc("/{id:[0-9]+}/actions/{action}", unitHandler.Action).Methods("POST")

	return r
}
