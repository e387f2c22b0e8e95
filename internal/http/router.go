package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"uniadmit/internal/domain/user"
	"uniadmit/internal/http/handlers"
	httpmw "uniadmit/internal/http/middleware"
	"uniadmit/internal/metrics"
	"uniadmit/internal/ratelimit"
	"uniadmit/internal/storage"
)

type RouterDependencies struct {
	ProgramHandler     *handlers.ProgramHandler
	ApplicationHandler *handlers.ApplicationHandler
	LifecycleHandler   *handlers.LifecycleHandler
	MessageHandler     *handlers.MessageHandler
	DeadLetterHandler  *handlers.DeadLetterHandler
	AuthMiddleware     *httpmw.AuthMiddleware
	Metrics            *metrics.Collector
	Limiter            ratelimit.Limiter
	UploadRule         ratelimit.Rule
	RequestTimeout     time.Duration
	// FilesDir, when set, is served read-only under /files/.
	FilesDir string
	Logger   *slog.Logger
}

// maxBodyBytes admits the largest upload plus multipart framing.
const maxBodyBytes = storage.MiB * 11

func NewRouter(deps RouterDependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.NewHandler(deps.Metrics)).Methods(http.MethodGet)
	if deps.FilesDir != "" {
		r.PathPrefix("/files/").Handler(http.StripPrefix("/files/", http.FileServer(http.Dir(deps.FilesDir)))).Methods(http.MethodGet)
	}
	if deps.DeadLetterHandler != nil {
		internal := httpmw.RateLimit(deps.Limiter, ratelimit.Rule{Prefix: "internal", Limit: 60, Window: time.Minute}, httpmw.ClientIP, deps.Metrics)
		r.Handle("/internal/notifications/dead-letters", internal(http.HandlerFunc(deps.DeadLetterHandler.List))).Methods(http.MethodGet)
	}

	api := r.NewRoute().Subrouter()
	api.Use(mux.MiddlewareFunc(deps.AuthMiddleware.Authenticate))

	uploads := httpmw.RateLimit(deps.Limiter, deps.UploadRule, httpmw.ActorKey, deps.Metrics)
	student := func(h http.HandlerFunc) http.Handler {
		return httpmw.RequireRole(user.RoleStudent)(h)
	}

	api.HandleFunc("/programs", deps.ProgramHandler.ListPublished).Methods(http.MethodGet)
	api.HandleFunc("/programs/{id}", deps.ProgramHandler.Get).Methods(http.MethodGet)

	api.Handle("/applications", student(deps.ApplicationHandler.Apply)).Methods(http.MethodPost)
	api.Handle("/applications", student(deps.ApplicationHandler.ListMine)).Methods(http.MethodGet)
	api.HandleFunc("/applications/{id}", deps.LifecycleHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/applications/{id}/submit", deps.LifecycleHandler.Submit).Methods(http.MethodPost)
	api.HandleFunc("/applications/{id}/withdraw", deps.LifecycleHandler.Withdraw).Methods(http.MethodPost)
	api.HandleFunc("/applications/{id}/refund", deps.LifecycleHandler.RequestRefund).Methods(http.MethodPost)
	api.HandleFunc("/applications/{id}/documents", deps.LifecycleHandler.ListDocuments).Methods(http.MethodGet)
	api.HandleFunc("/applications/{id}/payments", deps.LifecycleHandler.ListPayments).Methods(http.MethodGet)
	api.HandleFunc("/applications/{id}/messages", deps.MessageHandler.Send).Methods(http.MethodPost)
	api.HandleFunc("/applications/{id}/messages", deps.MessageHandler.List).Methods(http.MethodGet)

	api.Handle("/documents/{id}/upload", uploads(http.HandlerFunc(deps.LifecycleHandler.UploadDocument))).Methods(http.MethodPost)
	api.Handle("/payments/{id}/receipt", uploads(http.HandlerFunc(deps.LifecycleHandler.UploadReceipt))).Methods(http.MethodPost)
	api.HandleFunc("/payments/{id}/card", deps.LifecycleHandler.CompleteCardPayment).Methods(http.MethodPost)
	api.HandleFunc("/payments/{id}/reset", deps.LifecycleHandler.ResetPayment).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(httpmw.RequireRole(user.RoleAdmin))
	admin.HandleFunc("/programs", deps.ProgramHandler.Create).Methods(http.MethodPost)
	admin.HandleFunc("/programs/{id}", deps.ProgramHandler.Update).Methods(http.MethodPatch)
	admin.HandleFunc("/applications", deps.ApplicationHandler.AdminList).Methods(http.MethodGet)
	admin.HandleFunc("/applications/{id}/status", deps.LifecycleHandler.UpdateStatus).Methods(http.MethodPatch)
	admin.HandleFunc("/applications/{id}/notes", deps.LifecycleHandler.UpdateNotes).Methods(http.MethodPatch)
	admin.HandleFunc("/applications/{id}/payments", deps.LifecycleHandler.RequestPayment).Methods(http.MethodPost)
	admin.HandleFunc("/applications/{id}/documents", deps.LifecycleHandler.RequestDocuments).Methods(http.MethodPost)
	admin.HandleFunc("/applications/{id}/letter", deps.LifecycleHandler.UploadLetter).Methods(http.MethodPost)
	admin.HandleFunc("/applications/{id}/history", deps.LifecycleHandler.History).Methods(http.MethodGet)
	admin.HandleFunc("/payments/{id}/verify", deps.LifecycleHandler.VerifyPayment).Methods(http.MethodPost)
	admin.HandleFunc("/payments/{id}/reject", deps.LifecycleHandler.RejectPayment).Methods(http.MethodPost)
	admin.HandleFunc("/payments/{id}/reset", deps.LifecycleHandler.ResetPayment).Methods(http.MethodPost)
	admin.HandleFunc("/documents/{id}/approve", deps.LifecycleHandler.ApproveDocument).Methods(http.MethodPost)
	admin.HandleFunc("/documents/{id}/reject", deps.LifecycleHandler.RejectDocument).Methods(http.MethodPost)
	admin.HandleFunc("/refunds/{id}/resolve", deps.LifecycleHandler.ResolveRefund).Methods(http.MethodPost)

	return httpmw.Chain(r,
		httpmw.RequestID,
		httpmw.Logging(logger),
		httpmw.BodyLimit(maxBodyBytes),
		httpmw.Recover(logger),
		httpmw.Metrics(deps.Metrics),
		httpmw.Timeout(deps.RequestTimeout),
	)
}
