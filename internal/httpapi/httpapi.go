package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/unrolled/secure"

	"tehtarik/backend/internal/domain"
	"tehtarik/backend/internal/lock"
	"tehtarik/backend/internal/service"
	"tehtarik/backend/internal/store"
)

const (
	maxBodyBytes        = 1 << 20
	defaultLoginLimit   = 5
	defaultListFallback = 50
	maxListLimit        = 200
)

type Options struct {
	AllowedOrigin  string
	RequestTimeout time.Duration
	// LoginLimit is the number of login attempts allowed per client IP per minute.
	LoginLimit int
	Logger     logrus.FieldLogger
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	timeout       time.Duration
	loginLimit    int
	log           logrus.FieldLogger
	validate      *validator.Validate
	secure        *secure.Secure
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.LoginLimit <= 0 {
		opts.LoginLimit = defaultLoginLimit
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		timeout:       opts.RequestTimeout,
		loginLimit:    opts.LoginLimit,
		log:           opts.Logger.WithField("component", "http"),
		validate:      validator.New(),
		secure: secure.New(secure.Options{
			FrameDeny:             true,
			ContentTypeNosniff:    true,
			BrowserXssFilter:      true,
			ReferrerPolicy:        "strict-origin-when-cross-origin",
			ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		}),
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RealIP,
		middleware.RequestID,
		a.accessLog,
		middleware.Recoverer,
		middleware.Timeout(a.timeout),
		a.securityHeaders,
		a.cors,
		limitBody,
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(a.loginLimiter()).Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Get("/products", a.handleListProducts)
			r.With(requireRole(domain.RoleOwner)).Post("/products", a.handleCreateProduct)

			r.Get("/raw-materials", a.handleListRawMaterials)
			r.With(requireRole(domain.RoleOwner)).Post("/raw-materials", a.handleCreateRawMaterial)

			r.Get("/recipes", a.handleListRecipes)
			r.With(requireRole(domain.RoleOwner)).Post("/recipes", a.handleCreateRecipe)
			r.With(requireRole(domain.RoleOwner)).Delete("/recipes/{id}", a.handleDeleteRecipe)

			r.Post("/sales", a.handleCreateSale)
			r.Get("/sales", a.handleListSales)
			r.Get("/sales/{id}", a.handleGetSale)

			r.Post("/purchases", a.handleCreatePurchase)
			r.Get("/purchases", a.handleListPurchases)

			r.Get("/employees", a.handleListEmployees)
			r.Get("/shifts", a.handleListShifts)
			r.Group(func(r chi.Router) {
				r.Use(requireRole(domain.RoleOwner))
				r.Post("/employees", a.handleCreateEmployee)
				r.Put("/employees/{id}", a.handleUpdateEmployee)
				r.Delete("/employees/{id}", a.handleDeleteEmployee)

				r.Post("/shifts", a.handleCreateShift)
				r.Put("/shifts/bulk", a.handleBulkUpdateShifts)
				r.Put("/shifts/{id}", a.handleUpdateShift)
				r.Delete("/shifts/{id}", a.handleDeleteShift)
			})

			r.Get("/attendance", a.handleListAttendance)
			r.Post("/attendance", a.handleCheckIn)
			r.Post("/attendance/check-out", a.handleCheckOut)
		})
	})

	return r
}

type operatorKey struct{}

func withOperator(ctx context.Context, op domain.Operator) context.Context {
	return context.WithValue(ctx, operatorKey{}, op)
}

func operatorFrom(ctx context.Context) (domain.Operator, bool) {
	op, ok := ctx.Value(operatorKey{}).(domain.Operator)
	return op, ok
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		op, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(withOperator(r.Context(), op)))
	})
}

func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, _ := operatorFrom(r.Context())
			if !isRoleAllowed(op.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) loginLimiter() func(http.Handler) http.Handler {
	return httprate.Limit(a.loginLimit, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		}),
	)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !a.decodeValid(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if !a.decodeValid(w, r, &req) {
		return
	}

	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (a *API) handleListRawMaterials(w http.ResponseWriter, r *http.Request) {
	materials, err := a.service.ListRawMaterials(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, materials)
}

func (a *API) handleCreateRawMaterial(w http.ResponseWriter, r *http.Request) {
	var req domain.RawMaterialCreateRequest
	if !a.decodeValid(w, r, &req) {
		return
	}

	material, err := a.service.CreateRawMaterial(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, material)
}

func (a *API) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	recipes, err := a.service.ListRecipes(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recipes)
}

func (a *API) handleCreateRecipe(w http.ResponseWriter, r *http.Request) {
	var req domain.RecipeCreateRequest
	if !a.decodeValid(w, r, &req) {
		return
	}

	recipe, err := a.service.CreateRecipe(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, recipe)
}

func (a *API) handleDeleteRecipe(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteRecipe(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	req.PaymentMethod = domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(string(req.PaymentMethod))))
	if err := a.validate.Var(string(req.PaymentMethod), "omitempty,oneof=CASH EWALLET DEBIT"); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("payment_method must be one of CASH, EWALLET, DEBIT"))
		return
	}

	op, _ := operatorFrom(r.Context())
	sale, err := a.service.ProcessSale(r.Context(), op.UserID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), defaultListFallback, maxListLimit)
	sales, err := a.service.ListSales(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseRequest
	if !a.decodeValid(w, r, &req) {
		return
	}

	op, _ := operatorFrom(r.Context())
	purchase, err := a.service.RecordPurchase(r.Context(), op.UserID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, purchase)
}

func (a *API) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), defaultListFallback, maxListLimit)
	purchases, err := a.service.ListPurchases(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, purchases)
}

type stockShortfall struct {
	Kind      string          `json:"kind"`
	ItemID    string          `json:"item_id"`
	Name      string          `json:"name"`
	Needed    decimal.Decimal `json:"needed"`
	Available decimal.Decimal `json:"available"`
	Unit      string          `json:"unit"`
}

// writeServiceError maps service errors onto status codes. Order matters:
// a missing product inside a basket is reported as an invalid request.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var shortfall *store.InsufficientStockError
	switch {
	case errors.As(err, &shortfall):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": err.Error(),
			"detail": stockShortfall{
				Kind:      shortfall.Kind,
				ItemID:    shortfall.ItemID,
				Name:      shortfall.Name,
				Needed:    shortfall.Needed,
				Available: shortfall.Available,
				Unit:      shortfall.Unit,
			},
		})
	case errors.Is(err, store.ErrInsufficientStock):
		writeError(w, http.StatusConflict, store.ErrInsufficientStock)
	case errors.Is(err, store.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, lock.ErrBusy):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "stock is busy, retry the sale"})
	default:
		a.log.WithError(err).WithFields(logrus.Fields{
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		}).Error("request failed")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(startedAt).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Info("request")
	})
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.secure.Process(w, r); err != nil {
			a.log.WithError(err).Warn("secure headers blocked request")
			writeError(w, http.StatusBadRequest, errors.New("request blocked"))
			return
		}
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// decodeValid decodes the body strictly and runs validator tags. It writes a
// 400 and returns false when either step fails.
func (a *API) decodeValid(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := a.validate.Struct(dest); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			err = fmt.Errorf("%s failed on %s", verrs[0].Namespace(), verrs[0].Tag())
		}
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies never carry the underlying error; callers log it.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
