// Package httpapi exposes the REST surface of the application.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pricemate/service/internal/app"
	"github.com/pricemate/service/internal/domain/catalog"
	"github.com/pricemate/service/internal/domain/tracking"
	"github.com/pricemate/service/internal/domain/user"
	"github.com/pricemate/service/internal/services/dashboard"
	"github.com/pricemate/service/internal/services/deals"
	trackingsvc "github.com/pricemate/service/internal/services/tracking"
	userssvc "github.com/pricemate/service/internal/services/users"
	"github.com/pricemate/service/internal/storage"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthz)
	mux.HandleFunc("/products", h.products)
	mux.HandleFunc("/products/", h.productResources)
	mux.HandleFunc("/deals", h.deals)
	mux.HandleFunc("/categories", h.categories)
	mux.HandleFunc("/users", h.users)
	mux.HandleFunc("/users/", h.userResources)
	return mux
}

type productResponse struct {
	ID            string     `json:"id"`
	ASIN          string     `json:"asin"`
	Title         string     `json:"title"`
	ImageURL      string     `json:"image_url,omitempty"`
	DetailURL     string     `json:"detail_url,omitempty"`
	CategoryID    string     `json:"category_id,omitempty"`
	CurrentPrice  float64    `json:"current_price"`
	LowestPrice   float64    `json:"lowest_price"`
	HighestPrice  float64    `json:"highest_price"`
	AveragePrice  float64    `json:"average_price"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	DealScore     string     `json:"deal_score,omitempty"`
}

func toProductResponse(p catalog.Product) productResponse {
	return productResponse{
		ID:            p.ID,
		ASIN:          p.ASIN,
		Title:         p.Title,
		ImageURL:      p.ImageURL,
		DetailURL:     p.DetailURL,
		CategoryID:    p.CategoryID,
		CurrentPrice:  p.CurrentPrice,
		LowestPrice:   p.LowestPrice,
		HighestPrice:  p.HighestPrice,
		AveragePrice:  p.AveragePrice,
		LastFetchedAt: p.LastFetchedAt,
		CreatedAt:     p.CreatedAt,
	}
}

func toProductResponses(products []catalog.Product) []productResponse {
	result := make([]productResponse, 0, len(products))
	for _, p := range products {
		result = append(result, toProductResponse(p))
	}
	return result
}

type trackedItemResponse struct {
	ID          string           `json:"id"`
	ProductID   string           `json:"product_id"`
	TargetPrice *float64         `json:"target_price,omitempty"`
	IsActive    bool             `json:"is_active"`
	CreatedAt   time.Time        `json:"created_at"`
	Product     *productResponse `json:"product,omitempty"`
}

func toTrackedItemResponse(item tracking.TrackedItem, product *catalog.Product) trackedItemResponse {
	resp := trackedItemResponse{
		ID:          item.ID,
		ProductID:   item.ProductID,
		TargetPrice: item.TargetPrice,
		IsActive:    item.IsActive,
		CreatedAt:   item.CreatedAt,
	}
	if product != nil {
		p := toProductResponse(*product)
		resp.Product = &p
	}
	return resp
}

type dealResponse struct {
	Product       productResponse `json:"product"`
	Score         string          `json:"score,omitempty"`
	Discount      float64         `json:"discount"`
	PreviousPrice *float64        `json:"previous_price,omitempty"`
}

type dashboardSummaryResponse struct {
	TotalTracked int `json:"total_tracked"`
	ActiveAlerts int `json:"active_alerts"`
	RecentDrops  int `json:"recent_drops"`
}

type priceChangeResponse struct {
	Amount     float64 `json:"amount"`
	Percentage float64 `json:"percentage"`
}

type dashboardItemResponse struct {
	ID          string               `json:"id"`
	Product     productResponse      `json:"product"`
	TargetPrice *float64             `json:"target_price,omitempty"`
	IsActive    bool                 `json:"is_active"`
	PriceChange *priceChangeResponse `json:"price_change,omitempty"`
	DealScore   string               `json:"deal_score,omitempty"`
	Sparkline   []float64            `json:"sparkline"`
	CreatedAt   time.Time            `json:"created_at"`
}

type dashboardResponse struct {
	Summary dashboardSummaryResponse `json:"summary"`
	Items   []dashboardItemResponse  `json:"items"`
}

func toDashboardResponse(o dashboard.Overview) dashboardResponse {
	resp := dashboardResponse{
		Summary: dashboardSummaryResponse{
			TotalTracked: o.Summary.TotalTracked,
			ActiveAlerts: o.Summary.ActiveAlerts,
			RecentDrops:  o.Summary.RecentDrops,
		},
		Items: make([]dashboardItemResponse, 0, len(o.Items)),
	}
	for _, item := range o.Items {
		entry := dashboardItemResponse{
			ID:          item.Item.ID,
			Product:     toProductResponse(item.Product),
			TargetPrice: item.Item.TargetPrice,
			IsActive:    item.Item.IsActive,
			DealScore:   string(item.Score),
			Sparkline:   item.Sparkline,
			CreatedAt:   item.Item.CreatedAt,
		}
		if item.PriceChange != nil {
			entry.PriceChange = &priceChangeResponse{
				Amount:     item.PriceChange.Amount,
				Percentage: item.PriceChange.Percentage,
			}
		}
		resp.Items = append(resp.Items, entry)
	}
	return resp
}

type priceRecordResponse struct {
	Price      float64   `json:"price"`
	RecordedAt time.Time `json:"recorded_at"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u user.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}

type categoryResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) products(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("query parameter q is required"))
		return
	}

	results, err := h.app.Products.Search(r.Context(), query, r.URL.Query().Get("cursor"), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponses(results))
}

func (h *handler) productResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/products"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	productID := parts[0]

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if len(parts) == 1 {
		p, err := h.app.Products.Get(r.Context(), productID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		resp := toProductResponse(p)
		resp.DealScore = string(deals.ScoreFor(p.CurrentPrice, p.LowestPrice, p.HighestPrice))
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if len(parts) == 2 && parts[1] == "history" {
		// Default window is 90 days; days=0 requests the full history.
		days := 90
		if raw := r.URL.Query().Get("days"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusBadRequest, fmt.Errorf("days must be a non-negative integer"))
				return
			}
			days = parsed
		}
		records, err := h.app.Products.PriceHistory(r.Context(), productID, days)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		resp := make([]priceRecordResponse, 0, len(records))
		for _, rec := range records {
			resp = append(resp, priceRecordResponse{Price: rec.Price, RecordedAt: rec.RecordedAt})
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

func (h *handler) deals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	list, err := h.app.Deals.List(r.Context(), r.URL.Query().Get("category"), r.URL.Query().Get("cursor"), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := make([]dealResponse, 0, len(list))
	for _, d := range list {
		resp = append(resp, dealResponse{
			Product:       toProductResponse(d.Product),
			Score:         string(d.Score),
			Discount:      d.Discount,
			PreviousPrice: d.PreviousPrice,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) categories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := h.app.Categories.ListCategories(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp := make([]categoryResponse, 0, len(list))
		for _, c := range list {
			resp = append(resp, categoryResponse{ID: c.ID, Name: c.Name, Slug: c.Slug})
		}
		writeJSON(w, http.StatusOK, resp)

	case http.MethodPost:
		var payload struct {
			Name string `json:"name"`
			Slug string `json:"slug"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if payload.Name == "" || payload.Slug == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("name and slug are required"))
			return
		}
		created, err := h.app.Categories.CreateCategory(r.Context(), catalog.Category{Name: payload.Name, Slug: payload.Slug})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, categoryResponse{ID: created.ID, Name: created.Name, Slug: created.Slug})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) users(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.app.Users.Register(r.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(created))
}

func (h *handler) userResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/users"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if parts[0] == "authenticate" {
		h.authenticate(w, r)
		return
	}
	userID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		u, err := h.app.Users.Get(r.Context(), userID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, toUserResponse(u))
		return
	}

	if parts[1] == "tracked-items" {
		h.trackedItems(w, r, userID, parts[2:])
		return
	}

	if len(parts) == 2 && parts[1] == "dashboard" {
		h.dashboard(w, r, userID)
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

func (h *handler) dashboard(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	overview, err := h.app.Dashboard.Get(r.Context(), userID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardResponse(overview))
}

func (h *handler) authenticate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	u, err := h.app.Users.Authenticate(r.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *handler) trackedItems(w http.ResponseWriter, r *http.Request, userID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			list, err := h.app.Tracking.List(r.Context(), userID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			resp := make([]trackedItemResponse, 0, len(list))
			for _, tp := range list {
				product := tp.Product
				resp = append(resp, toTrackedItemResponse(tp.Item, &product))
			}
			writeJSON(w, http.StatusOK, resp)

		case http.MethodPost:
			var payload struct {
				ProductID   string   `json:"product_id"`
				URL         string   `json:"url"`
				TargetPrice *float64 `json:"target_price"`
			}
			if err := decodeJSON(r.Body, &payload); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}

			var item tracking.TrackedItem
			var err error
			switch {
			case payload.ProductID != "":
				item, err = h.app.Tracking.Track(r.Context(), userID, payload.ProductID, payload.TargetPrice)
			case payload.URL != "":
				item, err = h.app.Tracking.TrackByURL(r.Context(), userID, payload.URL, payload.TargetPrice)
			default:
				writeError(w, http.StatusBadRequest, fmt.Errorf("product_id or url is required"))
				return
			}
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusCreated, toTrackedItemResponse(item, nil))

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if len(rest) != 1 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	itemID := rest[0]

	switch r.Method {
	case http.MethodPatch:
		var payload struct {
			TargetPrice *float64 `json:"target_price"`
			IsActive    *bool    `json:"is_active"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		active := true
		if payload.IsActive != nil {
			active = *payload.IsActive
		}
		item, err := h.app.Tracking.Update(r.Context(), userID, itemID, payload.TargetPrice, active)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, toTrackedItemResponse(item, nil))

	case http.MethodDelete:
		if err := h.app.Tracking.Untrack(r.Context(), userID, itemID); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 20
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}

// statusFor maps known service errors to HTTP statuses. Anything
// unrecognized is a server fault, not the caller's.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, userssvc.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, trackingsvc.ErrInvalidURL),
		errors.Is(err, trackingsvc.ErrInvalidTarget),
		errors.Is(err, userssvc.ErrInvalidEmail),
		errors.Is(err, userssvc.ErrPasswordTooShort):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
