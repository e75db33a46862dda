package httpapi

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"fiado.app/internal/sales"
)

type productRequest struct {
	Name      string          `json:"name"`
	Detail    string          `json:"detail"`
	Brand     string          `json:"brand"`
	ExpiresAt string          `json:"expires_at"`
	Cost      decimal.Decimal `json:"cost"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
}

func (req productRequest) toProduct() (sales.Product, error) {
	p := sales.Product{
		Name:     strings.TrimSpace(req.Name),
		Detail:   strings.TrimSpace(req.Detail),
		Brand:    strings.TrimSpace(req.Brand),
		Cost:     req.Cost,
		Price:    req.Price,
		Quantity: req.Quantity,
	}
	if strings.TrimSpace(req.ExpiresAt) != "" {
		d, err := sales.ParseDate(req.ExpiresAt)
		if err != nil {
			return sales.Product{}, err
		}
		p.ExpiresAt = &d
	}
	return p, nil
}

type customerRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Address   string `json:"address"`
	City      string `json:"city"`
	Notes     string `json:"notes"`
}

func (req customerRequest) toCustomer() sales.Customer {
	return sales.Customer{
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Phone:     strings.TrimSpace(req.Phone),
		Email:     strings.TrimSpace(req.Email),
		Address:   strings.TrimSpace(req.Address),
		City:      strings.TrimSpace(req.City),
		Notes:     strings.TrimSpace(req.Notes),
	}
}

func (a *API) handleProductsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listProducts(w, r)
	case http.MethodPost:
		a.createProduct(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleProductResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/products/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getProduct(w, r, id)
	case http.MethodPut:
		a.updateProduct(w, r, id)
	case http.MethodDelete:
		a.deleteProduct(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) listProducts(w http.ResponseWriter, r *http.Request) {
	items, err := a.sales.ListProducts(r.Context())
	if err != nil {
		handleSalesError(w, r, err)
		return
	}
	if items == nil {
		items = []sales.Product{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := req.toProduct()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "expires_at must be formatted YYYY-MM-DD")
		return
	}
	created, err := a.sales.CreateProduct(r.Context(), p)
	if err != nil {
		handleSalesError(w, r, err)
		return
	}
	a.audit(r.Context(), "catalog.product.create", "product", created.ID, map[string]string{
		"name": created.Name,
	})
	w.Header().Set("Location", "/v1/products/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) getProduct(w http.ResponseWriter, r *http.Request, id string) {
	p, err := a.sales.GetProduct(r.Context(), id)
	if err != nil {
		handleSalesError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) updateProduct(w http.ResponseWriter, r *http.Request, id string) {
	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := req.toProduct()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "expires_at must be formatted YYYY-MM-DD")
		return
	}
	p.ID = id
	updated, err := a.sales.UpdateProduct(r.Context(), p)
	if err != nil {
		handleSalesError(w, r, err)
		return
	}
	a.audit(r.Context(), "catalog.product.update", "product", id, nil)
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) deleteProduct(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.sales.DeleteProduct(r.Context(), id); err != nil {
		handleSalesError(w, r, err)
		return
	}
	a.audit(r.Context(), "catalog.product.delete", "product", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCustomersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listCustomers(w, r)
	case http.MethodPost:
		a.createCustomer(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCustomerResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/customers/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getCustomer(w, r, id)
	case http.MethodPut:
		a.updateCustomer(w, r, id)
	case http.MethodDelete:
		a.deleteCustomer(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) listCustomers(w http.ResponseWriter, r *http.Request) {
	items, err := a.sales.ListCustomers(r.Context())
	if err != nil {
		handleSalesError(w, r, err)
		return
	}
	if items == nil {
		items = []sales.Customer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.sales.CreateCustomer(r.Context(), req.toCustomer())
	if err != nil {
		handleSalesError(w, r, err)
		return
	}
	a.audit(r.Context(), "catalog.customer.create", "customer", created.ID, nil)
	w.Header().Set("Location", "/v1/customers/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) getCustomer(w http.ResponseWriter, r *http.Request, id string) {
	c, err := a.sales.GetCustomer(r.Context(), id)
	if err != nil {
		handleSalesError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) updateCustomer(w http.ResponseWriter, r *http.Request, id string) {
	var req customerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c := req.toCustomer()
	c.ID = id
	updated, err := a.sales.UpdateCustomer(r.Context(), c)
	if err != nil {
		handleSalesError(w, r, err)
		return
	}
	a.audit(r.Context(), "catalog.customer.update", "customer", id, nil)
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) deleteCustomer(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.sales.DeleteCustomer(r.Context(), id); err != nil {
		handleSalesError(w, r, err)
		return
	}
	a.audit(r.Context(), "catalog.customer.delete", "customer", id, nil)
	w.WriteHeader(http.StatusNoContent)
}
