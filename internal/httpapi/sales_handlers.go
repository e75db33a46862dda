package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fiado.app/internal/obs"
	"fiado.app/internal/sales"
	"fiado.app/internal/stream"
)

type saleItemRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type installmentSpecRequest struct {
	Seq     int             `json:"seq"`
	DueDate string          `json:"due_date"`
	Amount  decimal.Decimal `json:"amount"`
}

type createSaleRequest struct {
	Date             string                   `json:"date"`
	CustomerID       string                   `json:"customer_id"`
	Mode             string                   `json:"mode"`
	InterestRate     decimal.Decimal          `json:"interest_rate"`
	Items            []saleItemRequest        `json:"items"`
	Installments     []installmentSpecRequest `json:"installments"`
	InstallmentCount int                      `json:"installment_count"`
	FirstDueDate     string                   `json:"first_due_date"`
	DownPayment      decimal.Decimal          `json:"down_payment"`
}

type paymentRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Date           string          `json:"date"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type listSalesResponse struct {
	Items     []sales.Sale `json:"items"`
	NextAfter string       `json:"next_after"`
	AsOf      time.Time    `json:"as_of"`
}

func (a *API) handleSalesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listSales(w, r)
	case http.MethodPost:
		a.createSale(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleSaleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/sales/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/payments") {
		id := strings.TrimSuffix(path, "/payments")
		if id == "" || strings.Contains(id, "/") {
			writeError(w, r, http.StatusNotFound, "sale not found")
			return
		}
		switch r.Method {
		case http.MethodPost:
			a.applyPayment(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodPost)
		}
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getSale(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) createSale(w http.ResponseWriter, r *http.Request) {
	var req createSaleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	input := sales.CreateSaleInput{
		CustomerID:       strings.TrimSpace(req.CustomerID),
		Mode:             sales.PaymentMode(strings.ToLower(strings.TrimSpace(req.Mode))),
		InterestRate:     req.InterestRate,
		InstallmentCount: req.InstallmentCount,
		DownPayment:      req.DownPayment,
	}
	var err error
	if input.Date, err = parseOptionalDate(req.Date); err != nil {
		writeError(w, r, http.StatusBadRequest, "date must be formatted YYYY-MM-DD")
		return
	}
	if input.FirstDueDate, err = parseOptionalDate(req.FirstDueDate); err != nil {
		writeError(w, r, http.StatusBadRequest, "first_due_date must be formatted YYYY-MM-DD")
		return
	}
	for _, it := range req.Items {
		input.Items = append(input.Items, sales.LineItemInput{
			ProductID: strings.TrimSpace(it.ProductID),
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	for i, ins := range req.Installments {
		due, err := parseOptionalDate(ins.DueDate)
		if err != nil {
			writeError(w, r, http.StatusBadRequest,
				"installments["+strconv.Itoa(i)+"].due_date must be formatted YYYY-MM-DD")
			return
		}
		input.Installments = append(input.Installments, sales.InstallmentSpec{
			Seq:     ins.Seq,
			DueDate: due,
			Amount:  ins.Amount,
		})
	}

	detail, err := a.sales.CreateSale(r.Context(), input)
	if err != nil {
		var stock *sales.InsufficientStockError
		if errors.As(err, &stock) {
			obs.StockRejection()
		}
		handleSalesError(w, r, err)
		return
	}

	obs.SaleCreated(string(detail.Mode))
	if a.stream != nil {
		a.stream.Publish(stream.Event{
			Kind:      stream.KindSaleCreated,
			SaleID:    detail.ID,
			Mode:      string(detail.Mode),
			Amount:    detail.Total,
			Balance:   detail.Balance,
			Timestamp: time.Now().UTC(),
		})
	}
	a.audit(r.Context(), "sale.create", "sale", detail.ID, map[string]string{
		"mode":  string(detail.Mode),
		"total": detail.Total.StringFixed(2),
	})

	w.Header().Set("Location", "/v1/sales/"+detail.ID)
	writeJSON(w, http.StatusCreated, detail)
}

func (a *API) getSale(w http.ResponseWriter, r *http.Request, id string) {
	detail, err := a.sales.GetSale(r.Context(), id)
	if err != nil {
		handleSalesError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) listSales(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	after := strings.TrimSpace(r.URL.Query().Get("after"))

	items, err := a.sales.ListSales(r.Context(), limit, after)
	if err != nil {
		handleSalesError(w, r, err)
		return
	}

	resp := listSalesResponse{
		Items: items,
		AsOf:  time.Now().UTC(),
	}
	if resp.Items == nil {
		resp.Items = []sales.Sale{}
	}
	if len(items) == limit {
		resp.NextAfter = items[len(items)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) applyPayment(w http.ResponseWriter, r *http.Request, saleID string) {
	var req paymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	idem := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if req.IdempotencyKey != "" {
		bodyKey := strings.TrimSpace(req.IdempotencyKey)
		if idem == "" {
			idem = bodyKey
		} else if idem != bodyKey {
			writeError(w, r, http.StatusBadRequest, "Idempotency-Key header and body value must match")
			return
		}
	}
	if len(idem) > 128 {
		writeError(w, r, http.StatusBadRequest, "Idempotency-Key too long")
		return
	}

	date, err := parseOptionalDate(req.Date)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "date must be formatted YYYY-MM-DD")
		return
	}

	res, err := a.sales.ApplyPayment(r.Context(), sales.PaymentInput{
		SaleID:         saleID,
		Amount:         req.Amount,
		Date:           date,
		IdempotencyKey: idem,
	})
	if err != nil {
		handleSalesError(w, r, err)
		return
	}

	if idem != "" {
		w.Header().Set("Idempotency-Key", idem)
	}

	event := "sale.payment.apply"
	if res.Replayed {
		event = "sale.payment.idempotent_replay"
	} else {
		obs.PaymentApplied()
		if a.stream != nil {
			a.stream.Publish(stream.Event{
				Kind:      stream.KindPaymentApplied,
				SaleID:    res.SaleID,
				Amount:    req.Amount,
				Balance:   res.NewBalance,
				Timestamp: time.Now().UTC(),
			})
		}
	}
	meta := map[string]string{
		"amount":      req.Amount.StringFixed(2),
		"new_balance": res.NewBalance.StringFixed(2),
	}
	if idem != "" {
		meta["idempotency_key"] = idem
	}
	a.audit(r.Context(), event, "sale", res.SaleID, meta)

	writeJSON(w, http.StatusCreated, res)
}

func parseOptionalDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return sales.ParseDate(raw)
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}
