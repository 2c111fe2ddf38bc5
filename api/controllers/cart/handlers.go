package cart

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cartlyhq/cartly-backend/api/responses"
	"github.com/cartlyhq/cartly-backend/api/validators"
	cartsvc "github.com/cartlyhq/cartly-backend/internal/cart"
	pkgerrors "github.com/cartlyhq/cartly-backend/pkg/errors"
	"github.com/cartlyhq/cartly-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

const cartIDHeader = "X-Cart-ID"

// CartFetch returns the cart identified by the X-Cart-ID header. Without a
// header there is no cart yet, so it answers with an empty payload instead
// of minting an id the client never writes to.
func CartFetch(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		cartID := r.Header.Get(cartIDHeader)
		if cartID == "" {
			responses.WriteSuccess(w, newCartResponse("", nil, decimal.Zero))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithCartID(ctx, cartID)
		}

		items, err := svc.Items(ctx, cartID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		total, err := svc.TotalPrice(ctx, cartID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		w.Header().Set(cartIDHeader, cartID)
		responses.WriteSuccess(w, newCartResponse(cartID, items, total))
	}
}

// CartSetItem upserts one line item. A missing X-Cart-ID mints a fresh cart
// id, echoed back in the same header for the client to persist.
func CartSetItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		cartID := r.Header.Get(cartIDHeader)
		if cartID == "" {
			cartID = uuid.NewString()
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithCartID(ctx, cartID)
		}

		var payload setItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.Set(ctx, cartID, payload.ProductID, payload.Quantity); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		items, err := svc.Items(ctx, cartID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		total, err := svc.TotalPrice(ctx, cartID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		w.Header().Set(cartIDHeader, cartID)
		responses.WriteSuccess(w, newCartResponse(cartID, items, total))
	}
}

// CartRemoveItem drops one line item from the cart named in the header.
func CartRemoveItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		cartID := r.Header.Get(cartIDHeader)
		if cartID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "X-Cart-ID header is required"))
			return
		}

		productID, err := strconv.ParseInt(chi.URLParam(r, "productId"), 10, 64)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithCartID(ctx, cartID)
		}

		if err := svc.Remove(ctx, cartID, productID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		items, err := svc.Items(ctx, cartID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		total, err := svc.TotalPrice(ctx, cartID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		w.Header().Set(cartIDHeader, cartID)
		responses.WriteSuccess(w, newCartResponse(cartID, items, total))
	}
}
