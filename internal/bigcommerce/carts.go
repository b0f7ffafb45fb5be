package bigcommerce

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// LineItem is one product line added to a cart.
type LineItem struct {
	ProductID int `json:"product_id" jsonschema:"minimum=1,description=Catalog product ID"`
	VariantID int `json:"variant_id,omitempty" jsonschema:"description=Variant ID when the product has options"`
	Quantity  int `json:"quantity" jsonschema:"minimum=1,description=Number of units"`
}

// CartRequest is the body of a cart creation request.
type CartRequest struct {
	CustomerID int        `json:"customer_id,omitempty" jsonschema:"description=Customer who owns the cart (omit for a guest cart)"`
	LineItems  []LineItem `json:"line_items" jsonschema:"minItems=1,description=Products to put in the cart"`
	ChannelID  int        `json:"channel_id,omitempty" jsonschema:"description=Sales channel (defaults to the storefront)"`
}

// cartInclude asks for redirect URLs so the caller can hand a checkout
// link back to a shopper.
var cartInclude = url.Values{"include": {"redirect_urls"}}

// Cart fetches one cart.
func (c *Client) Cart(ctx context.Context, cartID string) Result {
	r := c.Do(ctx, http.MethodGet, "carts/"+url.PathEscape(cartID), nil, nil)
	return itemResult("cart", r, "Retrieved cart "+cartID)
}

// CreateCart creates a cart holding req's line items.
func (c *Client) CreateCart(ctx context.Context, req CartRequest) Result {
	r := c.Do(ctx, http.MethodPost, "carts", cartInclude, req)
	return itemResult("cart", r, fmt.Sprintf("Created cart with %d line items", len(req.LineItems)))
}

// AddCartItems adds items to an existing cart.
func (c *Client) AddCartItems(ctx context.Context, cartID string, items []LineItem) Result {
	body := map[string]any{"line_items": items}
	r := c.Do(ctx, http.MethodPost, "carts/"+url.PathEscape(cartID)+"/items", cartInclude, body)
	return itemResult("cart", r, fmt.Sprintf("Added %d line items to cart %s", len(items), cartID))
}
