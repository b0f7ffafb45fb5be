package bigcommerce

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Page size bounds accepted by the list endpoints.
const (
	DefaultLimit = 50
	MaxLimit     = 250
)

// Result is the normalized shape every wrapper returns: "success",
// "message", the resource key holding data (or an empty default on
// failure) and, for lists, "meta".
type Result map[string]any

// Success reports the "success" member.
func (r Result) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// Message reports the "message" member.
func (r Result) Message() string {
	msg, _ := r["message"].(string)
	return msg
}

// ListParams selects one page of a list endpoint.
type ListParams struct {
	Limit int
	Page  int
}

// Values returns the query string, with Limit clamped to
// [1, MaxLimit] (zero means DefaultLimit) and Page at least 1.
func (p ListParams) Values() url.Values {
	limit := p.Limit
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	page := max(p.Page, 1)

	v := url.Values{}
	v.Set("limit", strconv.Itoa(limit))
	v.Set("page", strconv.Itoa(page))
	return v
}

func listResult(key string, r *Response, message func(n int) string) Result {
	if !r.Success {
		return Result{"success": false, key: []any{}, "message": r.Message}
	}
	items, _ := r.Data.([]any)
	if items == nil {
		items = []any{}
	}
	meta := r.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	return Result{
		"success": true,
		key:       items,
		"meta":    meta,
		"message": message(len(items)),
	}
}

func itemResult(key string, r *Response, message string) Result {
	if !r.Success {
		return Result{"success": false, key: map[string]any{}, "message": r.Message}
	}
	data := r.Data
	if data == nil {
		data = map[string]any{}
	}
	return Result{"success": true, key: data, "message": message}
}

// Products lists catalog products.
func (c *Client) Products(ctx context.Context, p ListParams) Result {
	r := c.Do(ctx, http.MethodGet, "catalog/products", p.Values(), nil)
	return listResult("products", r, func(n int) string {
		return fmt.Sprintf("Retrieved %d products", n)
	})
}

// ProductMetafields lists metafields of one product, or of all products
// when productID is zero.
func (c *Client) ProductMetafields(ctx context.Context, productID int, p ListParams) Result {
	return c.metafields(ctx, "catalog/products", "product", productID, p)
}

// ProductMetafield fetches one product metafield.
func (c *Client) ProductMetafield(ctx context.Context, productID, metafieldID int) Result {
	return c.metafield(ctx, "catalog/products", "product", productID, metafieldID)
}

// Orders lists orders, optionally filtered by status. A zero statusID
// means no filter.
func (c *Client) Orders(ctx context.Context, p ListParams, statusID int) Result {
	v := p.Values()
	if statusID != 0 {
		v.Set("status_id", strconv.Itoa(statusID))
	}
	r := c.Do(ctx, http.MethodGet, "orders", v, nil)
	return listResult("orders", r, func(n int) string {
		return fmt.Sprintf("Retrieved %d orders", n)
	})
}

// OrderMetafields lists metafields of one order, or of all orders when
// orderID is zero.
func (c *Client) OrderMetafields(ctx context.Context, orderID int, p ListParams) Result {
	return c.metafields(ctx, "orders", "order", orderID, p)
}

// OrderMetafield fetches one order metafield.
func (c *Client) OrderMetafield(ctx context.Context, orderID, metafieldID int) Result {
	return c.metafield(ctx, "orders", "order", orderID, metafieldID)
}

// Customers lists customers.
func (c *Client) Customers(ctx context.Context, p ListParams) Result {
	r := c.Do(ctx, http.MethodGet, "customers", p.Values(), nil)
	return listResult("customers", r, func(n int) string {
		return fmt.Sprintf("Retrieved %d customers", n)
	})
}

// CustomerMetafields lists metafields of one customer, or of all
// customers when customerID is zero.
func (c *Client) CustomerMetafields(ctx context.Context, customerID int, p ListParams) Result {
	return c.metafields(ctx, "customers", "customer", customerID, p)
}

// CustomerMetafield fetches one customer metafield.
func (c *Client) CustomerMetafield(ctx context.Context, customerID, metafieldID int) Result {
	return c.metafield(ctx, "customers", "customer", customerID, metafieldID)
}

func (c *Client) metafields(ctx context.Context, collection, noun string, ownerID int, p ListParams) Result {
	endpoint := collection + "/metafields"
	prefix := fmt.Sprintf("Retrieved all %s metafields", noun)
	if ownerID != 0 {
		endpoint = fmt.Sprintf("%s/%d/metafields", collection, ownerID)
		prefix = fmt.Sprintf("Retrieved metafields for %s %d", noun, ownerID)
	}
	r := c.Do(ctx, http.MethodGet, endpoint, p.Values(), nil)
	return listResult("metafields", r, func(n int) string {
		return fmt.Sprintf("%s: %d metafields", prefix, n)
	})
}

func (c *Client) metafield(ctx context.Context, collection, noun string, ownerID, metafieldID int) Result {
	endpoint := fmt.Sprintf("%s/%d/metafields/%d", collection, ownerID, metafieldID)
	r := c.Do(ctx, http.MethodGet, endpoint, nil, nil)
	return itemResult("metafield", r, fmt.Sprintf("Retrieved metafield %d for %s %d", metafieldID, noun, ownerID))
}
