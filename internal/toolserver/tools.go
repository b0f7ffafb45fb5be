package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cast"

	"github.com/nugget/storefront-mcp/internal/bigcommerce"
)

type tool struct {
	def mcpgo.Tool
	run func(ctx context.Context, args map[string]any) (bigcommerce.Result, error)
}

// Argument shapes. They exist to generate input schemas; decoding goes
// through the coercion helpers below.

// Paging is embedded by every list tool. It is exported so schema
// reflection inlines its fields.
type Paging struct {
	Limit int `json:"limit,omitempty" jsonschema:"minimum=1,maximum=250,default=50,description=Number of records to return (max 250)"`
	Page  int `json:"page,omitempty" jsonschema:"minimum=1,default=1,description=Page number"`
}

type orderListArgs struct {
	Paging
	StatusID int `json:"status_id,omitempty" jsonschema:"description=Only orders with this status ID"`
}

type productMetafieldsArgs struct {
	ProductID int `json:"product_id,omitempty" jsonschema:"description=Only metafields of this product"`
	Paging
}

type productMetafieldArgs struct {
	ProductID   int `json:"product_id" jsonschema:"description=Product ID"`
	MetafieldID int `json:"metafield_id" jsonschema:"description=Metafield ID"`
}

type orderMetafieldsArgs struct {
	OrderID int `json:"order_id,omitempty" jsonschema:"description=Only metafields of this order"`
	Paging
}

type orderMetafieldArgs struct {
	OrderID     int `json:"order_id" jsonschema:"description=Order ID"`
	MetafieldID int `json:"metafield_id" jsonschema:"description=Metafield ID"`
}

type customerMetafieldsArgs struct {
	CustomerID int `json:"customer_id,omitempty" jsonschema:"description=Only metafields of this customer"`
	Paging
}

type customerMetafieldArgs struct {
	CustomerID  int `json:"customer_id" jsonschema:"description=Customer ID"`
	MetafieldID int `json:"metafield_id" jsonschema:"description=Metafield ID"`
}

type cartArgs struct {
	CartID string `json:"cart_id" jsonschema:"description=Cart UUID"`
}

type addCartItemsArgs struct {
	CartID    string                 `json:"cart_id" jsonschema:"description=Cart UUID"`
	LineItems []bigcommerce.LineItem `json:"line_items" jsonschema:"minItems=1,description=Products to add"`
}

var reflector = &jsonschema.Reflector{
	DoNotReference: true,
	ExpandedStruct: true,
}

// schemaFor reflects v into a raw JSON Schema object.
func schemaFor(v any) json.RawMessage {
	s := reflector.Reflect(v)
	s.Version = ""
	b, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("toolserver: reflect schema for %T: %v", v, err))
	}
	return b
}

func newTool(name, description string, args any, run func(ctx context.Context, args map[string]any) (bigcommerce.Result, error)) tool {
	return tool{
		def: mcpgo.NewToolWithRawSchema(name, description, schemaFor(args)),
		run: run,
	}
}

// catalog returns every tool bound to store, in advertisement order.
func catalog(store Store) []tool {
	return []tool{
		newTool("get_all_products",
			"Get all products from the BigCommerce store. Returns one page of products.",
			&Paging{},
			func(ctx context.Context, args map[string]any) (bigcommerce.Result, error) {
				p, err := pageParams(args)
				if err != nil {
					return nil, err
				}
				return store.Products(ctx, p), nil
			}),

		newTool("get_all_product_metafields",
			"Get product metafields. If product_id is provided, get the metafields of that product only.",
			&productMetafieldsArgs{},
			func(ctx context.Context, args map[string]any) (bigcommerce.Result, error) {
				p, err := pageParams(args)
				if err != nil {
					return nil, err
				}
				id, err := optionalInt(args, "product_id")
				if err != nil {
					return nil, err
				}
				return store.ProductMetafields(ctx, id, p), nil
			}),

		newTool("get_product_metafield_by_id",
			"Get a specific product metafield by ID.",
			&productMetafieldArgs{},
			func(ctx context.Context, args map[string]any) (bigcommerce.Result, error) {
				owner, mf, err := metafieldIDs(args, "product_id")
				if err != nil {
					return nil, err
				}
				return store.ProductMetafield(ctx, owner, mf), nil
			}),

		newTool("get_all_orders",
			"Get all orders from the BigCommerce store, optionally filtered by status ID.",
			&orderListArgs{},
			func(ctx context.Context, args map[string]any) (bigcommerce.Result, error) {
				p, err := pageParams(args)
				if err != nil {
					return nil, err
				}
				status, err := optionalInt(args, "status_id")
				if err != nil {
					return nil, err
				}
				return store.Orders(ctx, p, status), nil
			}),

		newTool("get_all_order_metafields",
			"Get order metafields. If order_id is provided, get the metafields of that order only.",
			&orderMetafieldsArgs{},
			func(ctx context.Context, args map[string]any) (bigcommerce.Result, error) {
				p, err := pageParams(args)
				if err != nil {
					return nil, err
				}
				id, err := optionalInt(args, "order_id")
				if err != nil {
					return nil, err
				}
				return store.OrderMetafields(ctx, id, p), nil
			}),

		newTool("get_order_metafield_by_id",
			"Get a specific order metafield by ID.",
			&orderMetafieldArgs{},
			func(ctx context.Context, args map[string]any) (bigcommerce.Result, error) {
				owner, mf, err := metafieldIDs(args, "order_id")
				if err != nil {
					return nil, err
				}
				return store.OrderMetafield(ctx, owner, mf), nil
			}),

		newTool("get_all_customers",
			"Get all customers from the BigCommerce store. Returns one page of customers.",
			&Paging{},
			func(ctx context.Context, args map[string]any) (bigcommerce.Result, error) {
				p, err := pageParams(args)
				if err != nil {
					return nil, err
				}
				return store.Customers(ctx, p), nil
			}),

		newTool("get_all_customer_metafields",
			"Get customer metafields. If customer_id is provided, get the metafields of that customer only.",
			&customerMetafieldsArgs{},
			func(ctx context.Context, args map[string]any) (bigcommerce.Result, error) {
				p, err := pageParams(args)
				if err != nil {
					return nil, err
				}
				id, err := optionalInt(args, "customer_id")
				if err != nil {
					return nil, err
				}
				return store.CustomerMetafields(ctx, id, p), nil
			}),

		newTool("get_customer_metafield_by_id",
			"Get a specific customer metafield by ID.",
			&customerMetafieldArgs{},
			func(ctx context.Context, args map[string]any) (bigcommerce.Result, error) {
				owner, mf, err := metafieldIDs(args, "customer_id")
				if err != nil {
					return nil, err
				}
				return store.CustomerMetafield(ctx, owner, mf), nil
			}),

		newTool("get_cart",
			"Get a shopping cart by ID, including its line items and checkout redirect URLs.",
			&cartArgs{},
			func(ctx context.Context, args map[string]any) (bigcommerce.Result, error) {
				id, err := requiredString(args, "cart_id")
				if err != nil {
					return nil, err
				}
				return store.Cart(ctx, id), nil
			}),

		newTool("create_cart",
			"Create a shopping cart holding the given line items.",
			&bigcommerce.CartRequest{},
			func(ctx context.Context, args map[string]any) (bigcommerce.Result, error) {
				var req bigcommerce.CartRequest
				if err := decodeArgs(args, &req); err != nil {
					return nil, err
				}
				if err := validateItems(req.LineItems); err != nil {
					return nil, err
				}
				return store.CreateCart(ctx, req), nil
			}),

		newTool("add_cart_items",
			"Add line items to an existing shopping cart.",
			&addCartItemsArgs{},
			func(ctx context.Context, args map[string]any) (bigcommerce.Result, error) {
				var req addCartItemsArgs
				if err := decodeArgs(args, &req); err != nil {
					return nil, err
				}
				if req.CartID == "" {
					return nil, errors.New("cart_id is required")
				}
				if err := validateItems(req.LineItems); err != nil {
					return nil, err
				}
				return store.AddCartItems(ctx, req.CartID, req.LineItems), nil
			}),
	}
}

func pageParams(args map[string]any) (bigcommerce.ListParams, error) {
	limit, err := optionalInt(args, "limit")
	if err != nil {
		return bigcommerce.ListParams{}, err
	}
	page, err := optionalInt(args, "page")
	if err != nil {
		return bigcommerce.ListParams{}, err
	}
	return bigcommerce.ListParams{Limit: limit, Page: page}, nil
}

func metafieldIDs(args map[string]any, ownerKey string) (owner, metafield int, err error) {
	if owner, err = requiredInt(args, ownerKey); err != nil {
		return 0, 0, err
	}
	if metafield, err = requiredInt(args, "metafield_id"); err != nil {
		return 0, 0, err
	}
	return owner, metafield, nil
}

// optionalInt returns args[key] as an int, or zero when it is absent
// or null.
func optionalInt(args map[string]any, key string) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func requiredInt(args map[string]any, key string) (int, error) {
	if v, ok := args[key]; !ok || v == nil {
		return 0, fmt.Errorf("%s is required", key)
	}
	return optionalInt(args, key)
}

func requiredString(args map[string]any, key string) (string, error) {
	s, err := cast.ToStringE(args[key])
	if err != nil {
		return "", fmt.Errorf("%s must be a string: %w", key, err)
	}
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

// decodeArgs maps structured arguments onto dst through JSON.
func decodeArgs(args map[string]any, dst any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func validateItems(items []bigcommerce.LineItem) error {
	if len(items) == 0 {
		return errors.New("line_items must not be empty")
	}
	for i, it := range items {
		if it.ProductID <= 0 {
			return fmt.Errorf("line_items[%d].product_id is required", i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("line_items[%d].quantity must be positive", i)
		}
	}
	return nil
}
