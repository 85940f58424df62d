package burger

import (
	"encoding/json"
	"fmt"
	"time"

	"burger-queue/pkg/job"

	"github.com/go-playground/validator/v10"
)

// Order is the payload of a burger job.
type Order struct {
	Bun         string   `json:"bun" validate:"required"`
	Cheese      string   `json:"cheese"`
	Toppings    []string `json:"toppings" validate:"max=10,dive,required"`
	OrderNumber int      `json:"orderNumber,omitempty" validate:"gte=0"`
}

var (
	buns     = []string{"🍞", "🥯", "🥐"}
	cheeses  = []string{"🧀", ""}
	toppings = [][]string{
		{"🥬", "🍅"},
		{"🥓", "🧅"},
		{"🥒", "🍄"},
		{"🥬", "🥓", "🍅"},
		{"🥚", "🧀"},
		{"🥬", "🥒", "🧅"},
		{"🥓", "🥚"},
		{"🍄", "🥬"},
		{"🥒", "🥓", "🥚"},
		{"🥬", "🍅", "🥓", "🥚"},
	}
)

var validate = validator.New()

// NewOrder builds the i-th order of a batch. Orders cycle through the
// bun, cheese and topping tables; numbering starts at 1.
func NewOrder(i int) Order {
	if i < 0 {
		i = -i
	}
	t := toppings[i%len(toppings)]
	return Order{
		Bun:         buns[i%len(buns)],
		Cheese:      cheeses[i%len(cheeses)],
		Toppings:    append([]string(nil), t...),
		OrderNumber: i + 1,
	}
}

// DefaultOrder is served when a request names no burger.
func DefaultOrder() Order {
	return Order{Bun: "🍞", Cheese: "🧀", Toppings: []string{"🥬", "🍅"}}
}

func (o Order) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", job.ErrInvalidPayload, err)
	}
	return nil
}

func (o Order) String() string {
	return fmt.Sprintf("%s %s %v", o.Bun, o.Cheese, o.Toppings)
}

// Decode reads an order from a job payload.
func Decode(payload json.RawMessage) (Order, error) {
	var o Order
	if err := json.Unmarshal(payload, &o); err != nil {
		return Order{}, fmt.Errorf("%w: %v", job.ErrInvalidPayload, err)
	}
	return o, nil
}

// BatchOptions are used for orders created in bulk.
func BatchOptions() job.Options {
	return job.Options{MaxAttempts: 2, Backoff: job.Fixed(5 * time.Second)}
}

// OrderOptions are used for orders placed one at a time.
func OrderOptions() job.Options {
	return job.Options{MaxAttempts: 3, Backoff: job.Exponential(time.Second)}
}
